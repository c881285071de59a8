package sink

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsQueueSize = 8
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsMessage is the frame pushed to subscribers.
type wsMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// WebSocket pushes every rendered session to connected clients. A client
// that connects late is sent the latest session straight away.
type WebSocket struct {
	path string

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	latest  string
	server  *http.Server
}

// NewWebSocket serves subscribers on path (default "/ws").
func NewWebSocket(path string) *WebSocket {
	if path == "" {
		path = "/ws"
	}
	return &WebSocket{path: path, clients: make(map[*wsClient]struct{})}
}

// Router mounts the subscription endpoint and a health probe.
func (w *WebSocket) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte("ok"))
	})
	r.Get(w.path, w.handle)
	return r
}

// Start listens on addr until ctx is done. It returns the bound address.
func (w *WebSocket) Start(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: w.Router(), ReadHeaderTimeout: 10 * time.Second}

	w.mu.Lock()
	w.server = srv
	w.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[sink:websocket] serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		w.Close()
	}()
	log.Printf("[sink:websocket] listening on %s%s", ln.Addr(), w.path)
	return ln.Addr().String(), nil
}

// Close disconnects every client and stops the server, if started.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	srv := w.server
	w.server = nil
	for c := range w.clients {
		close(c.send)
		delete(w.clients, c)
	}
	w.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Clients returns the number of connected subscribers.
func (w *WebSocket) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Deliver queues text for every client. Slow clients whose queue is full are
// dropped rather than holding up delivery.
func (w *WebSocket) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = text
	for c := range w.clients {
		select {
		case c.send <- wsMessage{Type: "session", Text: text}:
		default:
			log.Printf("[sink:websocket] dropping slow client %s", c.conn.RemoteAddr())
			close(c.send)
			delete(w.clients, c)
		}
	}
	return nil
}

func (w *WebSocket) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan wsMessage, wsQueueSize)}

	w.mu.Lock()
	w.clients[c] = struct{}{}
	c.send <- wsMessage{Type: "subscribed"}
	if w.latest != "" {
		c.send <- wsMessage{Type: "session", Text: w.latest}
	}
	w.mu.Unlock()

	go w.writeLoop(c)
	w.readLoop(c)
}

// readLoop only services control frames; it ends when the peer goes away.
func (w *WebSocket) readLoop(c *wsClient) {
	defer func() {
		w.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *WebSocket) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WebSocket) remove(c *wsClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.clients[c]; ok {
		close(c.send)
		delete(w.clients, c)
	}
}
