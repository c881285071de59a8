package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"grabctx-mcp-server/internal/browser"
	"grabctx-mcp-server/internal/bundle"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/mangle"
	"grabctx-mcp-server/internal/page"
	"grabctx-mcp-server/internal/session"
	"grabctx-mcp-server/internal/sink"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Selection is the controller surface the tools drive.
type Selection interface {
	State() session.State
	Selected() []page.Ref
	Start() error
	Cancel() error
	SetInstruction(text string)
	Finalize(ctx context.Context) (*bundle.SelectionSession, error)
	Redeliver(ctx context.Context) error
	LastSession() (*bundle.SelectionSession, string, bool)
}

// ElementInspector captures one element on demand.
type ElementInspector interface {
	Inspect(ctx context.Context, ref page.Ref) (*bundle.ElementContext, error)
}

// ElementFinder resolves a CSS selector on the active page.
type ElementFinder interface {
	Find(ctx context.Context, selector string) (page.Ref, error)
}

// PageLister lists the browser's tabs.
type PageLister interface {
	Pages(ctx context.Context) ([]browser.PageInfo, error)
}

// Deps are the collaborators exposed over MCP. Selection and History are
// required; tools backed by a nil dependency are not registered.
type Deps struct {
	Selection Selection
	History   *sink.History
	Engine    *mangle.Engine
	Inspector ElementInspector
	Finder    ElementFinder
	Pages     PageLister
	// Hotkey is shown in tool output so agents can tell the user what to press.
	Hotkey *session.HotkeySpec
}

// Server wires the MCP runtime to the selection pipeline.
type Server struct {
	cfg       config.Config
	deps      Deps
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the grabctx MCP server and registers all tools.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Selection == nil {
		return nil, errors.New("mcp: selection controller is required")
	}
	if deps.History == nil {
		return nil, errors.New("mcp: session history is required")
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves MCP over stdio until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Router mounts the SSE endpoints plus a health probe.
func (s *Server) Router(port int) http.Handler {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/sse", sseServer.SSEHandler())
	r.Handle("/message", sseServer.MessageHandler())
	return r
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Router(port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("[mcp] SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	d := s.deps

	// Selection lifecycle
	s.registerTool(&StartSelectionTool{selection: d.Selection, hotkey: d.Hotkey})
	s.registerTool(&CancelSelectionTool{selection: d.Selection})
	s.registerTool(&SelectionStatusTool{selection: d.Selection})
	s.registerTool(&SetInstructionTool{selection: d.Selection})
	s.registerTool(&FinalizeSelectionTool{selection: d.Selection})
	s.registerTool(&RedeliverTool{selection: d.Selection})

	// Captured sessions
	s.registerTool(&GetSelectionTool{history: d.History})
	s.registerTool(&ListSelectionsTool{history: d.History})

	if d.Inspector != nil && d.Finder != nil {
		s.registerTool(&InspectElementTool{finder: d.Finder, inspector: d.Inspector})
	}
	if d.Pages != nil {
		s.registerTool(&ListPagesTool{pages: d.Pages})
	}

	if d.Engine != nil && d.Engine.Ready() {
		s.registerTool(&QueryFactsTool{engine: d.Engine})
		s.registerTool(&EvaluatePredicateTool{engine: d.Engine})
		s.registerTool(&SubmitRuleTool{engine: d.Engine})
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		// Rendered prompts go out verbatim so agents can paste them.
		if text, ok := result.(string); ok {
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
