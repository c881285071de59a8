package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grabctx-mcp-server/internal/browser"
	"grabctx-mcp-server/internal/config"
	"grabctx-mcp-server/internal/mangle"
	mcpserver "grabctx-mcp-server/internal/mcp"
	"grabctx-mcp-server/internal/recorder"
	"grabctx-mcp-server/internal/session"
	"grabctx-mcp-server/internal/sink"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the grabctx config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	target := flag.String("target", "", "Attach selection to this page target id instead of the first tab")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// stdout carries the MCP protocol in stdio mode
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}

	hotkey, err := session.HotkeyFromConfig(cfg.Selection.Hotkey)
	if err != nil {
		log.Fatalf("invalid hotkey: %v", err)
	}

	history, err := sink.NewHistory(cfg.Sinks.GetHistorySize())
	if err != nil {
		log.Fatalf("failed to initialize session history: %v", err)
	}
	observers := []session.Observer{history}
	var progress session.MultiProgress

	var engine *mangle.Engine
	if cfg.Mangle.Enable {
		engine, err = mangle.NewEngine(cfg.Mangle)
		if err != nil {
			log.Fatalf("failed to initialize mangle engine: %v", err)
		}
		observers = append(observers, engine)
	}

	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.Dir)
		if err != nil {
			log.Fatalf("failed to initialize recorder: %v", err)
		}
		if err := rec.Start(""); err != nil {
			log.Fatalf("failed to start recorder: %v", err)
		}
		defer rec.Close()
		observers = append(observers, rec)
		progress = append(progress, rec)
	}

	delivery, ws, err := buildSinks(cfg.Sinks)
	if err != nil {
		log.Fatalf("failed to initialize sinks: %v", err)
	}
	if ws != nil {
		addr, err := ws.Start(ctx, cfg.Sinks.WebSocket.Addr)
		if err != nil {
			log.Fatalf("failed to start websocket sink: %v", err)
		}
		log.Printf("websocket sink on %s", addr)
		defer ws.Close()
	}
	log.Printf("delivering sessions to %v", delivery.Names())

	sessions := browser.NewSessionManager(cfg.Browser)
	builder := stageBuilder{
		cfg:       cfg,
		sessions:  sessions,
		target:    *target,
		hotkey:    hotkey,
		sink:      delivery,
		progress:  progress,
		observers: observers,
	}
	selection := newPipeline(ctx, builder.build)
	defer func() {
		selection.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			log.Printf("browser shutdown: %v", err)
		}
	}()

	if cfg.Browser.AutoStart {
		if _, err := selection.ensure(); err != nil {
			log.Fatalf("failed to connect selection to the browser: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; the first selection or inspect call connects")
	}

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Selection: selection,
		History:   history,
		Engine:    engine,
		Inspector: selection,
		Finder:    selection,
		Pages:     sessions,
		Hotkey:    hotkey,
	})
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting grabctx MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting grabctx MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Printf("server exited with error: %v", startErr)
	}
}
