// Command server runs the web front-end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentchatui "github.com/MegaGrindStone/agent-chat-ui"
	"github.com/MegaGrindStone/agent-chat-ui/internal/app"
	"github.com/MegaGrindStone/agent-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/agent-chat-ui/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "path to the configuration file (default: user config dir)")
	flag.Parse()

	cfg, err := app.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error loading config: %w", err))
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating logger: %w", err))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.Coordinator.Load(loadCtx); err != nil {
		logger.Error("Failed to load chat histories", slog.String("err", err.Error()))
	}
	loadCancel()

	m, err := handlers.NewMain(a.Coordinator, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(agentchatui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("GET /state", m.HandleState)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("POST /chats/new", m.HandleNewChat)
	mux.HandleFunc("POST /chats/select", m.HandleSelectChat)
	mux.HandleFunc("POST /chats/delete", m.HandleDeleteChat)
	mux.HandleFunc("POST /mode", m.HandleMode)
	mux.HandleFunc("POST /abort", m.HandleAbort)
	mux.HandleFunc("POST /tools/toggle", m.HandleToggleTools)
	mux.HandleFunc("GET /sse", m.ServeSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
		if err := a.Close(); err != nil {
			logger.Error("Failed to close components", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("err", err.Error()))
		}
		if err := a.Close(); err != nil {
			logger.Error("Failed to close components", slog.String("err", err.Error()))
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
