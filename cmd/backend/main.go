// Command backend runs a development chat backend: a standard assistant and a group of agents answering
// through a configured language model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/backend"
	"github.com/MegaGrindStone/agent-chat-ui/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "backend.yaml", "path to the backend configuration file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	format := cfg.Logging.Format
	if format == "" {
		format = logging.FormatColor
	}
	logger, err := logging.New(cfg.Logging.Level, format, os.Stderr)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating logger: %w", err))
	}

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	b := backend.NewServer(llm, backend.Config{
		Assistant: cfg.Assistant,
		Agents:    cfg.Agents,
	}, logger)

	mux := http.NewServeMux()
	b.Register(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		agents := make([]string, len(cfg.Agents))
		for i, agent := range cfg.Agents {
			agents[i] = agent.Name
		}
		logger.Info("Backend starting", slog.String("addr", srv.Addr), slog.Any("agents", agents))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("err", err.Error()))
			os.Exit(1)
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
