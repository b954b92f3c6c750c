// Command chat is a terminal front-end: a line based conversation with the configured chat backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/app"
	"github.com/MegaGrindStone/agent-chat-ui/internal/config"
	"github.com/MegaGrindStone/agent-chat-ui/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "path to the configuration file (default: user config dir)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn or error (default: logging.level of the config)")
	logFormat := flag.String("log-format", "", "log format: text, json or color (default: logging.format of the config)")
	flag.Parse()

	cfg, err := app.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error loading config: %w", err))
	}

	logCfg := logSettings(cfg.Logging, *logLevel, *logFormat)
	logger, err := logging.New(logCfg.Level, logCfg.Format, os.Stderr)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating logger: %w", err))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loadCtx, loadCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.Coordinator.Load(loadCtx); err != nil {
		logger.Error("Failed to load chat histories", slog.String("err", err.Error()))
	}
	loadCancel()

	// Ctrl-C aborts a running request, or leaves when idle.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigs {
			if sig == os.Interrupt && a.Coordinator.State().IsLoading {
				a.Coordinator.AbortRequest()
				continue
			}
			cancel()
			return
		}
	}()

	if err := newREPL(a.Coordinator, os.Stdout, logger).run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		logger.Error("Input failed", slog.String("err", err.Error()))
	}
}

// logSettings applies the non-empty command line overrides to the logging section of the config.
func logSettings(cfg config.LoggingConfig, level, format string) config.LoggingConfig {
	if level != "" {
		cfg.Level = level
	}
	if format != "" {
		cfg.Format = format
	}
	return cfg
}
