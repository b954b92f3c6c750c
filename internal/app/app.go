// Package app assembles the front-end components from a configuration: the history store, the chat
// service and the conversation coordinator shared by the web and terminal front-ends.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	agentchatui "github.com/MegaGrindStone/agent-chat-ui"
	"github.com/MegaGrindStone/agent-chat-ui/internal/config"
	"github.com/MegaGrindStone/agent-chat-ui/internal/conversation"
	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
)

// App holds the assembled components.
type App struct {
	Config      *config.Config
	Chat        conversation.ChatService
	Store       conversation.HistoryStore
	Coordinator *conversation.Coordinator

	closers []func() error
	logger  *slog.Logger
}

const configFile = "config.yaml"

// LoadConfig loads the configuration at path. An empty path means config.yaml in the user's configuration
// directory. A missing file is created from the embedded default first.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, configFile)
	}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating config directory: %w", err)
		}
		if err := os.WriteFile(path, agentchatui.DefaultConfig, 0o600); err != nil {
			return nil, fmt.Errorf("error writing default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("error checking config file: %w", err)
	}

	return config.Load(path)
}

// New opens the history store and creates the chat service and the coordinator. The coordinator is not
// loaded yet.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		logger: logger,
	}

	switch cfg.History.Driver {
	case config.DriverMemory:
		a.Store = services.NewMemoryHistory()
	default:
		boltDB, err := services.NewBoltDB(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.Store = boltDB
		a.closers = append(a.closers, boltDB.Close)
	}

	switch cfg.Chat.Backend {
	case config.BackendSimulated:
		a.Chat = services.NewSimulatedChat(logger)
	default:
		style, err := models.ParseResponseStyle(cfg.Chat.ResponseStyle)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Chat = services.NewAPIChat(services.APIChatConfig{
			StandardURL:   cfg.Chat.StandardURL,
			MultiAgentURL: cfg.Chat.MultiAgentURL,
			ResponseStyle: style,
			Timeout:       cfg.Chat.Timeout,
			MaxEventSize:  cfg.Chat.MaxEventSize,
		}, &http.Client{}, logger)
	}

	a.Coordinator = conversation.New(a.Chat, a.Store, cfg.Mode(), logger)

	logger.Info("Components ready",
		slog.String("backend", cfg.Chat.Backend),
		slog.String("history", cfg.History.Driver),
		slog.String("mode", string(cfg.Mode())))

	return a, nil
}

// Close aborts a pending request and closes the history store.
func (a *App) Close() error {
	if a.Chat != nil {
		a.Chat.AbortRequest()
	}

	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
