// stagectl is a terminal client for the Combined Lights server.
//
// It previews the per-stage brightness locally while the slider moves, shows the lights the
// server reports, and keeps reconnecting while the server is away.
//
// Usage:
//
//	stagectl                         # connect to STAGELIGHTS_URL (default http://localhost:8091)
//	stagectl --url http://host:8091  # connect elsewhere
//	stagectl --version               # print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/bbernstein/combinedlights-go/internal/config"
	"github.com/bbernstein/combinedlights-go/internal/logging"
	"github.com/bbernstein/combinedlights-go/internal/services/app"
	"github.com/bbernstein/combinedlights-go/internal/services/clientstate"
	"github.com/bbernstein/combinedlights-go/internal/services/connection"
	"github.com/bbernstein/combinedlights-go/internal/services/pubsub"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

func main() {
	urlFlag := flag.String("url", "", "server URL (overrides STAGELIGHTS_URL)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("stagectl %s\n", Version)
		return
	}

	if err := run(*urlFlag); err != nil {
		fmt.Fprintf(os.Stderr, "stagectl: %v\n", err)
		os.Exit(1)
	}
}

func run(urlOverride string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if urlOverride != "" {
		cfg.ServerURL = urlOverride
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	wsURL, err := connection.WebSocketURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	roster, err := stage.LoadRoster(cfg.StageRosterFile)
	if err != nil {
		return err
	}
	stages, err := stage.NewStore(roster)
	if err != nil {
		return err
	}

	bus := pubsub.New()
	store := clientstate.NewStore(bus)
	ctrl := app.New(stages, store, bus, app.Options{
		ChartStep: cfg.ChartStep,
		Logger:    logger,
	})

	p := tea.NewProgram(newModel(ctrl), tea.WithAltScreen())

	mgr := connection.New(connection.Options{
		URL:          wsURL,
		InitialDelay: cfg.ReconnectInitial,
		MaxDelay:     cfg.ReconnectMax,
		Jitter:       0.2,
		OnState:      func(s connection.State) { p.Send(stateMsg(s)) },
		OnMessage:    func(m protocol.Message) { p.Send(serverMsg{msg: m}) },
		Logger:       logger.With("component", "connection"),
	})
	store.SetDispatcher(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connection manager stopped", "error", err)
		}
	}()
	go func() {
		_ = ctrl.Run(ctx, programRenderer{send: p.Send})
	}()

	logger.Info("stagectl starting", "url", wsURL)
	_, err = p.Run()
	return err
}

// newLogger logs to LOG_FILE, or nowhere; the terminal belongs to the UI.
func newLogger(cfg *config.ClientConfig) (*slog.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogFile == "" {
		return logging.New(io.Discard, level), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.New(f, level), func() { _ = f.Close() }, nil
}
