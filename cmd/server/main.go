// Package main is the entry point for the Combined Lights simulation server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/bbernstein/combinedlights-go/internal/config"
	"github.com/bbernstein/combinedlights-go/internal/database"
	"github.com/bbernstein/combinedlights-go/internal/database/repositories"
	"github.com/bbernstein/combinedlights-go/internal/logging"
	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/hub"
	"github.com/bbernstein/combinedlights-go/internal/services/simulation"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// logName tags forwarded log lines.
const logName = "combined_lights"

var startedAt = time.Now()

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	base := logging.New(os.Stderr, level)
	if envErr != nil {
		base.Debug("no .env file found, using environment variables")
	}

	printBanner(cfg)

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment() && level == logging.LevelDebug,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = database.Close() }()

	simCfg, err := simulationConfig(cfg)
	if err != nil {
		return err
	}

	// The hub logs through the base handler; everything else is also forwarded to clients.
	sink := &hubSink{}
	forwarding := slog.New(hub.NewLogHandler(base.Handler(), sink, logName))
	slog.SetDefault(forwarding)

	coord, err := simulation.New(simCfg, simulation.Options{
		History:         repositories.NewHistoryRepository(db),
		HistoryLimit:    cfg.HistoryLimit,
		SnapshotHistory: cfg.HistorySnapshot,
		Logger:          forwarding.With("component", "simulation"),
	})
	if err != nil {
		return fmt.Errorf("failed to create simulation: %w", err)
	}

	wsHub := hub.New(coord, base.With("component", "hub"), hub.Config{SendBuf: cfg.WSSendBuffer})
	sink.h.Store(wsHub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go wsHub.Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, wsHub),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		base.Info("server listening", "addr", "http://localhost:"+cfg.Port, "ws", "ws://localhost:"+cfg.Port+"/ws")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	base.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	stop()
	<-wsHub.Done()

	base.Info("server stopped")
	return nil
}

// hubSink forwards to a hub that is created after the logger. Lines logged before then are
// dropped.
type hubSink struct {
	h atomic.Pointer[hub.Hub]
}

func (s *hubSink) BroadcastMessage(m protocol.Message) bool {
	h := s.h.Load()
	if h == nil {
		return false
	}
	return h.BroadcastMessage(m)
}

// simulationConfig resolves breakpoints and curves from the roster file, falling back to
// BREAKPOINTS with linear curves.
func simulationConfig(cfg *config.Config) (simulation.Config, error) {
	simCfg := simulation.DefaultConfig()
	if cfg.StageRosterFile == "" {
		if len(cfg.Breakpoints) > 0 {
			simCfg.Breakpoints = cfg.Breakpoints
		}
		return simCfg, nil
	}

	roster, err := stage.LoadRoster(cfg.StageRosterFile)
	if err != nil {
		return simCfg, err
	}
	simCfg.Breakpoints = stage.Breakpoints(roster)
	simCfg.Curves = make(map[int]curve.Kind, len(roster))
	for _, s := range roster {
		simCfg.Curves[s.ID] = s.Curve
	}
	return simCfg, nil
}

// newRouter builds the HTTP routes: /health and the /ws state socket.
func newRouter(cfg *config.Config, ws http.Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin, "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		Debug:            false,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", healthCheckHandler)
	router.Handle("/ws", ws)
	return router
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
}

// healthCheckHandler returns the server health status.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Uptime:    time.Since(startedAt).Truncate(time.Second).String(),
	})
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  Combined Lights Server")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Breakpoints: %v\n", cfg.Breakpoints)
	if cfg.StageRosterFile != "" {
		fmt.Printf("  Roster:      %s\n", cfg.StageRosterFile)
	}
	fmt.Println("============================================")
}
