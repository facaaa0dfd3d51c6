// Package config provides configuration management for the Combined Lights server and client.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/bbernstein/combinedlights-go/internal/services/engine"
)

// Config holds all configuration values for the simulation server.
type Config struct {
	// Server configuration
	Port string `env:"PORT" envDefault:"8091"`
	Env  string `env:"ENV" envDefault:"development"`

	// Database configuration. The history log is kept in memory and does not
	// survive a restart.
	DatabaseURL string `env:"DATABASE_URL" envDefault:":memory:"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORS configuration
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`

	// Stage configuration
	StageRosterFile string    `env:"STAGE_ROSTER_FILE"`
	Breakpoints     []float64 `env:"BREAKPOINTS" envSeparator:"," envDefault:"30,60,85"`

	// History
	HistoryLimit    int `env:"HISTORY_LIMIT" envDefault:"50"`
	HistorySnapshot int `env:"HISTORY_SNAPSHOT" envDefault:"20"`

	// WebSocket hub
	WSSendBuffer int `env:"WS_SEND_BUFFER" envDefault:"32"`
}

// ClientConfig holds configuration for the terminal client.
type ClientConfig struct {
	// ServerURL is the page URL of the server; the WebSocket address is derived from it.
	ServerURL string `env:"STAGELIGHTS_URL" envDefault:"http://localhost:8091"`

	// Reconnect policy
	ReconnectInitial time.Duration `env:"RECONNECT_INITIAL" envDefault:"500ms"`
	ReconnectMax     time.Duration `env:"RECONNECT_MAX" envDefault:"10s"`

	// Chart sampling step across the global brightness domain
	ChartStep float64 `env:"CHART_STEP" envDefault:"5"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFile         string `env:"LOG_FILE"`
	StageRosterFile string `env:"STAGE_ROSTER_FILE"`
}

// Load loads server configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadClient loads client configuration from environment variables with sensible defaults.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if math.IsNaN(cfg.ChartStep) || math.IsInf(cfg.ChartStep, 0) || cfg.ChartStep < engine.MinStep {
		return nil, fmt.Errorf("CHART_STEP must be at least %v, got %v", engine.MinStep, cfg.ChartStep)
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
