package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the simulation host.
type Server struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// Static definitions; empty means the embedded default data set.
	DataPath string `yaml:"data_path"`

	// Tick loop
	TickInterval time.Duration `yaml:"tick_interval"`
	TickWorkers  int           `yaml:"tick_workers"` // 0 = GOMAXPROCS

	// Demo actors spawned on start when nothing was restored
	Actors int `yaml:"actors"`

	// StackNone re-application: "refresh" resets the duration, "ignore" does nothing
	NoneStacking string `yaml:"none_stacking"`

	// Persistence
	Database         DatabaseConfig `yaml:"database"`
	SnapshotInterval time.Duration  `yaml:"snapshot_interval"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		LogLevel:         "info",
		TickInterval:     50 * time.Millisecond,
		Actors:           4,
		NoneStacking:     "refresh",
		SnapshotInterval: 30 * time.Second,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "lux",
			Password: "lux",
			DBName:   "lux",
			SSLMode:  "disable",
		},
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the host cannot run with.
func (s Server) Validate() error {
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", s.TickInterval)
	}
	if s.TickWorkers < 0 {
		return fmt.Errorf("tick_workers must not be negative, got %d", s.TickWorkers)
	}
	if s.Actors < 0 {
		return fmt.Errorf("actors must not be negative, got %d", s.Actors)
	}
	switch s.NoneStacking {
	case "refresh", "ignore":
	default:
		return fmt.Errorf("none_stacking must be refresh or ignore, got %q", s.NoneStacking)
	}
	if s.Database.Enabled && s.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive with database enabled, got %s", s.SnapshotInterval)
	}
	return nil
}
