package config

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/vrischmann/envconfig"

	"github.com/jbweber/homelab/loft/internal/addrpool"
	"github.com/jbweber/homelab/loft/internal/datastore"
	"github.com/jbweber/homelab/loft/internal/domain"
)

// Config holds all configuration for the loft service
type Config struct {
	LogLevel  string `envconfig:"LOFT_LOG_LEVEL,default=info"`
	LogPretty bool   `envconfig:"LOFT_LOG_PRETTY,default=false"`

	ListenAddr string `envconfig:"LOFT_LISTEN_ADDR,default=:3000"`

	DatabaseDriver          string `envconfig:"LOFT_DATABASE_DRIVER,default=sqlite"`
	DatabaseURL             string `envconfig:"DATABASE_URL,default=~/loft/data/loft.db"`
	DatabaseConnectAttempts uint   `envconfig:"LOFT_DATABASE_CONNECT_ATTEMPTS,default=5"`

	// Empty selects the in-process store
	RedisURL string `envconfig:"REDIS_URL,optional"`

	ControllerEndpoint string        `envconfig:"VM_CONTROLLER_ENDPOINT"`
	ControllerTimeout  time.Duration `envconfig:"VM_CONTROLLER_TIMEOUT,default=30s"`

	NetworkCIDR      string `envconfig:"NETWORK_CIDR"`
	NetworkGateway   string `envconfig:"NETWORK_GATEWAY"`
	NetworkInterface string `envconfig:"NETWORK_INTERFACE,default=eth0"`

	PlansFile       string        `envconfig:"LOFT_PLANS_FILE,default=plans.json"`
	RegistrationTTL time.Duration `envconfig:"LOFT_REGISTRATION_TTL,default=1h"`
}

// LoadEnv loads a .env file from the working directory if one exists.
func LoadEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Load reads the configuration from the environment, after applying .env, and validates it.
func Load() (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case datastore.DriverSQLite, datastore.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("LOFT_DATABASE_DRIVER must be %q or %q, got %q", datastore.DriverSQLite, datastore.DriverPostgres, c.DatabaseDriver))
	}

	if _, err := addrpool.Prefix(c.NetworkCIDR); err != nil {
		errs = append(errs, fmt.Errorf("NETWORK_CIDR: %w", err))
	}
	if gw, err := netip.ParseAddr(c.NetworkGateway); err != nil || !gw.Is4() {
		errs = append(errs, fmt.Errorf("NETWORK_GATEWAY must be an IPv4 address, got %q", c.NetworkGateway))
	}
	if c.NetworkInterface == "" {
		errs = append(errs, errors.New("NETWORK_INTERFACE must not be empty"))
	}

	if u, err := url.Parse(c.ControllerEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("VM_CONTROLLER_ENDPOINT must be an http(s) URL, got %q", c.ControllerEndpoint))
	}
	if c.ControllerTimeout <= 0 {
		errs = append(errs, errors.New("VM_CONTROLLER_TIMEOUT must be positive"))
	}
	if c.RegistrationTTL <= 0 {
		errs = append(errs, errors.New("LOFT_REGISTRATION_TTL must be positive"))
	}

	return errors.Join(errs...)
}

// Network returns the addressing parameters for new servers.
func (c *Config) Network() domain.Network {
	return domain.Network{
		CIDR:      c.NetworkCIDR,
		Gateway:   c.NetworkGateway,
		Interface: c.NetworkInterface,
	}
}

// LoggerLevel maps LOFT_LOG_LEVEL to a zerolog level, defaulting to info.
func (c *Config) LoggerLevel() zerolog.Level {
	return loggerLevelFromString(c.LogLevel)
}

func loggerLevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	}
	return zerolog.InfoLevel
}

// InitializeDatabase opens the configured datastore, running migrations and
// applying connection tuning.
func (c *Config) InitializeDatabase(ctx context.Context) (*datastore.Datastore, error) {
	dsn := c.DatabaseURL
	if c.DatabaseDriver == datastore.DriverSQLite {
		dsn = c.expandPath(dsn)
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	ds, err := datastore.Open(ctx, c.DatabaseDriver, dsn, c.DatabaseConnectAttempts)
	if err != nil {
		return nil, err
	}

	OptimizeDatabaseConnection(ds.DB, ds.Driver)
	if ds.Driver == datastore.DriverSQLite {
		if err := ApplyPragmaOptimizations(ds.DB); err != nil {
			_ = ds.Close()
			return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
		}
	}
	return ds, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(homeDir, path[2:])
}
