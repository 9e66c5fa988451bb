package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("VM_CONTROLLER_ENDPOINT", "http://controller.local:8080")
	t.Setenv("NETWORK_CIDR", "10.0.0.0/24")
	t.Setenv("NETWORK_GATEWAY", "10.0.0.1")
}

func validConfig() *Config {
	return &Config{
		LogLevel:                "info",
		ListenAddr:              ":3000",
		DatabaseDriver:          "sqlite",
		DatabaseURL:             "~/loft/data/loft.db",
		DatabaseConnectAttempts: 1,
		ControllerEndpoint:      "http://controller.local:8080",
		ControllerTimeout:       30 * time.Second,
		NetworkCIDR:             "10.0.0.0/24",
		NetworkGateway:          "10.0.0.1",
		NetworkInterface:        "eth0",
		PlansFile:               "plans.json",
		RegistrationTTL:         time.Hour,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.ListenAddr != ":3000" {
		t.Errorf("Expected ListenAddr ':3000', got '%s'", cfg.ListenAddr)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("Expected DatabaseDriver 'sqlite', got '%s'", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL != "~/loft/data/loft.db" {
		t.Errorf("Expected DatabaseURL '~/loft/data/loft.db', got '%s'", cfg.DatabaseURL)
	}
	if cfg.ControllerTimeout != 30*time.Second {
		t.Errorf("Expected ControllerTimeout 30s, got %s", cfg.ControllerTimeout)
	}
	if cfg.NetworkInterface != "eth0" {
		t.Errorf("Expected NetworkInterface 'eth0', got '%s'", cfg.NetworkInterface)
	}
	if cfg.RegistrationTTL != time.Hour {
		t.Errorf("Expected RegistrationTTL 1h, got %s", cfg.RegistrationTTL)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected empty RedisURL, got '%s'", cfg.RedisURL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOFT_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("VM_CONTROLLER_TIMEOUT", "5s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NETWORK_INTERFACE", "ens3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Expected overridden ListenAddr, got '%s'", cfg.ListenAddr)
	}
	if cfg.ControllerTimeout != 5*time.Second {
		t.Errorf("Expected ControllerTimeout 5s, got %s", cfg.ControllerTimeout)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Expected RedisURL to be set, got '%s'", cfg.RedisURL)
	}

	network := cfg.Network()
	if network.CIDR != "10.0.0.0/24" || network.Gateway != "10.0.0.1" || network.Interface != "ens3" {
		t.Errorf("Unexpected network: %+v", network)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("NETWORK_CIDR", "10.0.0.0/24")
	t.Setenv("NETWORK_GATEWAY", "10.0.0.1")
	t.Setenv("VM_CONTROLLER_ENDPOINT", "")
	os.Unsetenv("VM_CONTROLLER_ENDPOINT")

	if _, err := Load(); err == nil {
		t.Error("Expected error when VM_CONTROLLER_ENDPOINT is missing")
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := map[string]func(*Config){
		"driver":   func(c *Config) { c.DatabaseDriver = "mysql" },
		"cidr":     func(c *Config) { c.NetworkCIDR = "10.0.0.0" },
		"gateway":  func(c *Config) { c.NetworkGateway = "gateway" },
		"endpoint": func(c *Config) { c.ControllerEndpoint = "controller.local" },
		"timeout":  func(c *Config) { c.ControllerTimeout = 0 },
		"ttl":      func(c *Config) { c.RegistrationTTL = -time.Second },
		"iface":    func(c *Config) { c.NetworkInterface = "" },
	}
	for name, mutate := range tests {
		cfg := validConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.NetworkCIDR = "bogus"
	cfg.ControllerEndpoint = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "NETWORK_CIDR") || !strings.Contains(err.Error(), "VM_CONTROLLER_ENDPOINT") {
		t.Errorf("Expected both problems in error, got %v", err)
	}
}

func TestLoggerLevelFromString(t *testing.T) {
	tests := map[string]zerolog.Level{
		"error":   zerolog.ErrorLevel,
		"WARN":    zerolog.WarnLevel,
		"info":    zerolog.InfoLevel,
		"Debug":   zerolog.DebugLevel,
		"trace":   zerolog.TraceLevel,
		"verbose": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := loggerLevelFromString(in); got != want {
			t.Errorf("loggerLevelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConfig_expandPath_WithTilde(t *testing.T) {
	config := validConfig()

	expanded := config.expandPath("~/test/path")

	if strings.HasPrefix(expanded, "~/") {
		t.Errorf("Expected path to be expanded, got '%s'", expanded)
	}
	if !strings.HasSuffix(expanded, "test/path") {
		t.Errorf("Expected expanded path to end with 'test/path', got '%s'", expanded)
	}
}

func TestConfig_expandPath_WithoutTilde(t *testing.T) {
	config := validConfig()

	for _, path := range []string{"/absolute/path", "relative/path"} {
		if expanded := config.expandPath(path); expanded != path {
			t.Errorf("Expected path to remain unchanged, got '%s'", expanded)
		}
	}
}

func TestConfig_InitializeDatabase_DirectoryCreation(t *testing.T) {
	config := validConfig()
	config.DatabaseURL = filepath.Join(t.TempDir(), "nested", "path", "loft.db")

	ds, err := config.InitializeDatabase(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer ds.Close()

	if _, err := os.Stat(filepath.Dir(config.DatabaseURL)); os.IsNotExist(err) {
		t.Errorf("Expected directory to be created: %s", filepath.Dir(config.DatabaseURL))
	}

	var fkEnabled bool
	if err := ds.DB.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if !fkEnabled {
		t.Error("Expected foreign keys to be enabled")
	}

	var mode string
	if err := ds.DB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Errorf("Failed to check journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL journal mode, got '%s'", mode)
	}
}

func TestConfig_InitializeDatabase_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	config := validConfig()
	config.DatabaseURL = filepath.Join(blocker, "sub", "loft.db")

	if _, err := config.InitializeDatabase(context.Background()); err == nil {
		t.Error("Expected error for a path under a regular file")
	}
}
