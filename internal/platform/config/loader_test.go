package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 8080
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
  log_file: "test.log"
proxy:
  cache:
    ttl: 45s
  target_rate_limit:
    limit: 5
    window: 30s
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader().WithDotEnv(false).WithPath(configFile)
	res, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := res.Config

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Proxy.Cache.TTL.Std() != 45*time.Second {
		t.Errorf("expected cache ttl 45s, got %s", cfg.Proxy.Cache.TTL.Std())
	}
	if cfg.Proxy.TargetRateLimit.Limit != 5 {
		t.Errorf("expected target limit 5, got %d", cfg.Proxy.TargetRateLimit.Limit)
	}
	// Untouched sections keep their defaults.
	if cfg.Proxy.ClientRateLimit.Limit != 30 {
		t.Errorf("expected default client limit 30, got %d", cfg.Proxy.ClientRateLimit.Limit)
	}
	if cfg.Proxy.Fetch.MaxRedirects != 5 {
		t.Errorf("expected default max redirects 5, got %d", cfg.Proxy.Fetch.MaxRedirects)
	}
}

func TestLoader_LoadMissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader().
		WithDotEnv(false).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml"))

	res, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if res.Config.Proxy.Cache.TTL.Std() != 30*time.Second {
		t.Errorf("expected default cache ttl, got %s", res.Config.Proxy.Cache.TTL.Std())
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero cache ttl",
			mutate:  func(c *Config) { c.Proxy.Cache.TTL = 0 },
			wantErr: true,
		},
		{
			name:    "zero target limit",
			mutate:  func(c *Config) { c.Proxy.TargetRateLimit.Limit = 0 },
			wantErr: true,
		},
		{
			name:    "zero fetch timeout",
			mutate:  func(c *Config) { c.Proxy.Fetch.Timeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
