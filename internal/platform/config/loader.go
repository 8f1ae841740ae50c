package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from an optional YAML file layered over defaults.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader that reads from the default config path.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      "",
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the configuration file path (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges defaults, the YAML file and environment overrides, in that order.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment variables")
		}
	}

	path := l.path
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only; not an error so the server can run out of the box.
		path = ""
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Proxy.ClientRateLimit.Limit <= 0 || cfg.Proxy.ClientRateLimit.Window <= 0 {
		return fmt.Errorf("client rate limit must have positive limit and window")
	}
	if cfg.Proxy.TargetRateLimit.Limit <= 0 || cfg.Proxy.TargetRateLimit.Window <= 0 {
		return fmt.Errorf("target rate limit must have positive limit and window")
	}
	if cfg.Proxy.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if cfg.Proxy.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if cfg.Proxy.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch max_redirects must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redis := &RedisConfig{Addr: v}
		cfg.Proxy.Cache.Driver = "redis"
		cfg.Proxy.Cache.Redis = redis
		cfg.Proxy.TargetRateLimit.Driver = "redis"
		cfg.Proxy.TargetRateLimit.Redis = redis
		cfg.Proxy.ClientRateLimit.Driver = "redis"
		cfg.Proxy.ClientRateLimit.Redis = redis
	}
}
