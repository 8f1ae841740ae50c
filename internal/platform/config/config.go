package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use human-readable values
// like "30s" or "1m". Bare integers are read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Web           WebConfig           `yaml:"web"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP    string `yaml:"ip"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StaticDir string `yaml:"static_dir"`
}

// ProxyConfig groups every knob of the embed-proxy pipeline.
type ProxyConfig struct {
	ClientRateLimit RateLimitConfig `yaml:"client_rate_limit"`
	TargetRateLimit RateLimitConfig `yaml:"target_rate_limit"`
	Cache           CacheConfig     `yaml:"cache"`
	Fetch           FetchConfig     `yaml:"fetch"`
	Sanitizer       SanitizerConfig `yaml:"sanitizer"`
	Validator       ValidatorConfig `yaml:"validator"`
	Rules           RulesConfig     `yaml:"rules"`
}

type RateLimitConfig struct {
	Driver string        `yaml:"driver"`
	Window Duration      `yaml:"window"`
	Limit  int           `yaml:"limit"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
	Memory *MemoryConfig `yaml:"memory,omitempty"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"`
	TTL    Duration      `yaml:"ttl"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
	Memory *MemoryConfig `yaml:"memory,omitempty"`
}

type MemoryConfig struct {
	GCInterval Duration `yaml:"gc_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`
	MaxRedirects int      `yaml:"max_redirects"`
	MaxBodySize  int64    `yaml:"max_body_size"`
	UserAgent    string   `yaml:"user_agent"`
}

type SanitizerConfig struct {
	// CSP is the content of the injected Content-Security-Policy meta tag.
	CSP string `yaml:"csp"`
	// Tokens extends the built-in sandbox/fingerprint detection token list.
	Tokens []string `yaml:"tokens"`
}

type ValidatorConfig struct {
	// BlockedPatterns extends the (empty by default) blocked regexp list.
	BlockedPatterns []string `yaml:"blocked_patterns"`
}

type RulesConfig struct {
	// OverlayFile is an optional YAML file with extra patterns/tokens,
	// watched for changes and merged live into the rule set.
	OverlayFile string `yaml:"overlay_file"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}
