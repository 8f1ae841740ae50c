package config

import "time"

// DefaultUserAgent mimics a current desktop Chrome; embed targets routinely
// reject clients that do not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultCSP allows wildcard network access for player sub-resources while
// keeping a structural CSP presence in every proxied document.
const DefaultCSP = "default-src 'self' *; script-src 'self' 'unsafe-inline' 'unsafe-eval' *; " +
	"style-src 'self' 'unsafe-inline' *; img-src 'self' data: *; media-src 'self' blob: *; " +
	"frame-src *; connect-src *"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:    "0.0.0.0",
			Port:  8080,
			Token: "your_token",
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled:   true,
			StaticDir: "./web",
		},
		Proxy: ProxyConfig{
			ClientRateLimit: RateLimitConfig{
				Driver: "memory",
				Window: Duration(time.Minute),
				Limit:  30,
			},
			TargetRateLimit: RateLimitConfig{
				Driver: "memory",
				Window: Duration(time.Minute),
				Limit:  10,
			},
			Cache: CacheConfig{
				Driver: "memory",
				TTL:    Duration(30 * time.Second),
			},
			Fetch: FetchConfig{
				Timeout:      Duration(10 * time.Second),
				MaxRedirects: 5,
				MaxBodySize:  5 << 20,
				UserAgent:    DefaultUserAgent,
			},
			Sanitizer: SanitizerConfig{
				CSP: DefaultCSP,
			},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Observability: ObservabilityConfig{
			Enabled: false,
		},
	}
}
