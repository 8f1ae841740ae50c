package eventbus

const (
	// Security events fire on rejected proxy requests.
	EventSecurityRejection   = "security:rejection"
	EventSecurityRateLimited = "security:ratelimited"

	// Cache events.
	EventCacheCleared = "cache:cleared"

	// Rules events fire when the blocklist or token set changes.
	EventRulesReloaded = "rules:reloaded"

	// System events.
	EventSystemError = "system:error"
	EventSystemInfo  = "system:info"
)

// SecurityEventData describes a request rejected for safety reasons.
type SecurityEventData struct {
	RequestID string `json:"request_id"`
	ClientIP  string `json:"client_ip"`
	TargetURL string `json:"target_url"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// RateLimitEventData describes an exhausted rate limit window.
type RateLimitEventData struct {
	RequestID  string `json:"request_id"`
	ClientIP   string `json:"client_ip"`
	Key        string `json:"key"`
	Scope      string `json:"scope"` // client or target
	RetryAfter int    `json:"retry_after_seconds"`
}

// RulesEventData describes a rules change.
type RulesEventData struct {
	Source   string `json:"source"` // api, overlay, seed
	Patterns int    `json:"patterns"`
	Tokens   int    `json:"tokens"`
}

// SystemEventData is the generic payload for system-level events.
type SystemEventData struct {
	Level   string      `json:"level"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
