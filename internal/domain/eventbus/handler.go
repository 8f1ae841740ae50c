package eventbus

import (
	"streamhive-server-go/internal/platform/logging"
)

// SetupEventHandlers wires the default audit-log subscribers. Security
// rejections and rate limit hits end up in the structured log with the
// SECURITY tag so operators can grep one stream for abuse patterns.
func SetupEventHandlers(logger *logging.Logger) {
	SubscribeAsync(EventSecurityRejection, func(data SecurityEventData) {
		logger.ErrorTag("SECURITY", "embed request rejected", map[string]interface{}{
			"request_id": data.RequestID,
			"client_ip":  data.ClientIP,
			"target_url": data.TargetURL,
			"reason":     data.Reason,
			"message":    data.Message,
		})
	})

	SubscribeAsync(EventSecurityRateLimited, func(data RateLimitEventData) {
		logger.WarnTag("SECURITY", "rate limit exceeded", map[string]interface{}{
			"request_id":  data.RequestID,
			"client_ip":   data.ClientIP,
			"key":         data.Key,
			"scope":       data.Scope,
			"retry_after": data.RetryAfter,
		})
	})

	SubscribeAsync(EventCacheCleared, func(by string) {
		logger.InfoTag("CACHE", "cache cleared", map[string]interface{}{
			"cleared_by": by,
		})
	})

	SubscribeAsync(EventRulesReloaded, func(data RulesEventData) {
		logger.InfoTag("RULES", "rules reloaded", map[string]interface{}{
			"source":   data.Source,
			"patterns": data.Patterns,
			"tokens":   data.Tokens,
		})
	})
}
