package embedproxy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"streamhive-server-go/internal/domain/embed/cache"
	"streamhive-server-go/internal/domain/embed/fetch"
	"streamhive-server-go/internal/domain/embed/ratelimit"
	"streamhive-server-go/internal/domain/embed/sanitize"
	"streamhive-server-go/internal/domain/embed/validate"
	"streamhive-server-go/internal/domain/eventbus"
	"streamhive-server-go/internal/platform/config"
	"streamhive-server-go/internal/platform/errors"
	"streamhive-server-go/internal/platform/logging"
	"streamhive-server-go/internal/platform/observability"
)

const (
	codeClientRateLimited = "CLIENT_RATE_LIMITED"
	codeTargetRateLimited = "TARGET_RATE_LIMITED"
)

// Deps are the pipeline stages the service sequences. All of them are
// required except Sanitizer tokens, which default internally.
type Deps struct {
	Validator     *validate.Validator
	ClientLimiter ratelimit.Store
	TargetLimiter ratelimit.Store
	Cache         cache.Store
	Fetcher       *fetch.Fetcher
	Sanitizer     *sanitize.Sanitizer
}

// Service is the embed proxy HTTP transport. It owns request sequencing and
// status mapping; all domain behavior lives in the injected stages.
type Service struct {
	logger *logging.Logger
	config *config.Config
	deps   Deps

	// group collapses concurrent misses for the same URL into one upstream
	// fetch.
	group singleflight.Group

	startedAt time.Time
}

// NewService creates the proxy transport service.
func NewService(cfg *config.Config, logger *logging.Logger, deps Deps) (*Service, error) {
	const op = "embedproxy.NewService"
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, op, "config is required")
	}
	if logger == nil {
		return nil, errors.New(errors.KindConfig, op, "logger is required")
	}
	if deps.Validator == nil || deps.ClientLimiter == nil || deps.TargetLimiter == nil ||
		deps.Cache == nil || deps.Fetcher == nil || deps.Sanitizer == nil {
		return nil, errors.New(errors.KindConfig, op, "all pipeline stages are required")
	}

	return &Service{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		startedAt: time.Now(),
	}, nil
}

// Register mounts the proxy routes on the given group.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	proxy := router.Group("/proxy")
	proxy.GET("/embed", s.handleEmbed)
	proxy.GET("/embed/cache/stats", s.handleCacheStats)
	proxy.GET("/health", s.handleHealth)

	secured := proxy.Group("")
	secured.Use(s.authMiddleware())
	secured.DELETE("/embed/cache", s.handleCacheClear)

	s.logger.InfoTag("HTTP", "embed proxy routes registered")
	return nil
}

// authMiddleware guards the admin endpoints with the configured server
// token. An empty configured token leaves the endpoints open, which is only
// acceptable for local development.
func (s *Service) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.config.Server.Token
		if token == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("Token")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if provided != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// handleEmbed runs the full proxy pipeline: validate, rate limit, cache,
// fetch, sanitize, cache store.
func (s *Service) handleEmbed(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := uuid.NewString()
	clientIP := c.ClientIP()

	rawURL := c.Query("url")
	if rawURL == "" {
		s.logger.WarnTag("PROXY", "missing url parameter", map[string]interface{}{
			"request_id": requestID,
			"client_ip":  clientIP,
		})
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing url parameter",
			"code":  string(validate.ReasonMalformedURL),
		})
		return
	}

	result := s.deps.Validator.Validate(rawURL)
	if !result.Allowed {
		s.rejectValidation(c, requestID, clientIP, rawURL, result)
		return
	}

	if !s.allow(c, s.deps.ClientLimiter, "client:"+clientIP, requestID, clientIP, "client") {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Rate limit exceeded. Please slow down.",
			"code":  codeClientRateLimited,
		})
		return
	}

	hostname := result.URL.Hostname()
	if !s.allow(c, s.deps.TargetLimiter, "target:"+hostname, requestID, clientIP, "target") {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Target domain rate limit exceeded",
			"code":  codeTargetRateLimited,
		})
		return
	}

	if html, ok, err := s.deps.Cache.Get(ctx, rawURL); err != nil {
		s.logger.WarnTag("CACHE", "cache lookup failed", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	} else if ok {
		s.logger.DebugTag("PROXY", "cache hit", map[string]interface{}{
			"request_id": requestID,
			"target":     hostname,
		})
		observability.RecordMetric(ctx, "proxy.cache.hit", 1, map[string]string{"target": hostname})
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}

	html, err := s.fetchAndSanitize(ctx, rawURL, requestID, hostname)
	if err != nil {
		s.logger.ErrorTag("FETCH", "embed fetch failed", map[string]interface{}{
			"request_id": requestID,
			"target":     hostname,
			"url":        rawURL,
			"error":      err.Error(),
		})
		observability.RecordMetric(ctx, "proxy.fetch.failure", 1, map[string]string{"target": hostname})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch embed",
			"message": errors.Message(err),
		})
		return
	}

	maxAge := int(s.config.Proxy.Cache.TTL.Std() / time.Second)
	c.Header("X-Cache", "MISS")
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// fetchAndSanitize is the miss path. Concurrent misses for the same URL share
// one fetch; the cache only ever receives sanitizer output.
func (s *Service) fetchAndSanitize(ctx context.Context, rawURL, requestID, hostname string) (string, error) {
	v, err, shared := s.group.Do(rawURL, func() (interface{}, error) {
		fetched, err := s.deps.Fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}

		sanitized, report, err := s.sanitizeSafe(fetched.Body)
		if err != nil {
			return nil, err
		}

		s.logger.InfoTag("SANITIZE", "embed sanitized", map[string]interface{}{
			"request_id":     requestID,
			"target":         hostname,
			"original_size":  report.OriginalSize,
			"sanitized_size": report.SanitizedSize,
			"reduction_pct":  fmt.Sprintf("%.1f", report.ReductionPct),
		})

		if err := s.deps.Cache.Set(ctx, rawURL, sanitized); err != nil {
			s.logger.WarnTag("CACHE", "cache store failed", map[string]interface{}{
				"request_id": requestID,
				"error":      err.Error(),
			})
		}
		return sanitized, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger.DebugTag("PROXY", "fetch shared with concurrent request", map[string]interface{}{
			"request_id": requestID,
			"target":     hostname,
		})
	}
	return v.(string), nil
}

// sanitizeSafe shields the pipeline from sanitizer panics. The document is
// attacker-supplied, so a parser edge case must degrade to a 500, not take
// the process down.
func (s *Service) sanitizeSafe(body string) (out string, report sanitize.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.KindSanitize, "embedproxy.sanitizeSafe",
				fmt.Sprintf("sanitizer panic: %v", r))
		}
	}()
	out, report = s.deps.Sanitizer.Sanitize(body)
	return out, report, nil
}

// allow consults a rate limit store. Store failures fail open with a warning
// so a dead redis does not turn into a full outage.
func (s *Service) allow(c *gin.Context, store ratelimit.Store, key, requestID, clientIP, scope string) bool {
	decision, err := store.Allow(c.Request.Context(), key)
	if err != nil {
		s.logger.WarnTag("RATELIMIT", "limiter unavailable, allowing request", map[string]interface{}{
			"request_id": requestID,
			"key":        key,
			"error":      err.Error(),
		})
		return true
	}
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))

	s.logger.WarnTag("RATELIMIT", "rate limit exceeded", map[string]interface{}{
		"request_id":  requestID,
		"client_ip":   clientIP,
		"key":         key,
		"scope":       scope,
		"retry_after": retryAfter,
	})
	eventbus.PublishAsync(eventbus.EventSecurityRateLimited, eventbus.RateLimitEventData{
		RequestID:  requestID,
		ClientIP:   clientIP,
		Key:        key,
		Scope:      scope,
		RetryAfter: retryAfter,
	})
	return false
}

// rejectValidation maps a validator rejection to its HTTP response and log
// severity. Probing-class reasons go to the error log and the security
// event stream.
func (s *Service) rejectValidation(c *gin.Context, requestID, clientIP, rawURL string, result validate.Result) {
	fields := map[string]interface{}{
		"request_id": requestID,
		"client_ip":  clientIP,
		"url":        rawURL,
		"reason":     string(result.Reason),
	}
	if result.SecuritySensitive() {
		s.logger.ErrorTag("SECURITY", "blocked embed target", fields)
		eventbus.PublishAsync(eventbus.EventSecurityRejection, eventbus.SecurityEventData{
			RequestID: requestID,
			ClientIP:  clientIP,
			TargetURL: rawURL,
			Reason:    string(result.Reason),
			Message:   result.Message,
		})
	} else {
		s.logger.WarnTag("PROXY", "invalid embed url", fields)
	}

	c.JSON(result.HTTPStatus(), gin.H{
		"error": result.Message,
		"code":  string(result.Reason),
	})
}

// handleCacheStats exposes the raw cache counters.
func (s *Service) handleCacheStats(c *gin.Context) {
	stats, err := s.deps.Cache.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read cache stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleCacheClear empties the response cache.
func (s *Service) handleCacheClear(c *gin.Context) {
	if err := s.deps.Cache.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	eventbus.PublishAsync(eventbus.EventCacheCleared, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache cleared",
	})
}
