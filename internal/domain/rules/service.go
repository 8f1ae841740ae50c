package rules

import (
	"context"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"streamhive-server-go/internal/domain/eventbus"
	"streamhive-server-go/internal/platform/errors"
	"streamhive-server-go/internal/platform/logging"
	"streamhive-server-go/internal/platform/storage"
)

// Config controls which sources feed the active rule set.
type Config struct {
	// ExtraPatterns come from static configuration and are always active.
	ExtraPatterns []string
	// ExtraTokens come from static configuration and are always active.
	ExtraTokens []string
	// OverlayFile is an optional YAML file merged on top of the database
	// rules and hot-reloaded when it changes.
	OverlayFile string
}

// overlay is the on-disk shape of the overlay file.
type overlay struct {
	Patterns []string `yaml:"patterns"`
	Tokens   []string `yaml:"tokens"`
}

// Service owns the active blocklist patterns and detection tokens. It merges
// three sources: the database, static configuration, and the overlay file.
// Readers see an immutable snapshot swapped atomically on reload, so the
// request path takes only a read lock.
type Service struct {
	repo   *storage.RulesRepository
	logger *logging.Logger
	cfg    Config

	mu       sync.RWMutex
	patterns []*regexp.Regexp
	tokens   []string
}

// NewService creates a Service. repo may be nil when persistence is
// disabled; the configured and overlay rules still apply.
func NewService(repo *storage.RulesRepository, logger *logging.Logger, cfg Config) *Service {
	return &Service{repo: repo, logger: logger, cfg: cfg}
}

// Patterns returns the active compiled blocklist.
func (s *Service) Patterns() []*regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns
}

// Tokens returns the active detection tokens beyond the built-in set.
func (s *Service) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Reload rebuilds the active rule set from all sources and swaps it in.
// Invalid patterns are skipped with a warning rather than failing the whole
// reload, so one bad row cannot take the blocklist down.
func (s *Service) Reload(ctx context.Context, source string) error {
	const op = "rules.Reload"

	rawPatterns := append([]string(nil), s.cfg.ExtraPatterns...)
	rawTokens := append([]string(nil), s.cfg.ExtraTokens...)

	if s.repo != nil {
		dbRules, err := s.repo.ListBlockRules(ctx)
		if err != nil {
			return errors.Wrap(errors.KindStorage, op, "load block rules", err)
		}
		for _, r := range dbRules {
			rawPatterns = append(rawPatterns, r.Pattern)
		}

		dbTokens, err := s.repo.ListDetectionTokens(ctx)
		if err != nil {
			return errors.Wrap(errors.KindStorage, op, "load detection tokens", err)
		}
		for _, t := range dbTokens {
			rawTokens = append(rawTokens, t.Token)
		}
	}

	if s.cfg.OverlayFile != "" {
		ov, err := readOverlay(s.cfg.OverlayFile)
		if err != nil {
			s.logger.WarnTag("RULES", "overlay file unreadable, skipping", map[string]interface{}{
				"file":  s.cfg.OverlayFile,
				"error": err.Error(),
			})
		} else {
			rawPatterns = append(rawPatterns, ov.Patterns...)
			rawTokens = append(rawTokens, ov.Tokens...)
		}
	}

	patterns := make([]*regexp.Regexp, 0, len(rawPatterns))
	seen := make(map[string]struct{}, len(rawPatterns))
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		re, err := regexp.Compile(raw)
		if err != nil {
			s.logger.WarnTag("RULES", "invalid block pattern skipped", map[string]interface{}{
				"pattern": raw,
				"error":   err.Error(),
			})
			continue
		}
		patterns = append(patterns, re)
	}

	tokens := make([]string, 0, len(rawTokens))
	seenTok := make(map[string]struct{}, len(rawTokens))
	for _, raw := range rawTokens {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		if _, dup := seenTok[raw]; dup {
			continue
		}
		seenTok[raw] = struct{}{}
		tokens = append(tokens, raw)
	}

	s.mu.Lock()
	s.patterns = patterns
	s.tokens = tokens
	s.mu.Unlock()

	s.logger.InfoTag("RULES", "rule set loaded", map[string]interface{}{
		"source":   source,
		"patterns": len(patterns),
		"tokens":   len(tokens),
	})
	eventbus.PublishAsync(eventbus.EventRulesReloaded, eventbus.RulesEventData{
		Source:   source,
		Patterns: len(patterns),
		Tokens:   len(tokens),
	})
	return nil
}

func readOverlay(path string) (*overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ov overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// AddBlockRule persists a new pattern and refreshes the active set. The
// pattern must compile before anything is written.
func (s *Service) AddBlockRule(ctx context.Context, pattern, description string) (*storage.BlockRule, error) {
	const op = "rules.AddBlockRule"

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New(errors.KindValidate, op, "pattern must not be empty")
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, errors.Wrap(errors.KindValidate, op, "pattern does not compile", err)
	}
	if s.repo == nil {
		return nil, errors.New(errors.KindStorage, op, "rule persistence disabled")
	}

	rule := &storage.BlockRule{Pattern: pattern, Description: description, Enabled: true}
	if err := s.repo.CreateBlockRule(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx, "api"); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteBlockRule removes a persisted pattern and refreshes the active set.
func (s *Service) DeleteBlockRule(ctx context.Context, id uint) error {
	const op = "rules.DeleteBlockRule"
	if s.repo == nil {
		return errors.New(errors.KindStorage, op, "rule persistence disabled")
	}
	if err := s.repo.DeleteBlockRule(ctx, id); err != nil {
		return err
	}
	return s.Reload(ctx, "api")
}

// ListBlockRules returns the persisted rules.
func (s *Service) ListBlockRules(ctx context.Context) ([]storage.BlockRule, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListBlockRules(ctx)
}

// AddDetectionToken persists a new token and refreshes the active set.
func (s *Service) AddDetectionToken(ctx context.Context, token, description string) (*storage.DetectionToken, error) {
	const op = "rules.AddDetectionToken"

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New(errors.KindValidate, op, "token must not be empty")
	}
	if s.repo == nil {
		return nil, errors.New(errors.KindStorage, op, "rule persistence disabled")
	}

	row := &storage.DetectionToken{Token: token, Description: description, Enabled: true}
	if err := s.repo.CreateDetectionToken(ctx, row); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx, "api"); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteDetectionToken removes a persisted token and refreshes the active
// set.
func (s *Service) DeleteDetectionToken(ctx context.Context, id uint) error {
	const op = "rules.DeleteDetectionToken"
	if s.repo == nil {
		return errors.New(errors.KindStorage, op, "rule persistence disabled")
	}
	if err := s.repo.DeleteDetectionToken(ctx, id); err != nil {
		return err
	}
	return s.Reload(ctx, "api")
}

// ListDetectionTokens returns the persisted tokens.
func (s *Service) ListDetectionTokens(ctx context.Context) ([]storage.DetectionToken, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListDetectionTokens(ctx)
}
