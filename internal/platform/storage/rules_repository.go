package storage

import (
	"context"

	"gorm.io/gorm"

	"streamhive-server-go/internal/platform/errors"
)

// RulesRepository persists block rules and detection tokens.
type RulesRepository struct {
	db *gorm.DB
}

// NewRulesRepository creates a repository on the given database.
func NewRulesRepository(db *gorm.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

// ListBlockRules returns enabled block rules.
func (r *RulesRepository) ListBlockRules(ctx context.Context) ([]BlockRule, error) {
	var rules []BlockRule
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rules).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "rules.list_block_rules", "failed to list block rules", err)
	}
	return rules, nil
}

// CreateBlockRule stores a new rule. Duplicate patterns fail on the unique
// index.
func (r *RulesRepository) CreateBlockRule(ctx context.Context, rule *BlockRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.create_block_rule", "failed to create block rule", err)
	}
	return nil
}

// DeleteBlockRule removes a rule by id. Missing ids are not an error.
func (r *RulesRepository) DeleteBlockRule(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&BlockRule{}, id).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.delete_block_rule", "failed to delete block rule", err)
	}
	return nil
}

// ListDetectionTokens returns enabled detection tokens.
func (r *RulesRepository) ListDetectionTokens(ctx context.Context) ([]DetectionToken, error) {
	var tokens []DetectionToken
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&tokens).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "rules.list_detection_tokens", "failed to list detection tokens", err)
	}
	return tokens, nil
}

// CreateDetectionToken stores a new token.
func (r *RulesRepository) CreateDetectionToken(ctx context.Context, token *DetectionToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.create_detection_token", "failed to create detection token", err)
	}
	return nil
}

// DeleteDetectionToken removes a token by id.
func (r *RulesRepository) DeleteDetectionToken(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&DetectionToken{}, id).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.delete_detection_token", "failed to delete detection token", err)
	}
	return nil
}

// SeedDefaults inserts the built-in rules on an empty table so a fresh
// deployment blocks the known-bad hosts without operator action.
func (r *RulesRepository) SeedDefaults(ctx context.Context, patterns, tokens []string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&BlockRule{}).Count(&count).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.seed_defaults", "failed to count block rules", err)
	}
	if count == 0 {
		for _, p := range patterns {
			rule := BlockRule{Pattern: p, Description: "built-in", Enabled: true}
			if err := r.db.WithContext(ctx).Create(&rule).Error; err != nil {
				return errors.Wrap(errors.KindStorage, "rules.seed_defaults", "failed to seed block rule", err)
			}
		}
	}

	if err := r.db.WithContext(ctx).Model(&DetectionToken{}).Count(&count).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "rules.seed_defaults", "failed to count detection tokens", err)
	}
	if count == 0 {
		for _, t := range tokens {
			token := DetectionToken{Token: t, Description: "built-in", Enabled: true}
			if err := r.db.WithContext(ctx).Create(&token).Error; err != nil {
				return errors.Wrap(errors.KindStorage, "rules.seed_defaults", "failed to seed detection token", err)
			}
		}
	}
	return nil
}
