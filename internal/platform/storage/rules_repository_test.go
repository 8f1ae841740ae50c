package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rules-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&BlockRule{}, &DetectionToken{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestBlockRuleLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRulesRepository(newTestDB(t))

	rule := BlockRule{Pattern: `(^|\.)cryptominer\.example$`, Description: "miner host", Enabled: true}
	if err := repo.CreateBlockRule(ctx, &rule); err != nil {
		t.Fatalf("CreateBlockRule error: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("expected assigned ID")
	}

	rules, err := repo.ListBlockRules(ctx)
	if err != nil {
		t.Fatalf("ListBlockRules error: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != rule.Pattern {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	if err := repo.CreateBlockRule(ctx, &BlockRule{Pattern: rule.Pattern}); err == nil {
		t.Fatal("expected unique index violation for duplicate pattern")
	}

	if err := repo.DeleteBlockRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteBlockRule error: %v", err)
	}
	rules, err = repo.ListBlockRules(ctx)
	if err != nil {
		t.Fatalf("ListBlockRules error: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected empty list, got %+v", rules)
	}
}

func TestDisabledRulesExcludedFromList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRulesRepository(db)

	if err := repo.CreateBlockRule(ctx, &BlockRule{Pattern: "active", Enabled: true}); err != nil {
		t.Fatalf("CreateBlockRule error: %v", err)
	}
	disabled := BlockRule{Pattern: "disabled", Enabled: true}
	if err := repo.CreateBlockRule(ctx, &disabled); err != nil {
		t.Fatalf("CreateBlockRule error: %v", err)
	}
	if err := db.Model(&BlockRule{}).Where("id = ?", disabled.ID).Update("enabled", false).Error; err != nil {
		t.Fatalf("disable rule: %v", err)
	}

	rules, err := repo.ListBlockRules(ctx)
	if err != nil {
		t.Fatalf("ListBlockRules error: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != "active" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestDetectionTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRulesRepository(newTestDB(t))

	token := DetectionToken{Token: "botprobe", Enabled: true}
	if err := repo.CreateDetectionToken(ctx, &token); err != nil {
		t.Fatalf("CreateDetectionToken error: %v", err)
	}

	tokens, err := repo.ListDetectionTokens(ctx)
	if err != nil {
		t.Fatalf("ListDetectionTokens error: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Token != "botprobe" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	if err := repo.DeleteDetectionToken(ctx, token.ID); err != nil {
		t.Fatalf("DeleteDetectionToken error: %v", err)
	}
}

func TestSeedDefaultsOnlyOnEmptyTables(t *testing.T) {
	ctx := context.Background()
	repo := NewRulesRepository(newTestDB(t))

	if err := repo.SeedDefaults(ctx, []string{"pat-a", "pat-b"}, []string{"tok-a"}); err != nil {
		t.Fatalf("SeedDefaults error: %v", err)
	}
	rules, _ := repo.ListBlockRules(ctx)
	tokens, _ := repo.ListDetectionTokens(ctx)
	if len(rules) != 2 || len(tokens) != 1 {
		t.Fatalf("unexpected seed result: %d rules, %d tokens", len(rules), len(tokens))
	}

	// A second seed run must not duplicate anything.
	if err := repo.SeedDefaults(ctx, []string{"pat-c"}, []string{"tok-b"}); err != nil {
		t.Fatalf("SeedDefaults error: %v", err)
	}
	rules, _ = repo.ListBlockRules(ctx)
	tokens, _ = repo.ListDetectionTokens(ctx)
	if len(rules) != 2 || len(tokens) != 1 {
		t.Fatalf("seed ran on populated tables: %d rules, %d tokens", len(rules), len(tokens))
	}
}
