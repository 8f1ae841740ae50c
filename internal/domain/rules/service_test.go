package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"streamhive-server-go/internal/platform/errors"
	"streamhive-server-go/internal/platform/storage"
	platformtesting "streamhive-server-go/internal/platform/testing"
)

func newTestRepo(t *testing.T) *storage.RulesRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:rules-svc-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.BlockRule{}, &storage.DetectionToken{}))
	return storage.NewRulesRepository(db)
}

func TestReloadMergesAllSources(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	logger := platformtesting.SetupTestLogger(t)

	require.NoError(t, repo.CreateBlockRule(ctx, &storage.BlockRule{Pattern: `db-host\.example`, Enabled: true}))
	require.NoError(t, repo.CreateDetectionToken(ctx, &storage.DetectionToken{Token: "DbToken", Enabled: true}))

	overlayPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte("patterns:\n  - overlay-host\ntokens:\n  - overlaytoken\n"), 0644))

	svc := NewService(repo, logger, Config{
		ExtraPatterns: []string{`cfg-host`},
		ExtraTokens:   []string{"cfgtoken"},
		OverlayFile:   overlayPath,
	})
	require.NoError(t, svc.Reload(ctx, "seed"))

	patterns := svc.Patterns()
	require.Len(t, patterns, 3)
	var sources []string
	for _, p := range patterns {
		sources = append(sources, p.String())
	}
	assert.Contains(t, sources, `cfg-host`)
	assert.Contains(t, sources, `db-host\.example`)
	assert.Contains(t, sources, `overlay-host`)

	assert.ElementsMatch(t, []string{"cfgtoken", "dbtoken", "overlaytoken"}, svc.Tokens())
}

func TestReloadSkipsInvalidPatterns(t *testing.T) {
	ctx := context.Background()
	logger := platformtesting.SetupTestLogger(t)

	svc := NewService(nil, logger, Config{
		ExtraPatterns: []string{`valid-host`, `([unclosed`},
	})
	require.NoError(t, svc.Reload(ctx, "seed"))

	patterns := svc.Patterns()
	require.Len(t, patterns, 1)
	assert.Equal(t, `valid-host`, patterns[0].String())
}

func TestReloadDeduplicates(t *testing.T) {
	ctx := context.Background()
	logger := platformtesting.SetupTestLogger(t)

	svc := NewService(nil, logger, Config{
		ExtraPatterns: []string{"dup", "dup"},
		ExtraTokens:   []string{"Tok", "tok", " tok "},
	})
	require.NoError(t, svc.Reload(ctx, "seed"))

	assert.Len(t, svc.Patterns(), 1)
	assert.Equal(t, []string{"tok"}, svc.Tokens())
}

func TestAddBlockRuleValidatesPattern(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	logger := platformtesting.SetupTestLogger(t)
	svc := NewService(repo, logger, Config{})

	_, err := svc.AddBlockRule(ctx, "([bad", "broken")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidate))

	rule, err := svc.AddBlockRule(ctx, `bad-cdn\.example`, "serves miners")
	require.NoError(t, err)
	assert.NotZero(t, rule.ID)

	patterns := svc.Patterns()
	require.Len(t, patterns, 1)
	assert.Equal(t, `bad-cdn\.example`, patterns[0].String())

	require.NoError(t, svc.DeleteBlockRule(ctx, rule.ID))
	assert.Empty(t, svc.Patterns())
}

func TestDetectionTokenCRUDRefreshesActiveSet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	logger := platformtesting.SetupTestLogger(t)
	svc := NewService(repo, logger, Config{})

	row, err := svc.AddDetectionToken(ctx, "BotProbe", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"botprobe"}, svc.Tokens())

	require.NoError(t, svc.DeleteDetectionToken(ctx, row.ID))
	assert.Empty(t, svc.Tokens())
}

func TestWatchReloadsOnOverlayChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := platformtesting.SetupTestLogger(t)
	overlayPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte("patterns:\n  - first\n"), 0644))

	svc := NewService(nil, logger, Config{OverlayFile: overlayPath})
	require.NoError(t, svc.Reload(ctx, "seed"))
	require.Len(t, svc.Patterns(), 1)

	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(overlayPath, []byte("patterns:\n  - first\n  - second\n"), 0644))

	assert.Eventually(t, func() bool {
		return len(svc.Patterns()) == 2
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
