package rulesapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"streamhive-server-go/internal/domain/rules"
	"streamhive-server-go/internal/platform/config"
	"streamhive-server-go/internal/platform/storage"
	platformtesting "streamhive-server-go/internal/platform/testing"
)

func newTestEngine(t *testing.T, mutate func(cfg *config.Config)) (*gin.Engine, *rules.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:rulesapi-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.BlockRule{}, &storage.DetectionToken{}))

	cfg := platformtesting.SetupTestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	logger := platformtesting.SetupTestLogger(t)

	rulesSvc := rules.NewService(storage.NewRulesRepository(db), logger, rules.Config{})
	require.NoError(t, rulesSvc.Reload(context.Background(), "seed"))

	svc, err := NewService(cfg, logger, rulesSvc)
	require.NoError(t, err)

	engine := gin.New()
	api := engine.Group("/api")
	require.NoError(t, svc.Register(context.Background(), api))
	return engine, rulesSvc
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCreateListDeletePattern(t *testing.T) {
	engine, rulesSvc := newTestEngine(t, nil)

	rec := doJSON(t, engine, http.MethodPost, "/api/proxy/rules",
		`{"type":"pattern","value":"bad-cdn\\.example","description":"miner"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The active validator set picks the rule up immediately.
	require.Len(t, rulesSvc.Patterns(), 1)

	rec = doJSON(t, engine, http.MethodGet, "/api/proxy/rules", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Patterns []storage.BlockRule      `json:"patterns"`
			Tokens   []storage.DetectionToken `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	require.Len(t, envelope.Data.Patterns, 1)
	assert.Equal(t, `bad-cdn\.example`, envelope.Data.Patterns[0].Pattern)

	id := envelope.Data.Patterns[0].ID
	rec = doJSON(t, engine, http.MethodDelete, fmt.Sprintf("/api/proxy/rules/pattern/%d", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rulesSvc.Patterns())
}

func TestCreateTokenRefreshesActiveSet(t *testing.T) {
	engine, rulesSvc := newTestEngine(t, nil)

	rec := doJSON(t, engine, http.MethodPost, "/api/proxy/rules",
		`{"type":"token","value":"BotProbe"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"botprobe"}, rulesSvc.Tokens())
}

func TestCreateRejectsInvalidPattern(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	rec := doJSON(t, engine, http.MethodPost, "/api/proxy/rules",
		`{"type":"pattern","value":"([bad"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRejectsUnknownType(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	rec := doJSON(t, engine, http.MethodPost, "/api/proxy/rules",
		`{"type":"hostname","value":"x"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesRequireToken(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Server.Token = "secret"
	})

	rec := doJSON(t, engine, http.MethodGet, "/api/proxy/rules", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/api/proxy/rules", "", map[string]string{"Token": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/api/proxy/rules", "",
		map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}
