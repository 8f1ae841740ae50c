package rulesapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"streamhive-server-go/internal/domain/rules"
	"streamhive-server-go/internal/platform/config"
	"streamhive-server-go/internal/platform/errors"
	"streamhive-server-go/internal/platform/logging"
	httptransport "streamhive-server-go/internal/transport/http"
)

// Service exposes operator CRUD for block rules and detection tokens.
type Service struct {
	logger *logging.Logger
	config *config.Config
	rules  *rules.Service
}

// NewService creates the rules API transport.
func NewService(cfg *config.Config, logger *logging.Logger, svc *rules.Service) (*Service, error) {
	const op = "rulesapi.NewService"
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, op, "config is required")
	}
	if logger == nil {
		return nil, errors.New(errors.KindConfig, op, "logger is required")
	}
	if svc == nil {
		return nil, errors.New(errors.KindConfig, op, "rules service is required")
	}
	return &Service{logger: logger, config: cfg, rules: svc}, nil
}

// Register mounts the rules routes. Everything here mutates or reads the
// operator rule set, so the whole group sits behind token auth.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	group := router.Group("/proxy/rules")
	group.Use(s.authMiddleware())

	group.GET("", s.handleList)
	group.POST("", s.handleCreate)
	group.DELETE("/:type/:id", s.handleDelete)

	s.logger.InfoTag("HTTP", "rules routes registered")
	return nil
}

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

func (s *Service) handleList(c *gin.Context) {
	ctx := c.Request.Context()

	patterns, err := s.rules.ListBlockRules(ctx)
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "Failed to list block rules", nil)
		return
	}
	tokens, err := s.rules.ListDetectionTokens(ctx)
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "Failed to list detection tokens", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"patterns": patterns,
		"tokens":   tokens,
	}, "")
}

type createRequest struct {
	Type        string `json:"type" binding:"required"`
	Value       string `json:"value" binding:"required"`
	Description string `json:"description"`
}

func (s *Service) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "type and value are required", nil)
		return
	}

	ctx := c.Request.Context()
	switch req.Type {
	case "pattern":
		rule, err := s.rules.AddBlockRule(ctx, req.Value, req.Description)
		if err != nil {
			s.respondRuleError(c, err)
			return
		}
		httptransport.RespondSuccess(c, http.StatusCreated, rule, "block rule created")
	case "token":
		row, err := s.rules.AddDetectionToken(ctx, req.Value, req.Description)
		if err != nil {
			s.respondRuleError(c, err)
			return
		}
		httptransport.RespondSuccess(c, http.StatusCreated, row, "detection token created")
	default:
		httptransport.RespondError(c, http.StatusBadRequest, "type must be pattern or token", nil)
	}
}

func (s *Service) handleDelete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	ctx := c.Request.Context()
	switch c.Param("type") {
	case "pattern":
		if err := s.rules.DeleteBlockRule(ctx, uint(id)); err != nil {
			s.respondRuleError(c, err)
			return
		}
	case "token":
		if err := s.rules.DeleteDetectionToken(ctx, uint(id)); err != nil {
			s.respondRuleError(c, err)
			return
		}
	default:
		httptransport.RespondError(c, http.StatusBadRequest, "type must be pattern or token", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, nil, "deleted")
}

func (s *Service) respondRuleError(c *gin.Context, err error) {
	if errors.IsKind(err, errors.KindValidate) {
		httptransport.RespondError(c, http.StatusBadRequest, errors.Message(err), nil)
		return
	}
	s.logger.ErrorTag("RULES", "rules operation failed", map[string]interface{}{
		"error": err.Error(),
	})
	httptransport.RespondError(c, http.StatusInternalServerError, "rules operation failed", nil)
}
