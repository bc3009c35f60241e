package http

import (
	"errors"
	"net/http"
	"strings"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/internal/infrastructure/monitoring"
	apperrors "avbstream/pkg/errors"
	"avbstream/pkg/utils"
	"avbstream/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionHandler serves the read-only status API. The live session answers
// for its own ID; everything else comes from the repository.
type SessionHandler struct {
	repo     ports.SessionRepository
	live     ports.SessionService
	health   *monitoring.HealthChecker
	gatherer prometheus.Gatherer
}

var _ ports.HTTPHandler = (*SessionHandler)(nil)

func NewSessionHandler(
	repo ports.SessionRepository,
	live ports.SessionService,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *SessionHandler {
	return &SessionHandler{
		repo:     repo,
		live:     live,
		health:   health,
		gatherer: gatherer,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/counters", h.GetCounters)
	}

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	status, err := h.lookup(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": status})
}

// ListSessions accepts optional stream_id and role filters.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	streamID := c.Query("stream_id")
	if streamID != "" {
		if err := validation.ValidateStreamID(streamID); err != nil {
			_ = c.Error(apperrors.NewBadRequestError(err.Error()))
			return
		}
	}
	role := c.Query("role")
	if role != "" {
		if err := validation.ValidateRole(role); err != nil {
			_ = c.Error(apperrors.NewBadRequestError(err.Error()))
			return
		}
	}

	all, err := h.repo.List(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeUnavailable, "session store unavailable", http.StatusServiceUnavailable))
		return
	}

	var live *domain.SessionStatus
	if h.live != nil {
		live, _ = h.live.Status(c.Request.Context())
	}

	sessions := make([]*domain.SessionStatus, 0, len(all))
	for _, s := range all {
		if live != nil && s.ID == live.ID {
			s = live
			live = nil
		}
		if matches(s, streamID, role) {
			sessions = append(sessions, s)
		}
	}
	if live != nil && matches(live, streamID, role) {
		sessions = append(sessions, live)
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetCounters(c *gin.Context) {
	status, err := h.lookup(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": status.ID,
		"counters":   status.Counters,
		"drops":      status.Counters.Drops(),
	})
}

func (h *SessionHandler) Health(c *gin.Context) {
	respondHealth(c, h.health.CheckAll(c.Request.Context()))
}

func (h *SessionHandler) Ready(c *gin.Context) {
	respondHealth(c, h.health.CheckReady(c.Request.Context()))
}

func respondHealth(c *gin.Context, status monitoring.HealthStatus) {
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SessionHandler) lookup(c *gin.Context) (*domain.SessionStatus, error) {
	raw := c.Param("id")
	if !utils.IsValidID(raw) {
		return nil, apperrors.NewBadRequestError("invalid session ID").WithContext("id", utils.TruncateString(raw, 64))
	}
	id := domain.SessionID(raw)

	if h.live != nil {
		if st, err := h.live.Status(c.Request.Context()); err == nil && st.ID == id {
			return st, nil
		}
	}

	status, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, apperrors.NewNotFoundError("session").WithContext("id", raw)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeUnavailable, "session store unavailable", http.StatusServiceUnavailable)
	}
	return status, nil
}

func matches(s *domain.SessionStatus, streamID, role string) bool {
	if streamID != "" && !strings.EqualFold(s.StreamID, streamID) {
		return false
	}
	return role == "" || string(s.Role) == role
}
