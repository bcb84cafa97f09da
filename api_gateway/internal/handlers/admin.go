package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/api_gateway/internal/ratelimit"
	"cryptofx/pkg/logging"
)

// Resetter clears a subject's counters. Implemented by *ratelimit.ResetBus.
type Resetter interface {
	Reset(ctx context.Context, subject string) (bool, error)
}

// AdminHandlers exposes rate limit inspection and key provisioning.
type AdminHandlers struct {
	limiter  *ratelimit.Limiter
	resetter Resetter
	keys     keystore.Provisioner
	registry *plans.Registry
	logger   logging.Logger
}

// NewAdminHandlers creates admin handlers.
func NewAdminHandlers(limiter *ratelimit.Limiter, resetter Resetter, keys keystore.Provisioner, registry *plans.Registry, logger logging.Logger) *AdminHandlers {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &AdminHandlers{
		limiter:  limiter,
		resetter: resetter,
		keys:     keys,
		registry: registry,
		logger:   logger,
	}
}

// Register mounts the admin routes on rg. Callers guard rg.
func (h *AdminHandlers) Register(rg *gin.RouterGroup) {
	rg.GET("/ratelimit/:subject", h.RateLimitInfo())
	rg.DELETE("/ratelimit/:subject", h.ResetRateLimit())
	rg.POST("/keys", h.CreateKey())
	rg.GET("/keys", h.ListKeys())
	rg.DELETE("/keys/:key", h.DeactivateKey())
}

// RateLimitInfo returns current counters for a subject.
func (h *AdminHandlers) RateLimitInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.Param("subject")
		usage, ok := h.limiter.Snapshot(subject)
		if !ok {
			fail(c, http.StatusNotFound, "No rate limit state for subject", map[string]any{"subject": subject})
			return
		}
		respond(c, http.StatusOK, usage, false, false)
	}
}

// ResetRateLimit clears a subject's counters on every instance.
func (h *AdminHandlers) ResetRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.Param("subject")
		existed, err := h.resetter.Reset(c.Request.Context(), subject)
		if err != nil {
			h.logger.WithError(err).WithField("subject", subject).Warn("Rate limit reset was not broadcast")
		}
		respond(c, http.StatusOK, gin.H{
			"subject":   subject,
			"reset":     existed,
			"broadcast": err == nil,
		}, false, false)
	}
}

type createKeyRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Plan      string `json:"plan"`
}

// CreateKey provisions a key for a subject.
func (h *AdminHandlers) CreateKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request", map[string]any{"reason": err.Error()})
			return
		}
		tier := strings.ToLower(strings.TrimSpace(req.Plan))
		if tier == "" {
			tier = string(plans.TierFree)
		}
		if !h.registry.Known(tier) {
			fail(c, http.StatusBadRequest, "Unknown plan", map[string]any{"plan": req.Plan})
			return
		}

		cred, err := h.keys.Create(c.Request.Context(), req.SubjectID, tier)
		if err != nil {
			h.logger.WithError(err).Error("Failed to create API key")
			fail(c, http.StatusInternalServerError, "Failed to create API key", nil)
			return
		}
		h.logger.WithFields(logging.Fields{
			"subject_id": cred.SubjectID,
			"plan":       cred.PlanTier,
			"key":        keystore.Masked(cred.Key),
		}).Info("Created API key")
		respond(c, http.StatusCreated, cred, false, false)
	}
}

// ListKeys lists the keys of ?subject_id with the keys masked.
func (h *AdminHandlers) ListKeys() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := c.Query("subject_id")
		if subjectID == "" {
			fail(c, http.StatusBadRequest, "subject_id is required", nil)
			return
		}
		creds, err := h.keys.ListBySubject(c.Request.Context(), subjectID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to list API keys")
			fail(c, http.StatusInternalServerError, "Failed to list API keys", nil)
			return
		}
		for i := range creds {
			creds[i].Key = keystore.Masked(creds[i].Key)
		}
		respond(c, http.StatusOK, creds, false, false)
	}
}

// DeactivateKey deactivates a key. Keys are never deleted.
func (h *AdminHandlers) DeactivateKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		err := h.keys.Deactivate(c.Request.Context(), key)
		if errors.Is(err, keystore.ErrNotFound) {
			fail(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		if err != nil {
			h.logger.WithError(err).Error("Failed to deactivate API key")
			fail(c, http.StatusInternalServerError, "Failed to deactivate API key", nil)
			return
		}
		h.logger.WithField("key", keystore.Masked(key)).Info("Deactivated API key")
		respond(c, http.StatusOK, gin.H{"key": keystore.Masked(key), "active": false}, false, false)
	}
}

// PlansHandler lists the plan table.
func PlansHandler(registry *plans.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, http.StatusOK, registry.Plans(), false, false)
	}
}
