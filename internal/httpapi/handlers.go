package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vhlr/internal/auth"
	"vhlr/internal/cache"
	"vhlr/internal/probe"
	"vhlr/internal/reporting"
	"vhlr/pkg/logger"
	"vhlr/pkg/utils"

	"github.com/gin-gonic/gin"
)

const healthPingTimeout = 2 * time.Second

// defaultReportWindow is used when a report request names no range.
const defaultReportWindow = 24 * time.Hour

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Probes  *probe.Service
	Reports *reporting.Service
	// DB is the history database; nil when history lives in memory.
	DB  *sql.DB
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Healthz reports ok, or 503 when the history database does not answer.
func (h Handlers) Healthz(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, healthPingTimeout); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Probes ---

// Probe answers GET /v1/vhlr?dst=<number>[&message_id=..][&nocache=1].
func (h Handlers) Probe(c *gin.Context) {
	if h.Probes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "probe service not configured"})
		return
	}
	dst := c.Query("dst")
	if dst == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "dst required"})
		return
	}
	skip, err := optionalBool(c.Query("nocache"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "nocache must be a boolean"})
		return
	}
	clientID, _ := auth.ClientID(c.Request.Context())

	res, err := h.Probes.Probe(c.Request.Context(), probe.Request{
		Destination: dst,
		MessageID:   c.Query("message_id"),
		ClientID:    clientID,
		SkipCache:   skip,
	})
	if err != nil {
		h.probeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) probeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, probe.ErrInvalidDestination):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, probe.ErrTooManyProbes):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, probe.ErrShuttingDown):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "probe did not finish in time"})
	default:
		logger.FromGin(c).Error("probe failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "probe failed"})
	}
}

// --- Cache ---

func (h Handlers) CachedResult(c *gin.Context) {
	if h.Probes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "probe service not configured"})
		return
	}
	res, ok, err := h.Probes.Cached(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.probeError(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not cached"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) ForgetResult(c *gin.Context) {
	if h.Probes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "probe service not configured"})
		return
	}
	if err := h.Probes.Forget(c.Request.Context(), c.Param("number")); err != nil {
		if errors.Is(err, probe.ErrInvalidDestination) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("cache remove failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cache remove failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) CacheSize(c *gin.Context) {
	if h.Probes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "probe service not configured"})
		return
	}
	n, err := h.Probes.CacheSize(c.Request.Context())
	if errors.Is(err, cache.ErrCountUnsupported) {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("cache count failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cache count failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// --- Reports ---

// ProbeSummary answers GET /v1/admin/reports/probes?from=&to=&dst=&client_id=.
// from and to are RFC 3339; the default window is the last 24 hours.
func (h Handlers) ProbeSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}
	from := to.Add(-defaultReportWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}

	out, err := h.Reports.ProbeSummary(c.Request.Context(), reporting.ProbeSummaryRequest{
		Range:       reporting.TimeRange{From: from, To: to},
		Destination: c.Query("dst"),
		ClientID:    c.Query("client_id"),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("probe summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func optionalBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
