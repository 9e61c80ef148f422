package adminapi

import (
	"net/http"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
)

// ListReplicationLinks returns link health history for a time window
func (s *Server) ListReplicationLinks(c echo.Context) error {
	from, to, err := parseWindow(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_WINDOW", err.Error(), nil)
	}
	db := s.appCtx.DB().Model(&domain.MonReplicationLink{}).
		Where("updated_at BETWEEN ? AND ?", from, to)
	if c.QueryParam("unhealthy") == "true" {
		db = db.Where("healthy = ?", false)
	}
	var links []domain.MonReplicationLink
	if err := db.Order("updated_at DESC").Find(&links).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query replication links", err.Error())
	}
	return ok(c, links)
}

// ForceSync triggers a fleet-wide replication sync and waits for
// convergence within the requested timeout
func (s *Server) ForceSync(c echo.Context) error {
	timeout := cast.ToDuration(c.QueryParam("timeout"))
	converged, pending, err := s.appCtx.ForceSyncAndWaitForConvergence(c.Request().Context(), timeout)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SYNC_FAILED", "Convergence wait failed", err.Error())
	}
	return ok(c, map[string]interface{}{
		"converged": converged,
		"pending":   pending,
		"checked":   time.Now(),
	})
}
