package adminapi

import (
	"net/http"
	"strings"

	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/labstack/echo/v4"
)

// ListAlerts returns a paginated alert history for a time window
func (s *Server) ListAlerts(c echo.Context) error {
	from, to, err := parseWindow(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_WINDOW", err.Error(), nil)
	}
	page, pageSize := parsePagination(c)

	db := s.appCtx.DB().Model(&domain.MonAlert{}).
		Where("last_occurrence BETWEEN ? AND ?", from, to)
	if state := strings.TrimSpace(c.QueryParam("state")); state != "" {
		db = db.Where("state = ?", state)
	}
	if severity := strings.TrimSpace(c.QueryParam("severity")); severity != "" {
		db = db.Where("severity = ?", severity)
	}
	if node := strings.TrimSpace(c.QueryParam("node")); node != "" {
		db = db.Where("node_name = ?", node)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query alerts", err.Error())
	}
	var alerts []domain.MonAlert
	if err := db.Order("last_occurrence DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&alerts).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query alerts", err.Error())
	}
	return paged(c, alerts, total, page, pageSize)
}

// ListThreats returns threat indicators raised within a time window
func (s *Server) ListThreats(c echo.Context) error {
	from, to, err := parseWindow(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_WINDOW", err.Error(), nil)
	}
	page, pageSize := parsePagination(c)

	db := s.appCtx.DB().Model(&domain.MonThreatIndicator{}).
		Where("window_end BETWEEN ? AND ?", from, to)
	if typ := strings.TrimSpace(c.QueryParam("type")); typ != "" {
		db = db.Where("type = ?", typ)
	}
	if subject := strings.TrimSpace(c.QueryParam("subject")); subject != "" {
		db = db.Where("subject = ?", subject)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query threat indicators", err.Error())
	}
	var indicators []domain.MonThreatIndicator
	if err := db.Order("window_end DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&indicators).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query threat indicators", err.Error())
	}
	return paged(c, indicators, total, page, pageSize)
}
