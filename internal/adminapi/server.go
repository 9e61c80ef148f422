// Package adminapi exposes read access to accumulated alert, threat
// and replication history, plus immediate cycle/sync triggers.
// Rendering (HTML/CSV) is left to the consumer.
package adminapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dirsentry/dirsentry/internal/app"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	appCtx app.EngineContext
	echo   *echo.Echo
}

func NewServer(appCtx app.EngineContext) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	s := &Server{appCtx: appCtx, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api")
	api.GET("/nodes", s.ListNodes)
	api.GET("/nodes/:name/counters/:counter/stats", s.CounterStats)
	api.GET("/alerts", s.ListAlerts)
	api.GET("/threats", s.ListThreats)
	api.GET("/replication/links", s.ListReplicationLinks)
	api.POST("/replication/sync", s.ForceSync)
	api.POST("/cycle/run", s.RunCycle)
}

// Start serves the report API until the listener fails or is closed.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.appCtx.Config().Web.Host, s.appCtx.Config().Web.Port)
	zap.L().Info("report api listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown() {
	_ = s.echo.Close()
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"code": 0, "data": data})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{"code": code, "message": msg, "detail": detail})
}

func paged(c echo.Context, data interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":      0,
		"data":      data,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

// parseWindow reads the from/to query params; defaults to the last 24h.
func parseWindow(c echo.Context) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.Add(-24 * time.Hour)
	to := now
	if v := strings.TrimSpace(c.QueryParam("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}
	if v := strings.TrimSpace(c.QueryParam("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}
	return from, to, nil
}
