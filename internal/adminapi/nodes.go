package adminapi

import (
	"net/http"
	"time"

	"github.com/dirsentry/dirsentry/pkg/metrics"
	"github.com/labstack/echo/v4"
	"github.com/montanaflynn/stats"
)

// ListNodes returns the live fleet state
func (s *Server) ListNodes(c echo.Context) error {
	return ok(c, s.appCtx.Nodes())
}

// CounterStats returns aggregate statistics over one node counter's
// stored samples for a time window
func (s *Server) CounterStats(c echo.Context) error {
	from, to, err := parseWindow(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_WINDOW", err.Error(), nil)
	}
	node := c.Param("name")
	counter := c.Param("counter")

	points, err := metrics.SelectNodeSamples(node, counter, from, to)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query samples", err.Error())
	}
	if len(points) == 0 {
		return ok(c, map[string]interface{}{"node": node, "counter": counter, "samples": 0})
	}

	values := make([]float64, 0, len(points))
	for _, p := range points {
		values = append(values, p.Value)
	}
	mean, _ := stats.Mean(values)
	p95, _ := stats.Percentile(values, 95)
	max, _ := stats.Max(values)
	min, _ := stats.Min(values)

	return ok(c, map[string]interface{}{
		"node":    node,
		"counter": counter,
		"samples": len(values),
		"mean":    mean,
		"p95":     p95,
		"max":     max,
		"min":     min,
		"first":   time.Unix(points[0].Timestamp, 0),
		"last":    time.Unix(points[len(points)-1].Timestamp, 0),
	})
}

// RunCycle triggers one monitoring cycle immediately
func (s *Server) RunCycle(c echo.Context) error {
	if err := s.appCtx.RunCycleNow(c.Request().Context()); err != nil {
		return fail(c, http.StatusInternalServerError, "CYCLE_FAILED", "Monitoring cycle failed", err.Error())
	}
	return ok(c, map[string]interface{}{"status": "completed"})
}
