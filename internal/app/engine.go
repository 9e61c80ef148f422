package app

import (
	"context"
	"time"

	"github.com/dirsentry/dirsentry/internal/collector"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/dirsentry/dirsentry/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunCycleNow executes one monitoring cycle: concurrent fan-out over
// all nodes, fan-in into a snapshot, then the four evaluators over
// disjoint slices of it. Overlapping invocations are skipped so each
// cycle's snapshot is processed to completion before the next starts.
func (a *Application) RunCycleNow(ctx context.Context) error {
	select {
	case a.cycleRunning <- struct{}{}:
	default:
		zap.L().Warn("monitoring cycle still running, skipping trigger")
		return nil
	}
	defer func() { <-a.cycleRunning }()

	start := time.Now()
	snap, err := a.collector.CollectAll(ctx)
	if err != nil {
		// aborted cycle: partial results are discarded, never merged
		zap.L().Warn("monitoring cycle aborted", zap.Error(err))
		return err
	}

	nodeNames := make(map[int64]string)
	for _, n := range a.collector.Nodes() {
		nodeNames[n.ID] = n.Name
	}
	a.recordCycleMetrics(snap)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// auth failures surface as high-severity alerts before the
		// threshold pass; both run on the same goroutine since the
		// engine applies breaches in arrival order per key
		for name, res := range snap.Results {
			if res.Err != nil && errors.Is(res.Err, collector.ErrAuthentication) {
				a.alertEngine.RaiseOperational(gctx, snap.Cycle, res.Node.ID, name,
					"authentication", domain.SeverityHigh, res.Err.Error())
			}
		}
		a.alertEngine.Evaluate(gctx, snap.Cycle, snap.Metrics(), nodeNames)
		return nil
	})
	g.Go(func() error {
		report := a.tracker.Update(gctx, snap.Links())
		if report.Total > 0 {
			metrics.SetGauge("replication_links_unhealthy", int64(report.Total-report.Healthy))
		}
		return nil
	})
	g.Go(func() error {
		a.svcMonitor.Reconcile(gctx, snap.Services(), nodeNames)
		return nil
	})
	g.Go(func() error {
		a.detector.Classify(gctx, snap.Events(), nodeNames)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	metrics.SetGauge("cycle_duration_ms", time.Since(start).Milliseconds())
	zap.L().Info("monitoring cycle complete",
		zap.Int64("cycle", snap.Cycle),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// recordCycleMetrics stores collected samples and per-node collection
// latency in the time-series store.
func (a *Application) recordCycleMetrics(snap *collector.CycleSnapshot) {
	var up int64
	for name, res := range snap.Results {
		if res.Err != nil {
			continue
		}
		up++
		metrics.RecordNodeSample(name, "collection_latency_ms", float64(res.Latency.Milliseconds()), snap.FinishedAt)
		if res.Bundle == nil {
			continue
		}
		for _, sample := range res.Bundle.Metrics {
			metrics.RecordNodeSample(name, sample.Counter, sample.Value, sample.Timestamp)
		}
	}
	metrics.SetGauge("nodes_reachable", up)
	metrics.SetGauge("nodes_total", int64(len(snap.Results)))
}

// Nodes returns the current fleet state.
func (a *Application) Nodes() []*domain.MonNode {
	return a.collector.Nodes()
}

// ForceSyncAndWaitForConvergence runs the bounded sync-and-wait
// operation across the whole fleet.
func (a *Application) ForceSyncAndWaitForConvergence(ctx context.Context, timeout time.Duration) (bool, map[string]int, error) {
	names := make([]string, 0, len(a.appConfig.Monitor.Nodes))
	for _, nc := range a.appConfig.Monitor.Nodes {
		names = append(names, nc.Name)
	}
	if timeout <= 0 {
		timeout = a.appConfig.Replication.SyncTimeout
	}
	return a.tracker.ForceSyncAndWaitForConvergence(ctx, names, timeout)
}
