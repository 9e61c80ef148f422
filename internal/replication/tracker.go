// Package replication tracks per-link replication health and drives
// bounded sync-and-wait-for-convergence operations.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"go.uber.org/zap"
)

// SyncActuator triggers replication operations on a node. Implemented
// externally (e.g. over the directory-service admin interface).
type SyncActuator interface {
	ForceReplicationSync(ctx context.Context, node string) error
	PendingOperations(ctx context.Context, node string) (int, error)
}

// LinkRepository persists link health history for the report consumer.
type LinkRepository interface {
	Upsert(ctx context.Context, link *domain.MonReplicationLink) error
}

// HealthReport summarizes link health for one cycle.
type HealthReport struct {
	Total     int
	Healthy   int
	Unhealthy []*domain.MonReplicationLink
	MaxLag    time.Duration
}

type linkKey struct {
	source    string
	partner   string
	partition string
}

// Tracker maintains per-link replication state. Links are upserted
// every cycle and never deleted; health is recomputed purely from the
// latest metadata.
type Tracker struct {
	conf     config.ReplicationConfig
	actuator SyncActuator
	repo     LinkRepository

	mu    sync.RWMutex
	links map[linkKey]*domain.MonReplicationLink
	now   func() time.Time
}

func NewTracker(conf config.ReplicationConfig, actuator SyncActuator, repo LinkRepository) *Tracker {
	return &Tracker{
		conf:     conf,
		actuator: actuator,
		repo:     repo,
		links:    make(map[linkKey]*domain.MonReplicationLink),
		now:      time.Now,
	}
}

// Update folds one cycle's replication metadata into link state and
// returns the resulting health report. A link is healthy iff its lag is
// within the acceptable bound and it has no consecutive failures.
func (t *Tracker) Update(ctx context.Context, infos []domain.ReplicationLinkInfo) *HealthReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := &HealthReport{}
	for _, info := range infos {
		key := linkKey{source: info.SourceNode, partner: info.PartnerNode, partition: info.Partition}
		link, ok := t.links[key]
		if !ok {
			link = &domain.MonReplicationLink{
				SourceNode:  info.SourceNode,
				PartnerNode: info.PartnerNode,
				Partition:   info.Partition,
			}
			t.links[key] = link
		}
		link.LastSuccess = info.LastSuccess
		link.ConsecutiveFailures = info.ConsecutiveFailures
		link.LagMs = info.Lag.Milliseconds()
		link.Healthy = info.Lag <= t.conf.MaxAcceptableLag && info.ConsecutiveFailures == 0

		report.Total++
		if link.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy = append(report.Unhealthy, link)
			zap.L().Warn("replication link unhealthy",
				zap.String("source", link.SourceNode),
				zap.String("partner", link.PartnerNode),
				zap.String("partition", link.Partition),
				zap.Duration("lag", info.Lag),
				zap.Int("consecutive_failures", link.ConsecutiveFailures),
			)
		}
		if info.Lag > report.MaxLag {
			report.MaxLag = info.Lag
		}
		if t.repo != nil {
			if err := t.repo.Upsert(ctx, link); err != nil {
				zap.L().Error("failed to persist replication link", zap.Error(err))
			}
		}
	}
	return report
}

// Links returns a copy of the current link state.
func (t *Tracker) Links() []*domain.MonReplicationLink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*domain.MonReplicationLink, 0, len(t.links))
	for _, link := range t.links {
		cp := *link
		out = append(out, &cp)
	}
	return out
}

// ForceSyncAndWaitForConvergence triggers a sync on every node, then
// polls pending replication operation counts until all reach zero or
// the timeout elapses. Returns the convergence result plus the final
// per-node pending counts for diagnostics. Cancellable via ctx.
func (t *Tracker) ForceSyncAndWaitForConvergence(ctx context.Context, nodes []string, timeout time.Duration) (bool, map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, node := range nodes {
		if err := t.actuator.ForceReplicationSync(ctx, node); err != nil {
			zap.L().Warn("force sync rejected",
				zap.String("node", node),
				zap.Error(err),
			)
		}
	}

	pending := make(map[string]int, len(nodes))
	ticker := time.NewTicker(t.conf.PollInterval)
	defer ticker.Stop()
	for {
		converged := true
		for _, node := range nodes {
			n, err := t.actuator.PendingOperations(ctx, node)
			if err != nil {
				if ctx.Err() != nil {
					return false, pending, ctx.Err()
				}
				zap.L().Warn("pending operations query failed",
					zap.String("node", node),
					zap.Error(err),
				)
				converged = false
				continue
			}
			pending[node] = n
			if n > 0 {
				converged = false
			}
		}
		if converged {
			return true, pending, nil
		}
		select {
		case <-ctx.Done():
			return false, pending, nil
		case <-ticker.C:
		}
	}
}
