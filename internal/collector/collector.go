package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NodeRepository persists node reachability state between cycles.
type NodeRepository interface {
	UpsertNode(ctx context.Context, node *domain.MonNode) error
}

// NodeResult is the per-node outcome of one collection cycle. A node
// that failed collection carries a nil Bundle: absence, not stale data,
// is the signal downstream.
type NodeResult struct {
	Node    *domain.MonNode
	Bundle  *Bundle
	Err     error
	Latency time.Duration
}

// CycleSnapshot is the complete fan-in result of one monitoring cycle.
// Downstream evaluators read disjoint slices of it and never mutate it.
type CycleSnapshot struct {
	Cycle      int64
	StartedAt  time.Time
	FinishedAt time.Time
	Results    map[string]*NodeResult // keyed by node name
}

// Metrics flattens samples from all nodes that produced a bundle.
func (s *CycleSnapshot) Metrics() []domain.MetricSample {
	var out []domain.MetricSample
	for _, r := range s.Results {
		if r.Bundle != nil {
			out = append(out, r.Bundle.Metrics...)
		}
	}
	return out
}

// Services flattens service statuses from all nodes that produced a bundle.
func (s *CycleSnapshot) Services() []domain.ServiceStatus {
	var out []domain.ServiceStatus
	for _, r := range s.Results {
		if r.Bundle != nil {
			out = append(out, r.Bundle.Services...)
		}
	}
	return out
}

// Links flattens replication metadata from all nodes that produced a bundle.
func (s *CycleSnapshot) Links() []domain.ReplicationLinkInfo {
	var out []domain.ReplicationLinkInfo
	for _, r := range s.Results {
		if r.Bundle != nil {
			out = append(out, r.Bundle.Links...)
		}
	}
	return out
}

// Events flattens security events from all nodes that produced a bundle.
func (s *CycleSnapshot) Events() []domain.SecurityEvent {
	var out []domain.SecurityEvent
	for _, r := range s.Results {
		if r.Bundle != nil {
			out = append(out, r.Bundle.Events...)
		}
	}
	return out
}

// Collector fans out over all configured nodes concurrently, each probe
// bounded by its own deadline, and fans results back in through a single
// aggregator that is the only writer of node state.
type Collector struct {
	conf    config.MonitorConfig
	sources map[string]Source
	nodes   map[string]*domain.MonNode
	repo    NodeRepository
	pool    *ants.Pool
	cycle   int64
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewCollector builds a collector over the configured node list.
// sources maps a source type ("ldap", "snmp") to its implementation.
func NewCollector(conf config.MonitorConfig, sources map[string]Source, repo NodeRepository) (*Collector, error) {
	pool, err := ants.NewPool(conf.MaxWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "create collector pool")
	}
	c := &Collector{
		conf:    conf,
		sources: sources,
		nodes:   make(map[string]*domain.MonNode, len(conf.Nodes)),
		repo:    repo,
		pool:    pool,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for i, nc := range conf.Nodes {
		c.nodes[nc.Name] = &domain.MonNode{
			ID:           int64(i + 1),
			Name:         nc.Name,
			Addr:         nc.Addr,
			Source:       sourceType(nc),
			Reachability: domain.NodeUnknown,
			Tags:         nc.Tags,
		}
	}
	return c, nil
}

// Nodes returns the current node state list.
func (c *Collector) Nodes() []*domain.MonNode {
	out := make([]*domain.MonNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// Node returns one node's state by name.
func (c *Collector) Node(name string) *domain.MonNode {
	return c.nodes[name]
}

// Close releases the worker pool.
func (c *Collector) Close() {
	c.pool.Release()
}

type taskResult struct {
	name    string
	bundle  *Bundle
	err     error
	latency time.Duration
}

// CollectAll runs one full collection cycle: one concurrent task per
// node, results serialized through the aggregator. A cancelled context
// discards all partial results; they are never merged into state.
func (c *Collector) CollectAll(ctx context.Context) (*CycleSnapshot, error) {
	c.cycle++
	snap := &CycleSnapshot{
		Cycle:     c.cycle,
		StartedAt: c.now(),
		Results:   make(map[string]*NodeResult, len(c.conf.Nodes)),
	}

	results := make(chan taskResult, len(c.conf.Nodes))
	for _, nc := range c.conf.Nodes {
		nc := nc
		if err := c.pool.Submit(func() {
			start := c.now()
			bundle, err := c.collectNode(ctx, nc)
			results <- taskResult{name: nc.Name, bundle: bundle, err: err, latency: c.now().Sub(start)}
		}); err != nil {
			results <- taskResult{name: nc.Name, err: errors.Wrap(err, "submit collection task")}
		}
	}

	// Single consumer: all node state mutation happens here.
	for i := 0; i < len(c.conf.Nodes); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			c.applyResult(ctx, snap, res)
		}
	}
	snap.FinishedAt = c.now()
	return snap, nil
}

// collectNode queries one node with retries. Transient failures back
// off exponentially; authentication failures return immediately.
func (c *Collector) collectNode(ctx context.Context, nc config.NodeConfig) (*Bundle, error) {
	src, ok := c.sources[sourceType(nc)]
	if !ok {
		return nil, errors.Errorf("no source registered for type %q", sourceType(nc))
	}

	backoff := c.conf.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.conf.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.conf.NodeTimeout)
		bundle, err := src.Collect(attemptCtx, nc)
		cancel()
		if err == nil {
			c.stampNode(nc.Name, bundle)
			return bundle, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		zap.L().Debug("node collection attempt failed",
			zap.String("node", nc.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, errors.Wrapf(ErrNodeUnreachable, "node %s: %v", nc.Name, lastErr)
}

// applyResult folds one task result into the snapshot and node state.
func (c *Collector) applyResult(ctx context.Context, snap *CycleSnapshot, res taskResult) {
	node := c.nodes[res.name]
	now := c.now()
	nr := &NodeResult{Node: node, Bundle: res.bundle, Err: res.err, Latency: res.latency}
	snap.Results[res.name] = nr

	switch {
	case res.err != nil:
		node.Reachability = domain.NodeDown
		node.LastResult = "failed"
		node.LastMessage = res.err.Error()
		if errors.Is(res.err, ErrAuthentication) {
			zap.L().Warn("node authentication failed",
				zap.String("node", res.name),
				zap.Error(res.err),
			)
		} else {
			zap.L().Warn("node unreachable for cycle",
				zap.String("node", res.name),
				zap.Int64("cycle", snap.Cycle),
				zap.Error(res.err),
			)
		}
	case len(res.bundle.Partial) > 0:
		node.Reachability = domain.NodeDegraded
		node.LastSeen = now
		node.Latency = res.latency.Milliseconds()
		node.LastResult = "partial"
		node.LastMessage = partialMessage(res.bundle.Partial)
		for category, err := range res.bundle.Partial {
			zap.L().Warn("partial data collection",
				zap.String("node", res.name),
				zap.String("category", category),
				zap.Error(err),
			)
		}
	default:
		node.Reachability = domain.NodeUp
		node.LastSeen = now
		node.Latency = res.latency.Milliseconds()
		node.LastResult = "ok"
		node.LastMessage = ""
	}

	if c.repo != nil {
		if err := c.repo.UpsertNode(ctx, node); err != nil {
			zap.L().Error("failed to persist node state",
				zap.String("node", res.name),
				zap.Error(err),
			)
		}
	}
}

// stampNode fills in the owning node on every bundle entry. Sources
// report data without knowledge of engine-side node identity.
func (c *Collector) stampNode(name string, bundle *Bundle) {
	node := c.nodes[name]
	if node == nil || bundle == nil {
		return
	}
	for i := range bundle.Metrics {
		bundle.Metrics[i].NodeID = node.ID
	}
	for i := range bundle.Services {
		bundle.Services[i].NodeID = node.ID
	}
	for i := range bundle.Events {
		bundle.Events[i].NodeID = node.ID
	}
	for i := range bundle.Links {
		if bundle.Links[i].SourceNode == "" {
			bundle.Links[i].SourceNode = node.Name
		}
	}
}

func partialMessage(partial map[string]error) string {
	msg := ""
	for category, err := range partial {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %v", category, err)
	}
	return msg
}

func sourceType(nc config.NodeConfig) string {
	if nc.Source == "" {
		return "ldap"
	}
	return nc.Source
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
