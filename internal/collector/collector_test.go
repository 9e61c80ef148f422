package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeSource replays a scripted sequence of responses per node.
type fakeSource struct {
	mu      sync.Mutex
	scripts map[string][]func() (*Bundle, error)
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scripts: make(map[string][]func() (*Bundle, error)),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) script(node string, fns ...func() (*Bundle, error)) {
	f.scripts[node] = fns
}

func (f *fakeSource) callCount(node string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[node]
}

func (f *fakeSource) Collect(_ context.Context, nc config.NodeConfig) (*Bundle, error) {
	f.mu.Lock()
	n := f.calls[nc.Name]
	f.calls[nc.Name] = n + 1
	fns := f.scripts[nc.Name]
	f.mu.Unlock()
	if len(fns) == 0 {
		return &Bundle{}, nil
	}
	if n >= len(fns) {
		n = len(fns) - 1
	}
	return fns[n]()
}

func okBundle() (*Bundle, error) {
	return &Bundle{
		Metrics: []domain.MetricSample{{Counter: "currentConnections", Value: 42, Timestamp: time.Now()}},
	}, nil
}

func failTransient() (*Bundle, error) {
	return nil, errors.New("connection reset")
}

func testCollector(t *testing.T, src Source, nodes ...string) *Collector {
	t.Helper()
	conf := config.MonitorConfig{
		NodeTimeout:  5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
		MaxWorkers:   4,
	}
	for _, name := range nodes {
		conf.Nodes = append(conf.Nodes, config.NodeConfig{Name: name, Addr: name + ":389"})
	}
	c, err := NewCollector(conf, map[string]Source{"ldap": src}, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	// deterministic backoff: record requested sleeps, never block
	c.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return c
}

func TestCollectAllIsolatesFailedNode(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", failTransient)
	src.script("node-b", okBundle)
	c := testCollector(t, src, "node-a", "node-b")

	snap, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Results, 2)

	a := snap.Results["node-a"]
	require.Error(t, a.Err)
	require.ErrorIs(t, a.Err, ErrNodeUnreachable)
	require.Nil(t, a.Bundle)
	require.Equal(t, domain.NodeDown, a.Node.Reachability)

	b := snap.Results["node-b"]
	require.NoError(t, b.Err)
	require.NotNil(t, b.Bundle)
	require.Equal(t, domain.NodeUp, b.Node.Reachability)
	require.Len(t, snap.Metrics(), 1)
}

func TestCollectNodeRetriesWithBackoff(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", failTransient, failTransient, okBundle)
	c := testCollector(t, src, "node-a")

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	snap, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Results["node-a"].Err)
	require.Equal(t, 3, src.callCount("node-a"))
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestAuthenticationFailureNotRetried(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", func() (*Bundle, error) {
		return nil, errors.Wrap(ErrAuthentication, "bind cn=monitor")
	})
	c := testCollector(t, src, "node-a")

	snap, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, snap.Results["node-a"].Err, ErrAuthentication)
	require.Equal(t, 1, src.callCount("node-a"))
	require.Equal(t, domain.NodeDown, snap.Results["node-a"].Node.Reachability)
}

func TestPartialBundleDegradesNode(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", func() (*Bundle, error) {
		return &Bundle{
			Metrics: []domain.MetricSample{{Counter: "currentConnections", Value: 7}},
			Partial: map[string]error{CategoryEvents: errors.New("search failed")},
		}, nil
	})
	c := testCollector(t, src, "node-a")

	snap, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	res := snap.Results["node-a"]
	require.NoError(t, res.Err)
	require.Equal(t, domain.NodeDegraded, res.Node.Reachability)
	// the surviving category is still processed
	require.Len(t, snap.Metrics(), 1)
	require.Empty(t, snap.Events())
}

func TestCollectAllStampsNodeIdentity(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", func() (*Bundle, error) {
		return &Bundle{
			Metrics:  []domain.MetricSample{{Counter: "c", Value: 1}},
			Services: []domain.ServiceStatus{{ServiceName: "directory", State: domain.SvcRunning}},
			Events:   []domain.SecurityEvent{{EventID: "e1", Subject: "alice", Category: domain.EventAuthFailure}},
			Links:    []domain.ReplicationLinkInfo{{PartnerNode: "node-b", Partition: "dc=example"}},
		}, nil
	})
	c := testCollector(t, src, "node-a")
	id := c.Node("node-a").ID

	snap, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	bundle := snap.Results["node-a"].Bundle
	require.Equal(t, id, bundle.Metrics[0].NodeID)
	require.Equal(t, id, bundle.Services[0].NodeID)
	require.Equal(t, id, bundle.Events[0].NodeID)
	require.Equal(t, "node-a", bundle.Links[0].SourceNode)
}

func TestCollectAllCancelledDiscardsCycle(t *testing.T) {
	src := newFakeSource()
	src.script("node-a", func() (*Bundle, error) {
		time.Sleep(100 * time.Millisecond)
		return okBundle()
	})
	c := testCollector(t, src, "node-a")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	snap, err := c.CollectAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, snap)
}
