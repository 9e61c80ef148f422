package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeActuator struct {
	mu      sync.Mutex
	synced  []string
	pending map[string][]int // successive PendingOperations answers per node
	polls   map[string]int
}

func (f *fakeActuator) ForceReplicationSync(_ context.Context, node string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, node)
	return nil
}

func (f *fakeActuator) PendingOperations(_ context.Context, node string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polls == nil {
		f.polls = make(map[string]int)
	}
	seq := f.pending[node]
	i := f.polls[node]
	f.polls[node]++
	if i >= len(seq) {
		return seq[len(seq)-1], nil
	}
	return seq[i], nil
}

func testConf() config.ReplicationConfig {
	return config.ReplicationConfig{
		MaxAcceptableLag: 15 * time.Minute,
		PollInterval:     5 * time.Millisecond,
		SyncTimeout:      time.Second,
	}
}

func info(source, partner string, lag time.Duration, failures int) domain.ReplicationLinkInfo {
	return domain.ReplicationLinkInfo{
		SourceNode:          source,
		PartnerNode:         partner,
		Partition:           "dc=example,dc=com",
		Lag:                 lag,
		ConsecutiveFailures: failures,
		LastSuccess:         time.Now().Add(-lag),
	}
}

func TestUpdateComputesLinkHealth(t *testing.T) {
	tr := NewTracker(testConf(), nil, nil)

	report := tr.Update(context.Background(), []domain.ReplicationLinkInfo{
		info("dc1", "dc2", time.Minute, 0),     // healthy
		info("dc1", "dc3", 20*time.Minute, 0),  // lag breach
		info("dc2", "dc1", time.Minute, 2),     // failure breach
		info("dc3", "dc1", 15*time.Minute, 0),  // at the bound, still healthy
	})

	require.Equal(t, 4, report.Total)
	require.Equal(t, 2, report.Healthy)
	require.Len(t, report.Unhealthy, 2)
	require.Equal(t, 20*time.Minute, report.MaxLag)
}

func TestUpdateRecoversLinkOnNextCycle(t *testing.T) {
	tr := NewTracker(testConf(), nil, nil)
	ctx := context.Background()

	report := tr.Update(ctx, []domain.ReplicationLinkInfo{info("dc1", "dc2", time.Hour, 3)})
	require.Equal(t, 0, report.Healthy)

	// same link, caught up: health is recomputed from latest metadata only
	report = tr.Update(ctx, []domain.ReplicationLinkInfo{info("dc1", "dc2", time.Second, 0)})
	require.Equal(t, 1, report.Healthy)
	require.Empty(t, report.Unhealthy)

	links := tr.Links()
	require.Len(t, links, 1)
	require.True(t, links[0].Healthy)
	require.Equal(t, int64(1000), links[0].LagMs)
}

func TestForceSyncConverges(t *testing.T) {
	act := &fakeActuator{pending: map[string][]int{
		"dc1": {5, 2, 0},
		"dc2": {0},
		"dc3": {0},
	}}
	tr := NewTracker(testConf(), act, nil)

	converged, pending, err := tr.ForceSyncAndWaitForConvergence(
		context.Background(), []string{"dc1", "dc2", "dc3"}, time.Second)

	require.NoError(t, err)
	require.True(t, converged)
	require.Equal(t, map[string]int{"dc1": 0, "dc2": 0, "dc3": 0}, pending)
	require.ElementsMatch(t, []string{"dc1", "dc2", "dc3"}, act.synced)
}

func TestForceSyncTimesOutWithCounts(t *testing.T) {
	act := &fakeActuator{pending: map[string][]int{
		"dc1": {0},
		"dc2": {7}, // never drains
	}}
	tr := NewTracker(testConf(), act, nil)

	converged, pending, err := tr.ForceSyncAndWaitForConvergence(
		context.Background(), []string{"dc1", "dc2"}, 30*time.Millisecond)

	require.NoError(t, err)
	require.False(t, converged)
	require.Equal(t, 7, pending["dc2"])
}

func TestForceSyncHonorsCancellation(t *testing.T) {
	act := &fakeActuator{pending: map[string][]int{"dc1": {9}}}
	tr := NewTracker(testConf(), act, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	converged, _, _ := tr.ForceSyncAndWaitForConvergence(ctx, []string{"dc1"}, time.Second)
	require.False(t, converged)
}
