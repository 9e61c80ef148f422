package alerting

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	mu        sync.Mutex
	failUntil int
	calls     int
	delivered []*domain.MonAlert
}

func (s *flakySink) Deliver(_ context.Context, alert *domain.MonAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failUntil {
		return errors.New("smtp unavailable")
	}
	s.delivered = append(s.delivered, alert)
	return nil
}

func (s *flakySink) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestDispatchQueuesOnDeliveryFailure(t *testing.T) {
	sink := &flakySink{failUntil: 1}
	d, err := NewDispatcher(sink, nil, filepath.Join(t.TempDir(), "queue.db"), time.Hour)
	require.NoError(t, err)
	defer d.Stop()

	d.Dispatch(&domain.MonAlert{ID: 42, NodeName: "dc1", Category: "connections"})
	require.Equal(t, 1, d.Pending())

	// manual drain instead of waiting out the retry ticker
	d.drainQueue()
	require.Equal(t, 0, d.Pending())
	require.Equal(t, 1, sink.deliveredCount())
	require.Equal(t, int64(42), sink.delivered[0].ID)
}

func TestDispatchDeliversWithoutQueueing(t *testing.T) {
	sink := &flakySink{}
	d, err := NewDispatcher(sink, nil, filepath.Join(t.TempDir(), "queue.db"), time.Hour)
	require.NoError(t, err)
	defer d.Stop()

	d.Dispatch(&domain.MonAlert{ID: 1})
	require.Equal(t, 0, d.Pending())
	require.Equal(t, 1, sink.deliveredCount())
}

func TestDrainKeepsUndeliverableAlerts(t *testing.T) {
	sink := &flakySink{failUntil: 3}
	d, err := NewDispatcher(sink, nil, filepath.Join(t.TempDir(), "queue.db"), time.Hour)
	require.NoError(t, err)
	defer d.Stop()

	d.Dispatch(&domain.MonAlert{ID: 7})
	d.drainQueue() // still failing
	require.Equal(t, 1, d.Pending())
	d.drainQueue() // still failing
	require.Equal(t, 1, d.Pending())
	d.drainQueue() // recovers
	require.Equal(t, 0, d.Pending())
	require.Equal(t, 1, sink.deliveredCount())
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	sink := &flakySink{failUntil: 1}
	d, err := NewDispatcher(sink, nil, path, time.Hour)
	require.NoError(t, err)
	d.Dispatch(&domain.MonAlert{ID: 99, Message: "lag breach"})
	require.Equal(t, 1, d.Pending())
	d.Stop()

	recovered := &flakySink{}
	d2, err := NewDispatcher(recovered, nil, path, time.Hour)
	require.NoError(t, err)
	defer d2.Stop()
	require.Equal(t, 1, d2.Pending())
	d2.drainQueue()
	require.Equal(t, 0, d2.Pending())
	require.Equal(t, "lag breach", recovered.delivered[0].Message)
}
