package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	dispatched []*domain.MonAlert
}

func (f *fakeDispatcher) Dispatch(alert *domain.MonAlert) {
	f.dispatched = append(f.dispatched, alert)
}

func testEngine(t *testing.T, conf config.AlertingConfig) (*Engine, *fakeDispatcher, *time.Time) {
	t.Helper()
	d := &fakeDispatcher{}
	e, err := NewEngine(conf, d, nil)
	require.NoError(t, err)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, d, &now
}

func connConf() config.AlertingConfig {
	return config.AlertingConfig{
		Cooldown:      10 * time.Minute,
		SilencePeriod: 3,
		Thresholds: []config.ThresholdRule{{
			CounterPattern:    "currentConnections",
			Category:          "connections",
			WarningLevel:      800,
			CriticalLevel:     1000,
			PersistenceWindow: 1,
		}},
	}
}

func sample(node int64, value float64) []domain.MetricSample {
	return []domain.MetricSample{{NodeID: node, Counter: "currentConnections", Value: value}}
}

func names() map[int64]string {
	return map[int64]string{1: "dc1", 2: "dc2"}
}

func TestRepeatBreachesCoalesceIntoOneAlert(t *testing.T) {
	e, d, now := testEngine(t, connConf())
	ctx := context.Background()

	const breaches = 5
	for cycle := int64(1); cycle <= breaches; cycle++ {
		e.Evaluate(ctx, cycle, sample(1, 950), names())
		*now = now.Add(time.Minute)
	}

	require.Len(t, d.dispatched, 1, "exactly one dispatch within cooldown")
	require.Equal(t, breaches, d.dispatched[0].OccurrenceCount)
	require.Equal(t, domain.SeverityWarning, d.dispatched[0].Severity)
	require.Equal(t, "dc1", d.dispatched[0].NodeName)
	require.Equal(t, "connections", d.dispatched[0].Category)
}

func TestPersistenceWindowFiltersSpikes(t *testing.T) {
	conf := connConf()
	conf.Thresholds[0].PersistenceWindow = 2
	e, d, _ := testEngine(t, conf)
	ctx := context.Background()

	// single-cycle spike above critical, then quiet
	e.Evaluate(ctx, 1, sample(1, 1500), names())
	e.Evaluate(ctx, 2, sample(1, 100), names())
	e.Evaluate(ctx, 3, sample(1, 100), names())
	require.Empty(t, d.dispatched)

	// two consecutive breaching cycles fire
	e.Evaluate(ctx, 4, sample(1, 1500), names())
	require.Empty(t, d.dispatched)
	e.Evaluate(ctx, 5, sample(1, 1500), names())
	require.Len(t, d.dispatched, 1)
	require.Equal(t, domain.SeverityCritical, d.dispatched[0].Severity)
}

func TestNonConsecutiveBreachesResetStreak(t *testing.T) {
	conf := connConf()
	conf.Thresholds[0].PersistenceWindow = 2
	e, d, _ := testEngine(t, conf)
	ctx := context.Background()

	e.Evaluate(ctx, 1, sample(1, 1500), names())
	// cycle 2 has no sample for the counter: streak must not carry over
	e.Evaluate(ctx, 2, nil, names())
	e.Evaluate(ctx, 3, sample(1, 1500), names())
	require.Empty(t, d.dispatched)
}

func TestSeverityEscalatesNeverDowngrades(t *testing.T) {
	e, d, now := testEngine(t, connConf())
	ctx := context.Background()

	e.Evaluate(ctx, 1, sample(1, 900), names()) // warning
	*now = now.Add(time.Minute)
	e.Evaluate(ctx, 2, sample(1, 1200), names()) // escalates to critical
	*now = now.Add(time.Minute)
	e.Evaluate(ctx, 3, sample(1, 900), names()) // back to warning levels

	require.Len(t, d.dispatched, 1)
	require.Equal(t, domain.SeverityCritical, d.dispatched[0].Severity)
	require.Equal(t, 3, d.dispatched[0].OccurrenceCount)
}

func TestAlertArchivedAfterSilencePeriod(t *testing.T) {
	e, d, _ := testEngine(t, connConf())
	ctx := context.Background()

	e.Evaluate(ctx, 1, sample(1, 950), names())
	require.Len(t, e.OpenAlerts(), 1)

	for cycle := int64(2); cycle <= 4; cycle++ {
		e.Evaluate(ctx, cycle, sample(1, 100), names())
	}
	require.Empty(t, e.OpenAlerts())
	require.Equal(t, domain.AlertArchived, d.dispatched[0].State)
}

func TestNewAlertAfterCooldownExpiry(t *testing.T) {
	e, d, now := testEngine(t, connConf())
	ctx := context.Background()

	e.Evaluate(ctx, 1, sample(1, 950), names())
	*now = now.Add(11 * time.Minute) // beyond cooldown
	e.Evaluate(ctx, 2, sample(1, 950), names())

	require.Len(t, d.dispatched, 2)
	require.NotEqual(t, d.dispatched[0].ID, d.dispatched[1].ID)
	require.Equal(t, 1, d.dispatched[1].OccurrenceCount)
}

func TestDistinctNodesAlertIndependently(t *testing.T) {
	e, d, _ := testEngine(t, connConf())
	ctx := context.Background()

	samples := append(sample(1, 950), sample(2, 1100)...)
	e.Evaluate(ctx, 1, samples, names())

	require.Len(t, d.dispatched, 2)
	require.ElementsMatch(t,
		[]string{"dc1", "dc2"},
		[]string{d.dispatched[0].NodeName, d.dispatched[1].NodeName},
	)
}

func TestRaiseOperationalDedups(t *testing.T) {
	e, d, now := testEngine(t, connConf())
	ctx := context.Background()

	a := e.RaiseOperational(ctx, 1, 1, "dc1", "authentication", domain.SeverityHigh, "bind failed")
	require.NotNil(t, a)
	*now = now.Add(time.Minute)
	b := e.RaiseOperational(ctx, 2, 1, "dc1", "authentication", domain.SeverityHigh, "bind failed")
	require.Nil(t, b)

	require.Len(t, d.dispatched, 1)
	require.Equal(t, 2, d.dispatched[0].OccurrenceCount)
	require.Equal(t, domain.SeverityHigh, d.dispatched[0].Severity)
}

func TestPatternMatchesCounterFamilies(t *testing.T) {
	conf := connConf()
	conf.Thresholds[0].CounterPattern = "repl*"
	conf.Thresholds[0].Category = "replication"
	e, d, _ := testEngine(t, conf)

	e.Evaluate(context.Background(), 1, []domain.MetricSample{
		{NodeID: 1, Counter: "replQueueDepth", Value: 5000},
		{NodeID: 1, Counter: "currentConnections", Value: 5000},
	}, names())

	require.Len(t, d.dispatched, 1)
	require.Equal(t, "replication", d.dispatched[0].Category)
}
