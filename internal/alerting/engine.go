package alerting

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"go.uber.org/zap"
)

// AlertRepository persists alert records for the report/compliance
// consumer.
type AlertRepository interface {
	Save(ctx context.Context, alert *domain.MonAlert) error
	Update(ctx context.Context, alert *domain.MonAlert) error
}

// AlertDispatcher receives each finalized alert exactly once.
type AlertDispatcher interface {
	Dispatch(alert *domain.MonAlert)
}

type streakKey struct {
	nodeID   int64
	counter  string
	category string
}

type streak struct {
	count     int
	lastCycle int64
}

type alertKey struct {
	nodeID   int64
	category string
}

type openAlert struct {
	alert           *domain.MonAlert
	lastBreachCycle int64
}

// Engine evaluates collected metric samples against the configured
// threshold table. Breaches must persist for a rule's persistence
// window before an alert fires; repeat breaches within the cooldown are
// coalesced into the open alert instead of re-dispatched.
type Engine struct {
	conf       config.AlertingConfig
	dispatcher AlertDispatcher
	repo       AlertRepository
	idgen      *snowflake.Node
	streaks    map[streakKey]*streak
	open       map[alertKey]*openAlert
	now        func() time.Time
}

// NewEngine builds a threshold engine. repo may be nil in tests.
func NewEngine(conf config.AlertingConfig, dispatcher AlertDispatcher, repo AlertRepository) (*Engine, error) {
	idgen, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return &Engine{
		conf:       conf,
		dispatcher: dispatcher,
		repo:       repo,
		idgen:      idgen,
		streaks:    make(map[streakKey]*streak),
		open:       make(map[alertKey]*openAlert),
		now:        time.Now,
	}, nil
}

// Evaluate processes one cycle's samples in arrival order and returns
// the alerts dispatched this cycle. nodeNames resolves node IDs for
// alert records.
func (e *Engine) Evaluate(ctx context.Context, cycle int64, samples []domain.MetricSample, nodeNames map[int64]string) []*domain.MonAlert {
	var dispatched []*domain.MonAlert
	for _, sample := range samples {
		for i := range e.conf.Thresholds {
			rule := &e.conf.Thresholds[i]
			if matched, _ := path.Match(rule.CounterPattern, sample.Counter); !matched {
				continue
			}
			severity := breachSeverity(rule, sample.Value)
			key := streakKey{nodeID: sample.NodeID, counter: sample.Counter, category: rule.Category}
			if severity == "" {
				delete(e.streaks, key)
				continue
			}
			st := e.streaks[key]
			if st == nil || cycle-st.lastCycle != 1 {
				st = &streak{}
				e.streaks[key] = st
			}
			st.count++
			st.lastCycle = cycle
			if st.count < rule.PersistenceWindow {
				// single spike, not an alert yet
				continue
			}
			msg := fmt.Sprintf("%s=%.2f exceeds %s level (warning=%.2f critical=%.2f)",
				sample.Counter, sample.Value, severity, rule.WarningLevel, rule.CriticalLevel)
			if a := e.raise(ctx, cycle, sample.NodeID, nodeNames[sample.NodeID], rule.Category, severity, msg, sample.Value); a != nil {
				dispatched = append(dispatched, a)
			}
		}
	}
	e.sweep(ctx, cycle)
	return dispatched
}

// RaiseOperational raises a non-threshold alert, e.g. an authentication
// failure reported by the collector. It passes through the same
// coalescing and dispatch path as threshold breaches.
func (e *Engine) RaiseOperational(ctx context.Context, cycle int64, nodeID int64, nodeName, category, severity, message string) *domain.MonAlert {
	return e.raise(ctx, cycle, nodeID, nodeName, category, severity, message, 0)
}

// raise creates or coalesces the open alert for (node, category) and
// returns the alert when it was dispatched this call.
func (e *Engine) raise(ctx context.Context, cycle int64, nodeID int64, nodeName, category, severity, message string, value float64) *domain.MonAlert {
	now := e.now()
	key := alertKey{nodeID: nodeID, category: category}

	if oa, ok := e.open[key]; ok {
		if now.Sub(oa.alert.LastOccurrence) <= e.conf.Cooldown {
			oa.alert.OccurrenceCount++
			oa.alert.LastOccurrence = now
			oa.alert.Value = value
			oa.alert.Message = message
			if severity == domain.SeverityCritical && oa.alert.Severity == domain.SeverityWarning {
				oa.alert.Severity = domain.SeverityCritical
			}
			oa.lastBreachCycle = cycle
			e.persist(ctx, oa.alert, false)
			return nil
		}
		// cooldown expired: close out the stale alert and start fresh
		oa.alert.State = domain.AlertArchived
		e.persist(ctx, oa.alert, false)
		delete(e.open, key)
	}

	alert := &domain.MonAlert{
		ID:              e.idgen.Generate().Int64(),
		NodeID:          nodeID,
		NodeName:        nodeName,
		Category:        category,
		Severity:        severity,
		Message:         message,
		Value:           value,
		FirstOccurrence: now,
		LastOccurrence:  now,
		OccurrenceCount: 1,
		Dispatched:      true,
		State:           domain.AlertOpen,
	}
	e.open[key] = &openAlert{alert: alert, lastBreachCycle: cycle}
	e.persist(ctx, alert, true)
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(alert)
	}
	zap.L().Info("alert dispatched",
		zap.String("node", nodeName),
		zap.String("category", category),
		zap.String("severity", severity),
	)
	return alert
}

// sweep archives open alerts that saw no breach for the silence period.
func (e *Engine) sweep(ctx context.Context, cycle int64) {
	for key, oa := range e.open {
		if cycle-oa.lastBreachCycle >= int64(e.conf.SilencePeriod) {
			oa.alert.State = domain.AlertArchived
			e.persist(ctx, oa.alert, false)
			delete(e.open, key)
			zap.L().Info("alert archived after silence period",
				zap.String("node", oa.alert.NodeName),
				zap.String("category", oa.alert.Category),
			)
		}
	}
}

// OpenAlerts returns the currently open alerts.
func (e *Engine) OpenAlerts() []*domain.MonAlert {
	out := make([]*domain.MonAlert, 0, len(e.open))
	for _, oa := range e.open {
		out = append(out, oa.alert)
	}
	return out
}

func (e *Engine) persist(ctx context.Context, alert *domain.MonAlert, create bool) {
	if e.repo == nil {
		return
	}
	var err error
	if create {
		err = e.repo.Save(ctx, alert)
	} else {
		err = e.repo.Update(ctx, alert)
	}
	if err != nil {
		zap.L().Error("failed to persist alert",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

func breachSeverity(rule *config.ThresholdRule, value float64) string {
	switch {
	case value > rule.CriticalLevel:
		return domain.SeverityCritical
	case value > rule.WarningLevel:
		return domain.SeverityWarning
	default:
		return ""
	}
}
