// Package servicemon tracks per-node service state and performs
// policy-gated automatic remediation.
package servicemon

import (
	"context"
	"sort"
	"time"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"go.uber.org/zap"
)

// RestartActuator restarts a service on a node. Implemented externally.
type RestartActuator interface {
	RestartService(ctx context.Context, node, service string) error
}

// RemediationLogRepository persists the remediation audit trail.
type RemediationLogRepository interface {
	Log(ctx context.Context, entry *domain.MonRemediationLog) error
}

// Action kinds produced by Reconcile.
const (
	ActionRestart            = "restart"
	ActionReport             = "report"
	ActionDeferred           = "deferred"
	ActionManualIntervention = "manual_intervention"
)

// Action is one remediation decision for a (node, service) pair.
type Action struct {
	NodeID   int64
	NodeName string
	Service  string
	Kind     string
	State    string // observed service state that triggered the action
	Err      error  // actuator error, when Kind == restart
}

type trackKey struct {
	nodeID  int64
	service string
}

type track struct {
	attempts    []time.Time // restart attempts inside the rolling window
	lastAttempt time.Time
	manual      bool // flagged for manual intervention, no further restarts
}

// Monitor reconciles observed service states against their descriptors.
// Remediation on one node is strictly ordered: a dependent service is
// restarted only after its declared dependencies report running.
type Monitor struct {
	conf        config.ServicesConfig
	descriptors map[string]domain.ServiceDescriptor
	actuator    RestartActuator
	repo        RemediationLogRepository
	tracks      map[trackKey]*track
	now         func() time.Time
}

func NewMonitor(conf config.ServicesConfig, actuator RestartActuator, repo RemediationLogRepository) *Monitor {
	descriptors := make(map[string]domain.ServiceDescriptor, len(conf.Descriptors))
	for _, d := range conf.Descriptors {
		descriptors[d.Name] = d
	}
	return &Monitor{
		conf:        conf,
		descriptors: descriptors,
		actuator:    actuator,
		repo:        repo,
		tracks:      make(map[trackKey]*track),
		now:         time.Now,
	}
}

// Reconcile processes one cycle's observed statuses in arrival order
// per node and returns the remediation actions taken or withheld.
func (m *Monitor) Reconcile(ctx context.Context, statuses []domain.ServiceStatus, nodeNames map[int64]string) []Action {
	byNode := make(map[int64][]domain.ServiceStatus)
	var nodeOrder []int64
	for _, st := range statuses {
		if _, seen := byNode[st.NodeID]; !seen {
			nodeOrder = append(nodeOrder, st.NodeID)
		}
		byNode[st.NodeID] = append(byNode[st.NodeID], st)
	}

	var actions []Action
	for _, nodeID := range nodeOrder {
		actions = append(actions, m.reconcileNode(ctx, nodeID, nodeNames[nodeID], byNode[nodeID])...)
	}
	return actions
}

func (m *Monitor) reconcileNode(ctx context.Context, nodeID int64, nodeName string, statuses []domain.ServiceStatus) []Action {
	observed := make(map[string]string, len(statuses))
	for _, st := range statuses {
		observed[st.ServiceName] = st.State
	}

	var actions []Action
	for _, st := range m.orderByDependencies(statuses) {
		key := trackKey{nodeID: nodeID, service: st.ServiceName}

		if st.State == domain.SvcRunning {
			// healthy again: clear the manual-intervention flag
			if tr, ok := m.tracks[key]; ok && tr.manual {
				tr.manual = false
				zap.L().Info("service recovered, manual intervention flag cleared",
					zap.String("node", nodeName),
					zap.String("service", st.ServiceName),
				)
			}
			continue
		}

		desc, known := m.descriptors[st.ServiceName]
		if !known || !desc.RestartAllowed {
			actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionReport, State: st.State})
			continue
		}

		tr := m.tracks[key]
		if tr == nil {
			tr = &track{}
			m.tracks[key] = tr
		}
		if tr.manual {
			actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionManualIntervention, State: st.State})
			continue
		}

		now := m.now()
		// grace period after a restart before acting on the same service again
		if !tr.lastAttempt.IsZero() && now.Sub(tr.lastAttempt) < m.conf.GracePeriod {
			actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionDeferred, State: st.State})
			continue
		}

		// flap protection over the rolling attempt window
		tr.attempts = evict(tr.attempts, now.Add(-m.conf.AttemptWindow))
		if len(tr.attempts) >= m.conf.MaxAttempts {
			tr.manual = true
			actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionManualIntervention, State: st.State})
			m.logAttempt(ctx, nodeID, st.ServiceName, ActionManualIntervention, "flagged", "restart attempts exhausted", len(tr.attempts))
			zap.L().Error("service flagged for manual intervention",
				zap.String("node", nodeName),
				zap.String("service", st.ServiceName),
				zap.Int("attempts", len(tr.attempts)),
			)
			continue
		}

		// dependencies must report running before this service restarts
		if dep, ok := unmetDependency(desc, observed); ok {
			actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionDeferred, State: st.State})
			zap.L().Info("restart deferred on dependency",
				zap.String("node", nodeName),
				zap.String("service", st.ServiceName),
				zap.String("dependency", dep),
			)
			continue
		}

		tr.attempts = append(tr.attempts, now)
		tr.lastAttempt = now
		err := m.actuator.RestartService(ctx, nodeName, st.ServiceName)
		actions = append(actions, Action{NodeID: nodeID, NodeName: nodeName, Service: st.ServiceName, Kind: ActionRestart, State: st.State, Err: err})
		if err != nil {
			m.logAttempt(ctx, nodeID, st.ServiceName, ActionRestart, "failed", err.Error(), len(tr.attempts))
			zap.L().Warn("service restart failed",
				zap.String("node", nodeName),
				zap.String("service", st.ServiceName),
				zap.Error(err),
			)
		} else {
			m.logAttempt(ctx, nodeID, st.ServiceName, ActionRestart, "success", "", len(tr.attempts))
			zap.L().Info("service restart issued",
				zap.String("node", nodeName),
				zap.String("service", st.ServiceName),
				zap.Int("attempt", len(tr.attempts)),
			)
		}
	}
	return actions
}

// AttemptCount returns the number of restart attempts currently inside
// the rolling window for a (node, service) pair.
func (m *Monitor) AttemptCount(nodeID int64, service string) int {
	tr, ok := m.tracks[trackKey{nodeID: nodeID, service: service}]
	if !ok {
		return 0
	}
	return len(tr.attempts)
}

// orderByDependencies sorts one node's statuses so dependencies come
// before dependents; ties break on descriptor priority, then name.
func (m *Monitor) orderByDependencies(statuses []domain.ServiceStatus) []domain.ServiceStatus {
	depth := func(name string) int {
		d := 0
		seen := map[string]bool{}
		for queue := []string{name}; len(queue) > 0; {
			cur := queue[0]
			queue = queue[1:]
			if seen[cur] {
				continue
			}
			seen[cur] = true
			if desc, ok := m.descriptors[cur]; ok && len(desc.DependsOn) > 0 {
				d++
				queue = append(queue, desc.DependsOn...)
			}
		}
		return d
	}
	out := append([]domain.ServiceStatus(nil), statuses...)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := depth(out[i].ServiceName), depth(out[j].ServiceName)
		if di != dj {
			return di < dj
		}
		pi, pj := m.descriptors[out[i].ServiceName].Priority, m.descriptors[out[j].ServiceName].Priority
		if pi != pj {
			return pi > pj
		}
		return out[i].ServiceName < out[j].ServiceName
	})
	return out
}

func unmetDependency(desc domain.ServiceDescriptor, observed map[string]string) (string, bool) {
	for _, dep := range desc.DependsOn {
		if observed[dep] != domain.SvcRunning {
			return dep, true
		}
	}
	return "", false
}

func evict(attempts []time.Time, cutoff time.Time) []time.Time {
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (m *Monitor) logAttempt(ctx context.Context, nodeID int64, service, action, result, message string, attemptNo int) {
	if m.repo == nil {
		return
	}
	entry := &domain.MonRemediationLog{
		NodeID:      nodeID,
		ServiceName: service,
		Action:      action,
		Result:      result,
		Message:     message,
		AttemptNo:   attemptNo,
		ExecutedAt:  m.now(),
	}
	if err := m.repo.Log(ctx, entry); err != nil {
		zap.L().Warn("failed to write remediation log", zap.Error(err))
	}
}
