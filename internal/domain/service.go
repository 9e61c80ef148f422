package domain

import "time"

// Observed service states
const (
	SvcRunning       = "running"
	SvcStopped       = "stopped"
	SvcTransitioning = "transitioning"
	SvcMissing       = "missing"
	SvcUnknown       = "unknown"
)

// ServiceDescriptor describes a known service and its remediation policy.
// Loaded from configuration, immutable during a run.
type ServiceDescriptor struct {
	Name           string   `yaml:"name" json:"name"`
	DependsOn      []string `yaml:"depends_on" json:"depends_on"` // must report running before this one restarts
	RestartAllowed bool     `yaml:"restart_allowed" json:"restart_allowed"`
	Priority       int      `yaml:"priority" json:"priority"`
}

// ServiceStatus is the observed state of one service on one node,
// rebuilt from scratch every collection cycle.
type ServiceStatus struct {
	NodeID      int64     `json:"node_id,string"`
	ServiceName string    `json:"service_name"`
	State       string    `json:"state"`
	LastChecked time.Time `json:"last_checked"`
}

// MonRemediationLog is the audit trail of automatic remediation attempts
type MonRemediationLog struct {
	ID          int64     `json:"id,string"`
	NodeID      int64     `gorm:"index" json:"node_id,string"`
	ServiceName string    `gorm:"index" json:"service_name"`
	Action      string    `json:"action"` // restart / manual_intervention
	Result      string    `json:"result"` // success / failed / skipped
	Message     string    `json:"message"`
	AttemptNo   int       `json:"attempt_no"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// TableName Specify table name
func (MonRemediationLog) TableName() string {
	return "mon_remediation_log"
}
