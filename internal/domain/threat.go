package domain

import "time"

// Security event categories as reported by node sources
const (
	EventAuthFailure      = "auth_failure"
	EventPrivilegedAction = "privileged_action"
	EventAccountChange    = "account_change"
)

// SecurityEvent is one classified security occurrence streamed from a
// node. Events are immutable and are not persisted beyond their
// detection window.
type SecurityEvent struct {
	NodeID    int64     `json:"node_id,string"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"` // actor or target account, per rule grouping
	Category  string    `json:"category"`
}

// ThreatRule is one table-driven detection rule evaluated over a
// sliding window per subject.
type ThreatRule struct {
	Type     string        `yaml:"type" json:"type"`
	Category string        `yaml:"category" json:"category"` // event category the rule consumes
	Window   time.Duration `yaml:"window" json:"window"`
	Trigger  int           `yaml:"trigger" json:"trigger"` // indicator raised when count > trigger
	Severity string        `yaml:"severity" json:"severity"`
}

// MonThreatIndicator is a raised security threat: one per
// (type, subject, window).
type MonThreatIndicator struct {
	ID          int64     `json:"id,string"`
	Type        string    `gorm:"index" json:"type"`
	Severity    string    `json:"severity"`
	Subject     string    `gorm:"index" json:"subject"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Nodes       string    `json:"nodes"` // comma-separated involved node names
	CreatedAt   time.Time `json:"created_at"`
}

// TableName Specify table name
func (MonThreatIndicator) TableName() string {
	return "mon_threat_indicator"
}
