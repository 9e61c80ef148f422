package domain

import "time"

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Alert states
const (
	AlertOpen     = "open"
	AlertArchived = "archived"
)

// MonAlert is a raised alert condition. One open alert exists per
// (node, category); repeat breaches within the cooldown window are
// coalesced into it rather than dispatched again.
type MonAlert struct {
	ID              int64     `json:"id,string"`
	NodeID          int64     `gorm:"index" json:"node_id,string"`
	NodeName        string    `json:"node_name"`
	Category        string    `gorm:"index" json:"category"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	Value           float64   `json:"value"` // Counter value at last breach
	FirstOccurrence time.Time `json:"first_occurrence"`
	LastOccurrence  time.Time `json:"last_occurrence"`
	OccurrenceCount int       `json:"occurrence_count"`
	Dispatched      bool      `json:"dispatched"`
	State           string    `gorm:"index" json:"state"` // open / archived
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName Specify table name
func (MonAlert) TableName() string {
	return "mon_alert"
}
