package domain

import "time"

// MonReplicationLink is a directed replication relationship between two
// nodes for one partition. Upserted every cycle from collected metadata;
// Healthy is recomputed purely from the latest snapshot.
type MonReplicationLink struct {
	ID                  int64     `json:"id,string"`
	SourceNode          string    `gorm:"index" json:"source_node"`
	PartnerNode         string    `gorm:"index" json:"partner_node"`
	Partition           string    `json:"partition"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LagMs               int64     `json:"lag_ms"` // replication lag in milliseconds
	Healthy             bool      `json:"healthy"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName Specify table name
func (MonReplicationLink) TableName() string {
	return "mon_replication_link"
}

// ReplicationLinkInfo is the raw per-link metadata reported by a node
// source during collection, before health evaluation.
type ReplicationLinkInfo struct {
	SourceNode          string        `json:"source_node"`
	PartnerNode         string        `json:"partner_node"`
	Partition           string        `json:"partition"`
	LastSuccess         time.Time     `json:"last_success"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Lag                 time.Duration `json:"lag"`
}
