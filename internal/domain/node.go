package domain

import "time"

// Node reachability states, mutated only by the collector aggregator.
const (
	NodeUnknown  = "unknown" // not yet collected
	NodeUp       = "up"
	NodeDegraded = "degraded"
	NodeDown     = "down"
)

// MonNode is one monitored directory-service host
type MonNode struct {
	ID           int64     `json:"id,string" form:"id"`           // Primary key ID
	Name         string    `gorm:"index" json:"name" form:"name"` // Node name
	Addr         string    `json:"addr" form:"addr"`              // Node address (host or host:port)
	Source       string    `json:"source" form:"source"`          // Data source type (ldap/snmp)
	Reachability string    `json:"reachability"`                  // up / degraded / down
	LastSeen     time.Time `json:"last_seen"`                     // Last successful collection
	Latency      int64     `json:"latency"`                       // Collection round-trip in milliseconds
	LastResult   string    `json:"last_result"`                   // Last collection result (ok/failed)
	LastMessage  string    `json:"last_message"`                  // Last collection message or error
	Tags         string    `json:"tags" form:"tags"`              // Tags
	Remark       string    `json:"remark" form:"remark"`          // Remark
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName Specify table name
func (MonNode) TableName() string {
	return "mon_node"
}
