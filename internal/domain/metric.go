package domain

import "time"

// MetricSample is one counter reading taken from a node during a cycle.
// Samples are immutable and are consumed by the threshold engine in the
// same cycle they were collected; long-term storage goes through
// pkg/metrics, not the database.
type MetricSample struct {
	NodeID    int64     `json:"node_id,string"`
	Counter   string    `json:"counter"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
