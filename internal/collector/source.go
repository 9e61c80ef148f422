package collector

import (
	"context"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
)

// Data categories reported in a bundle.
const (
	CategoryMetrics     = "metrics"
	CategoryServices    = "services"
	CategoryReplication = "replication"
	CategoryEvents      = "events"
)

// Bundle is the complete per-node collection result for one cycle.
// Partial holds per-category failures on an otherwise reachable node;
// the remaining categories are still processed.
type Bundle struct {
	Metrics  []domain.MetricSample
	Services []domain.ServiceStatus
	Links    []domain.ReplicationLinkInfo
	Events   []domain.SecurityEvent
	Partial  map[string]error
}

// Source queries one node for a full bundle. Implementations must honor
// the caller-supplied deadline and cancellation, and must wrap
// credential errors with ErrAuthentication so they are not retried.
type Source interface {
	Collect(ctx context.Context, node config.NodeConfig) (*Bundle, error)
}
