// Package threat classifies streamed security events into threat
// indicators via windowed per-subject aggregation.
package threat

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/dirsentry/dirsentry/internal/domain"
	"go.uber.org/zap"
)

// TopicThreatRaised is published on the event bus for every indicator.
const TopicThreatRaised = "threat.raised"

// IndicatorRepository persists raised indicators for the report consumer.
type IndicatorRepository interface {
	Save(ctx context.Context, indicator *domain.MonThreatIndicator) error
}

type bucketKey struct {
	ruleType string
	subject  string
}

type bucket struct {
	times []time.Time
	nodes map[string]bool
	fired bool // indicator already raised for the current window
}

// Detector keeps a sliding window of event timestamps per
// (rule type, subject). An indicator is emitted once per key when the
// threshold is first crossed in the current window; the key re-arms
// only after its window empties out.
type Detector struct {
	rules   []domain.ThreatRule
	repo    IndicatorRepository
	bus     EventBus.Bus
	idgen   *snowflake.Node
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

// NewDetector builds a detector over the configured rule table.
// repo and bus may be nil in tests.
func NewDetector(rules []domain.ThreatRule, repo IndicatorRepository, bus EventBus.Bus) (*Detector, error) {
	idgen, err := snowflake.NewNode(2)
	if err != nil {
		return nil, err
	}
	return &Detector{
		rules:   rules,
		repo:    repo,
		bus:     bus,
		idgen:   idgen,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}, nil
}

// Classify folds one batch of events into the sliding windows and
// returns the indicators raised by this batch. Events older than a
// rule's window are evicted before evaluation.
func (d *Detector) Classify(ctx context.Context, events []domain.SecurityEvent, nodeNames map[int64]string) []*domain.MonThreatIndicator {
	for _, ev := range events {
		for i := range d.rules {
			rule := &d.rules[i]
			if rule.Category != ev.Category || ev.Subject == "" {
				continue
			}
			key := bucketKey{ruleType: rule.Type, subject: ev.Subject}
			b := d.buckets[key]
			if b == nil {
				b = &bucket{nodes: make(map[string]bool)}
				d.buckets[key] = b
			}
			b.times = append(b.times, ev.Timestamp)
			if name := nodeNames[ev.NodeID]; name != "" {
				b.nodes[name] = true
			}
		}
	}

	now := d.now()
	var raised []*domain.MonThreatIndicator
	for i := range d.rules {
		rule := &d.rules[i]
		cutoff := now.Add(-rule.Window)
		for key, b := range d.buckets {
			if key.ruleType != rule.Type {
				continue
			}
			b.times = evict(b.times, cutoff)
			if len(b.times) == 0 {
				// window emptied: the key re-arms for the next burst
				delete(d.buckets, key)
				continue
			}
			if b.fired || len(b.times) <= rule.Trigger {
				continue
			}
			b.fired = true
			indicator := &domain.MonThreatIndicator{
				ID:          d.idgen.Generate().Int64(),
				Type:        rule.Type,
				Severity:    rule.Severity,
				Subject:     key.subject,
				Count:       len(b.times),
				WindowStart: earliest(b.times),
				WindowEnd:   now,
				Nodes:       joinNodes(b.nodes),
			}
			raised = append(raised, indicator)
			d.emit(ctx, indicator)
		}
	}
	return raised
}

func (d *Detector) emit(ctx context.Context, indicator *domain.MonThreatIndicator) {
	zap.L().Warn("threat indicator raised",
		zap.String("type", indicator.Type),
		zap.String("severity", indicator.Severity),
		zap.String("subject", indicator.Subject),
		zap.Int("count", indicator.Count),
		zap.String("nodes", indicator.Nodes),
	)
	if d.repo != nil {
		if err := d.repo.Save(ctx, indicator); err != nil {
			zap.L().Error("failed to persist threat indicator", zap.Error(err))
		}
	}
	if d.bus != nil {
		d.bus.Publish(TopicThreatRaised, indicator)
	}
}

func evict(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func earliest(times []time.Time) time.Time {
	min := times[0]
	for _, t := range times[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
}

func joinNodes(nodes map[string]bool) string {
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
