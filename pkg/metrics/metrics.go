// Package metrics keeps engine gauges and per-node counter samples in an
// embedded time-series store under the application workdir.
package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
	"github.com/pkg/errors"
)

var (
	mu      sync.RWMutex
	storage tstorage.Storage
)

// InitMetrics opens the embedded metric store under workdir.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(6*time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return errors.Wrap(err, "init metrics storage")
	}
	storage = s
	return nil
}

// SetGauge records one engine-level gauge value at the current time.
func SetGauge(name string, value int64) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(value)},
	}})
}

// RecordNodeSample stores one collected counter sample labeled by node.
func RecordNodeSample(node, counter string, value float64, ts time.Time) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    counter,
		Labels:    []tstorage.Label{{Name: "node", Value: node}},
		DataPoint: tstorage.DataPoint{Timestamp: ts.Unix(), Value: value},
	}})
}

// SelectNodeSamples returns stored samples for one node counter over
// [start, end]. Feeds the report API's counter statistics.
func SelectNodeSamples(node, counter string, start, end time.Time) ([]*tstorage.DataPoint, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, errors.New("metrics storage not initialized")
	}
	points, err := storage.Select(counter, []tstorage.Label{{Name: "node", Value: node}}, start.Unix(), end.Unix())
	if err != nil {
		if errors.Is(err, tstorage.ErrNoDataPoints) {
			return nil, nil
		}
		return nil, err
	}
	return points, nil
}

// Close flushes and closes the metric store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
