package alerting

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/dirsentry/dirsentry/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicAlertFired is published on the event bus for every dispatched alert.
const TopicAlertFired = "alert.fired"

var queueBucket = []byte("dispatch_queue")

// Sink delivers a finalized alert to an external system (mail, SIEM).
type Sink interface {
	Deliver(ctx context.Context, alert *domain.MonAlert) error
}

// Dispatcher hands alerts to the sink. Failed deliveries are queued in
// a bbolt bucket and retried with backoff until they succeed; an alert
// is never silently dropped.
type Dispatcher struct {
	sink    Sink
	bus     EventBus.Bus
	db      *bolt.DB
	backoff time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher opens the retry queue at queuePath and starts the
// retry loop.
func NewDispatcher(sink Sink, bus EventBus.Bus, queuePath string, backoff time.Duration) (*Dispatcher, error) {
	db, err := bolt.Open(queuePath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open dispatch queue")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init dispatch queue")
	}
	d := &Dispatcher{
		sink:    sink,
		bus:     bus,
		db:      db,
		backoff: backoff,
		stop:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.retryLoop()
	return d, nil
}

// Dispatch publishes the alert on the bus and attempts delivery once,
// queueing it on failure.
func (d *Dispatcher) Dispatch(alert *domain.MonAlert) {
	if d.bus != nil {
		d.bus.Publish(TopicAlertFired, alert)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.sink.Deliver(ctx, alert); err != nil {
		zap.L().Warn("alert delivery failed, queued for retry",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
		d.enqueue(alert)
	}
}

// Stop closes the retry loop and the queue.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
		_ = d.db.Close()
	})
}

// Pending returns the number of alerts awaiting redelivery.
func (d *Dispatcher) Pending() int {
	var n int
	_ = d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(queueBucket).Stats().KeyN
		return nil
	})
	return n
}

func (d *Dispatcher) enqueue(alert *domain.MonAlert) {
	data, err := json.Marshal(alert)
	if err != nil {
		zap.L().Error("failed to encode queued alert", zap.Error(err))
		return
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(alert.ID))
	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Put(key, data)
	}); err != nil {
		zap.L().Error("failed to queue alert for retry",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) retryLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.backoff)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.drainQueue()
		}
	}
}

// drainQueue redelivers queued alerts, removing each on success.
func (d *Dispatcher) drainQueue() {
	type queued struct {
		key   []byte
		alert *domain.MonAlert
	}
	var items []queued
	_ = d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(k, v []byte) error {
			alert := &domain.MonAlert{}
			if err := json.Unmarshal(v, alert); err != nil {
				zap.L().Error("dropping undecodable queued alert", zap.Error(err))
				return nil
			}
			items = append(items, queued{key: append([]byte(nil), k...), alert: alert})
			return nil
		})
	})
	for _, item := range items {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.sink.Deliver(ctx, item.alert)
		cancel()
		if err != nil {
			zap.L().Debug("alert redelivery failed, will retry",
				zap.Int64("alert_id", item.alert.ID),
				zap.Error(err),
			)
			continue
		}
		_ = d.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(queueBucket).Delete(item.key)
		})
	}
}
