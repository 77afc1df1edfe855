package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beaconkit/beacon/pkg/environ"
	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/pkg/storage"
	"github.com/beaconkit/beacon/plugin"
)

// Batch defaults.
const (
	DefaultBatchMaxSize    = 10
	DefaultBatchMaxWait    = 5 * time.Second
	DefaultBatchMaxRetries = 3

	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// BatchConfig tunes batching and the offline queue.
type BatchConfig struct {
	// MaxSize flushes the batch when it reaches this many items
	// (default 10).
	MaxSize int
	// MaxWait flushes a partial batch after this long (default 5s).
	MaxWait time.Duration
	// MaxRetries bounds per-item redelivery attempts during a flush
	// (default 3).
	MaxRetries int
	// FlushOnUnload forces a best-effort flush when the host emits
	// beforeunload (default when constructed via NewBatch: true).
	FlushOnUnload *bool
	// StorageKey overrides the offline queue key (default
	// storage.QueueKey).
	StorageKey string
	// Logger overrides the log destination.
	Logger *log.Logger
}

// queueEntry is one persisted offline item. Data holds the JSON-encoded
// payload for the given method.
type queueEntry struct {
	Method  plugin.Method   `json:"type"`
	Data    json.RawMessage `json:"data"`
	Retries int             `json:"retries,omitempty"`
}

type batchItem struct {
	payload plugin.Payload
	next    plugin.Next
}

// Batch accumulates events client-side to reduce request volume and
// survives connectivity loss with a durable FIFO queue. Server-side
// environments pass straight through.
//
// While offline every processed event is appended to the durable queue; on
// reconnect the queue is drained strictly in order before the triggering
// event is forwarded. Items are dequeued one at a time, so a crash
// mid-drain re-delivers at most the in-flight item (at-least-once).
type Batch struct {
	cfg     BatchConfig
	adapter storage.Adapter
	env     *environ.Environment
	key     string
	logger  *log.Logger

	mu        sync.Mutex
	pending   []batchItem
	timer     *time.Timer
	reconnect bool

	// deliverMu serializes flush deliveries so batches drain in order
	// while mu stays free for new events to accumulate.
	deliverMu sync.Mutex

	offOnline func()
	offUnload func()
}

// NewBatch creates the batching stage.
func NewBatch(adapter storage.Adapter, env *environ.Environment, cfg BatchConfig) *Batch {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultBatchMaxSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultBatchMaxWait
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultBatchMaxRetries
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = storage.QueueKey
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	flushOnUnload := true
	if cfg.FlushOnUnload != nil {
		flushOnUnload = *cfg.FlushOnUnload
	}

	m := &Batch{
		cfg:     cfg,
		adapter: adapter,
		env:     env,
		key:     cfg.StorageKey,
		logger:  cfg.Logger,
	}

	if env.IsClient() {
		m.offOnline = env.Events().On(environ.EventOnline, func() {
			m.mu.Lock()
			m.reconnect = true
			m.mu.Unlock()
		})
		if flushOnUnload {
			m.offUnload = env.Events().On(environ.EventBeforeUnload, func() {
				m.Flush(context.Background())
			})
		}
	}

	return m
}

func (m *Batch) Name() string { return "batch" }

// Process routes the payload through the offline queue and the in-memory
// batch. A full batch is delivered before the call returns, with retry
// waits spent outside the batch lock so concurrent callers keep
// accumulating.
func (m *Batch) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	if !m.env.IsClient() {
		return next(ctx, p)
	}

	m.mu.Lock()

	if !m.env.Online() {
		err := m.enqueueOfflineLocked(ctx, p)
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("persist offline event: %w", err)
		}
		return nil
	}

	// Drain anything queued while offline before this call's own event
	if m.reconnect || m.offlineDepthLocked(ctx) > 0 {
		if m.drainOfflineLocked(ctx, next) {
			m.reconnect = false
		}
	}

	m.pending = append(m.pending, batchItem{payload: p.Clone(), next: next})
	observability.SetBatchPending(len(m.pending))

	var items []batchItem
	if len(m.pending) >= m.cfg.MaxSize {
		items = m.takeLocked()
	} else {
		m.scheduleFlushLocked()
	}
	m.mu.Unlock()

	m.deliver(ctx, items)
	return nil
}

// Flush forces delivery of the accumulated batch.
func (m *Batch) Flush(ctx context.Context) {
	m.mu.Lock()
	items := m.takeLocked()
	m.mu.Unlock()
	m.deliver(ctx, items)
}

// PendingLen returns the size of the in-memory batch.
func (m *Batch) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Destroy detaches listeners, stops the flush timer and delivers what is
// left.
func (m *Batch) Destroy() error {
	if m.offOnline != nil {
		m.offOnline()
	}
	if m.offUnload != nil {
		m.offUnload()
	}
	m.Flush(context.Background())
	return nil
}

// scheduleFlushLocked (re)arms the single flush timer at MaxWait.
func (m *Batch) scheduleFlushLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.MaxWait, func() {
		m.Flush(context.Background())
	})
}

// takeLocked disarms the flush timer and hands the accumulated batch to
// the caller for delivery outside the lock.
func (m *Batch) takeLocked() []batchItem {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	items := m.pending
	m.pending = nil
	observability.SetBatchPending(0)
	return items
}

// deliver pushes taken items through their stored continuations, retrying
// each with bounded exponential backoff and jitter. An item that still
// fails is persisted to the offline queue when connectivity is the likely
// cause, otherwise dropped with a logged error. Deliveries are serialized
// but never hold the batch lock, so retry waits do not block Process or
// the flush timer.
func (m *Batch) deliver(ctx context.Context, items []batchItem) {
	if len(items) == 0 {
		return
	}

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	for _, item := range items {
		err := m.deliverWithRetry(ctx, item)
		if err == nil {
			continue
		}
		if !m.env.Online() {
			m.mu.Lock()
			qErr := m.enqueueOfflineLocked(ctx, item.payload)
			m.mu.Unlock()
			if qErr != nil {
				observability.RecordDroppedEvent("offline_requeue_failed")
				m.logger.Printf("[batch] dropping event, offline requeue failed: %v", qErr)
			}
			continue
		}
		observability.RecordDroppedEvent("flush_retries_exhausted")
		m.logger.Printf("[batch] dropping event after %d retries: %v", m.cfg.MaxRetries, err)
	}
}

func (m *Batch) deliverWithRetry(ctx context.Context, item batchItem) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	return backoff.Retry(func() error {
		return item.next(ctx, item.payload)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.cfg.MaxRetries)), ctx))
}

// enqueueOfflineLocked appends the payload to the durable FIFO queue.
func (m *Batch) enqueueOfflineLocked(ctx context.Context, p plugin.Payload) error {
	entries, err := m.loadQueueLocked(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	entries = append(entries, queueEntry{Method: p.Method(), Data: data})
	if err := m.saveQueueLocked(ctx, entries); err != nil {
		return err
	}
	observability.SetOfflineQueueDepth(len(entries))
	return nil
}

// drainOfflineLocked replays the durable queue in order through next.
// Each delivered entry is removed individually before the next is
// attempted; a failing entry stays queued along with everything behind it.
// Returns true on a clean drain.
func (m *Batch) drainOfflineLocked(ctx context.Context, next plugin.Next) bool {
	for {
		entries, err := m.loadQueueLocked(ctx)
		if err != nil {
			m.logger.Printf("[batch] offline queue read failed: %v", err)
			return false
		}
		if len(entries) == 0 {
			return true
		}

		head := entries[0]
		payload, err := decodeEntry(head)
		if err != nil {
			// Corrupt head entry: discard it rather than wedge the queue
			m.logger.Printf("[batch] discarding corrupt queue entry: %v", err)
			if err := m.saveQueueLocked(ctx, entries[1:]); err != nil {
				return false
			}
			observability.SetOfflineQueueDepth(len(entries) - 1)
			continue
		}

		if err := next(ctx, payload); err != nil {
			m.logger.Printf("[batch] offline replay failed, keeping %d queued: %v", len(entries), err)
			return false
		}
		if err := m.saveQueueLocked(ctx, entries[1:]); err != nil {
			m.logger.Printf("[batch] offline queue update failed: %v", err)
			return false
		}
		observability.SetOfflineQueueDepth(len(entries) - 1)
	}
}

func (m *Batch) offlineDepthLocked(ctx context.Context) int {
	entries, err := m.loadQueueLocked(ctx)
	if err != nil {
		return 0
	}
	return len(entries)
}

func (m *Batch) loadQueueLocked(ctx context.Context) ([]queueEntry, error) {
	raw, err := m.adapter.Get(ctx, m.key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	var entries []queueEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	return entries, nil
}

func (m *Batch) saveQueueLocked(ctx context.Context, entries []queueEntry) error {
	if len(entries) == 0 {
		return m.adapter.Remove(ctx, m.key)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	return m.adapter.Set(ctx, m.key, data)
}

func decodeEntry(e queueEntry) (plugin.Payload, error) {
	switch e.Method {
	case plugin.MethodTrack:
		var ev plugin.Event
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case plugin.MethodPage:
		var pv plugin.PageView
		if err := json.Unmarshal(e.Data, &pv); err != nil {
			return nil, err
		}
		return &pv, nil
	case plugin.MethodIdentify:
		var id plugin.Identity
		if err := json.Unmarshal(e.Data, &id); err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, fmt.Errorf("unknown queue entry method %q", e.Method)
}
