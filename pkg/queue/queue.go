// Package queue owns the in-memory offline queue of check-in operations
// and keeps it mirrored in durable storage.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// DefaultMaxRetry is the number of failed attempts after which an
// operation is evicted.
const DefaultMaxRetry = 3

// ErrNotPersisted wraps a storage failure. The in-memory mutation it
// accompanies has still taken effect.
var ErrNotPersisted = errors.New("offline queue not persisted")

// Store is the durable side of the queue.
type Store interface {
	Load(ctx context.Context) ([]models.QueuedOperation, error)
	Save(ctx context.Context, ops []models.QueuedOperation) error
}

// Snapshot is the published state of the queue.
type Snapshot struct {
	Operations []models.QueuedOperation
	HasPending bool
}

// Eviction describes an operation the queue dropped on its own.
type Eviction struct {
	Operation models.QueuedOperation
	Reason    EvictionReason
}

// EvictionReason tells why an operation left the queue without being sent.
type EvictionReason string

const (
	EvictedMaxRetry EvictionReason = "max_retry"
	EvictedOverflow EvictionReason = "overflow"
)

// Manager is the single authority over pending operations. All mutations
// go through it; each one is persisted before the call returns.
type Manager struct {
	mu       sync.Mutex
	ops      []models.QueuedOperation
	store    Store
	log      logrus.FieldLogger
	maxRetry int
	maxSize  int
	now      func() time.Time
	newID    func() string
	lastAt   time.Time

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	onEvict func(Eviction)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetry overrides DefaultMaxRetry.
func WithMaxRetry(n int) Option {
	return func(m *Manager) { m.maxRetry = n }
}

// WithMaxSize bounds the queue. When full, the oldest operation is dropped
// to make room. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(m *Manager) { m.maxSize = n }
}

// WithClock sets the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the operation ID source.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithEvictionHandler is called, outside the queue lock, for every
// operation dropped by retry exhaustion or overflow.
func WithEvictionHandler(fn func(Eviction)) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// New loads the persisted queue and returns a Manager over it. A load
// failure is logged and the queue starts empty.
func New(ctx context.Context, store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		log:      logrus.StandardLogger(),
		maxRetry: DefaultMaxRetry,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		subs:     make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(m)
	}

	ops, err := store.Load(ctx)
	if err != nil {
		m.log.WithError(err).Error("Failed to load offline queue, starting empty")
		ops = nil
	}
	m.ops = ops
	for _, op := range ops {
		if op.CreatedAt.After(m.lastAt) {
			m.lastAt = op.CreatedAt
		}
	}
	return m
}

// Enqueue appends a new operation at the tail of the queue.
// The returned operation is valid even when err wraps ErrNotPersisted.
func (m *Manager) Enqueue(ctx context.Context, qrCode, eventID string, kind models.OperationKind) (models.QueuedOperation, error) {
	m.mu.Lock()

	op := models.QueuedOperation{
		ID:        m.newID(),
		QRCode:    qrCode,
		EventID:   eventID,
		Kind:      kind,
		CreatedAt: m.nextTimestamp(),
	}

	var dropped []Eviction
	if m.maxSize > 0 {
		for len(m.ops) >= m.maxSize {
			dropped = append(dropped, Eviction{Operation: m.ops[0], Reason: EvictedOverflow})
			m.ops = m.ops[1:]
		}
	}
	m.ops = append(m.ops, op)

	err := m.commit(ctx)
	m.publishLocked()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"op_id": op.ID, "kind": op.Kind, "event_id": op.EventID}).Debug("Operation queued")
	m.evicted(dropped...)
	return op, err
}

// nextTimestamp keeps CreatedAt non-decreasing at the millisecond
// resolution it is persisted with, even if the wall clock steps back.
func (m *Manager) nextTimestamp() time.Time {
	t := m.now().UTC().Truncate(time.Millisecond)
	if t.Before(m.lastAt) {
		t = m.lastAt
	}
	m.lastAt = t
	return t
}

// Remove deletes the operation with the given ID. Removing an unknown ID
// is a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return nil
	}
	m.ops = append(m.ops[:i:i], m.ops[i+1:]...)

	err := m.commit(ctx)
	m.publishLocked()
	m.mu.Unlock()
	return err
}

// IncrementRetry records a failed attempt. When the new count would reach
// the retry limit the operation is evicted instead and evicted is true.
// An unknown ID is a no-op.
func (m *Manager) IncrementRetry(ctx context.Context, id string) (evicted bool, err error) {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return false, nil
	}

	var dropped []Eviction
	if m.ops[i].RetryCount+1 >= m.maxRetry {
		op := m.ops[i]
		op.RetryCount++
		dropped = append(dropped, Eviction{Operation: op, Reason: EvictedMaxRetry})
		m.ops = append(m.ops[:i:i], m.ops[i+1:]...)
		evicted = true
	} else {
		m.ops[i].RetryCount++
	}

	err = m.commit(ctx)
	m.publishLocked()
	m.mu.Unlock()

	m.evicted(dropped...)
	return evicted, err
}

// Clear drops every pending operation and rewrites the store as empty.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.ops = nil
	err := m.commit(ctx)
	m.publishLocked()
	m.mu.Unlock()

	m.log.Info("Offline queue cleared")
	return err
}

// List returns a copy of the pending operations, oldest first.
func (m *Manager) List() []models.QueuedOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

// Get returns the pending operation with the given ID.
func (m *Manager) Get(id string) (models.QueuedOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.ops[i], true
	}
	return models.QueuedOperation{}, false
}

// HasPending reports whether any operation is queued.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops) > 0
}

// Len returns the number of queued operations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// MaxRetry returns the configured retry limit.
func (m *Manager) MaxRetry() int {
	return m.maxRetry
}

// Subscribe returns a channel that always holds the latest snapshot.
// Slow subscribers skip intermediate states but never miss the last one.
// The current state is delivered immediately. cancel closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.publishTo(ch, m.snapshotLocked())
	m.subMu.Unlock()
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
	return ch, cancel
}

// publishLocked must be called with mu held, so subscribers receive
// snapshots in mutation order.
func (m *Manager) publishLocked() {
	snap := m.snapshotLocked()
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		m.publishTo(ch, snap)
	}
}

// publishTo replaces whatever is buffered in ch with snap.
func (m *Manager) publishTo(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *Manager) evicted(evs ...Eviction) {
	for _, ev := range evs {
		m.log.WithFields(logrus.Fields{
			"op_id":       ev.Operation.ID,
			"kind":        ev.Operation.Kind,
			"event_id":    ev.Operation.EventID,
			"retry_count": ev.Operation.RetryCount,
			"reason":      ev.Reason,
		}).Warn("Operation evicted from offline queue")
		if m.onEvict != nil {
			m.onEvict(ev)
		}
	}
}

// commit persists the current list. Must be called with mu held.
func (m *Manager) commit(ctx context.Context) error {
	if err := m.store.Save(ctx, m.copyLocked()); err != nil {
		m.log.WithError(err).Error("Failed to persist offline queue")
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.ops {
		if m.ops[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) copyLocked() []models.QueuedOperation {
	out := make([]models.QueuedOperation, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{Operations: m.copyLocked(), HasPending: len(m.ops) > 0}
}
