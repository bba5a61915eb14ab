// Package connectivity tracks whether the check-in service is reachable and
// kicks off reconciliation when it becomes reachable again.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is the probe period used when none is configured.
const DefaultInterval = 15 * time.Second

// Prober answers whether the service is reachable right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// Pending reports whether there is queued work.
type Pending interface {
	HasPending() bool
}

// Trigger asks for one reconciliation pass.
type Trigger interface {
	Trigger()
}

// Monitor holds the current connectivity state. It starts offline, so the
// first successful probe counts as a transition to online.
type Monitor struct {
	prober   Prober
	pending  Pending
	trigger  Trigger
	interval time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	online bool

	subMu   sync.Mutex
	subs    map[int]chan bool
	nextSub int

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Monitor) { m.log = log }
}

// New returns a Monitor. trigger is called once per offline to online
// transition, and only when pending reports queued work. Either may be nil.
func New(prober Prober, pending Pending, trigger Trigger, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		pending:  pending,
		trigger:  trigger,
		interval: DefaultInterval,
		log:      logrus.StandardLogger(),
		subs:     make(map[int]chan bool),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records an observation from any source (a probe, the OS
// network callback, a failed call). It reports whether the state changed.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.publish(online)
	m.mu.Unlock()

	m.log.WithField("online", online).Info("Connectivity changed")
	if online {
		m.kick()
	}
	return true
}

// Check probes once and records the result. A probe aborted by ctx leaves
// the state as it was.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	if err != nil {
		m.log.WithError(err).Debug("Probe failed")
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Foreground handles the app regaining focus: it probes and, if already
// online, still asks for a pass when work is queued.
func (m *Monitor) Foreground(ctx context.Context) {
	wasOnline := m.Online()
	if m.Check(ctx) && wasOnline {
		m.kick()
	}
}

func (m *Monitor) kick() {
	if m.trigger == nil {
		return
	}
	if m.pending != nil && !m.pending.HasPending() {
		return
	}
	m.trigger.Trigger()
}

// Subscribe returns a channel holding the latest state, starting with the
// current one. cancel closes it.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.online
	m.subMu.Unlock()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

// publish must be called with mu held so subscribers see states in order.
func (m *Monitor) publish(online bool) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Start probes immediately and then every interval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop(ctx, m.stopCh)
	m.log.WithField("interval", m.interval).Info("Connectivity monitor started")
}

// Stop ends the probe loop and waits for it.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.runMu.Unlock()

	m.wg.Wait()
	m.log.Info("Connectivity monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
