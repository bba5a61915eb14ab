// Package reconcile drains the offline queue against the check-in service.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wurt83ow/checkin-client/pkg/appcontext"
	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// ErrPassInProgress is returned by RunPass while another pass is running.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// DefaultCallTimeout bounds a single remote call.
const DefaultCallTimeout = 10 * time.Second

// Queue is the part of the queue manager the engine mutates.
type Queue interface {
	List() []models.QueuedOperation
	Get(id string) (models.QueuedOperation, bool)
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) (bool, error)
}

// PassRecorder stores pass summaries.
type PassRecorder interface {
	RecordPass(models.PassSummary) error
}

// Engine runs reconciliation passes. At most one pass runs at a time.
type Engine struct {
	svc         checkin.Service
	queue       Queue
	reporter    Reporter
	recorder    PassRecorder
	log         logrus.FieldLogger
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string

	running  atomic.Bool
	followUp atomic.Bool
	triggers chan struct{}

	runMu   sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithReporter sets where terminal and abandoned operations are reported.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithPassRecorder stores a summary after every pass.
func WithPassRecorder(r PassRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithCallTimeout bounds each remote call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock sets the time source of pass summaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the pass ID source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New returns an Engine draining q into svc.
func New(svc checkin.Service, q Queue, opts ...Option) *Engine {
	e := &Engine{
		svc:         svc,
		queue:       q,
		log:         logrus.StandardLogger(),
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
		triggers:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	if e.reporter == nil {
		e.reporter = LogReporter{Log: e.log}
	}
	return e
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Trigger asks the background loop for a pass. Triggers that arrive while
// one is already pending collapse into it.
func (e *Engine) Trigger() {
	select {
	case e.triggers <- struct{}{}:
	default:
	}
}

// RunPass runs one pass now, in the caller's goroutine. It returns
// ErrPassInProgress instead of waiting if a pass is already running.
func (e *Engine) RunPass(ctx context.Context) (models.PassSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return models.PassSummary{}, ErrPassInProgress
	}
	defer e.finish()
	return e.pass(ctx), nil
}

func (e *Engine) finish() {
	e.running.Store(false)
	if e.followUp.Swap(false) {
		e.Trigger()
	}
}

// Start runs the trigger loop until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go e.loop(ctx, e.stopCh)
	e.log.Info("Reconciliation engine started")
}

// Stop ends the loop and waits for a running pass to return. Stop does not
// cancel that pass; cancel the context given to Start for that.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.started {
		e.runMu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.runMu.Unlock()

	e.wg.Wait()
	e.log.Info("Reconciliation engine stopped")
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-e.triggers:
			if _, err := e.RunPass(ctx); errors.Is(err, ErrPassInProgress) {
				// a manual pass holds the slot; run again once it is done
				e.followUp.Store(true)
				if !e.running.Load() && e.followUp.Swap(false) {
					e.Trigger()
				}
			}
		}
	}
}

type outcome int

const (
	succeeded outcome = iota
	retried
	abandoned
	rejected
	interrupted
)

func (e *Engine) pass(ctx context.Context) models.PassSummary {
	passID := e.newID()
	ctx = appcontext.WithPassID(ctx, passID)
	log := e.log.WithField("pass_id", passID)

	// operations enqueued from here on wait for the next pass
	ops := e.queue.List()
	summary := models.PassSummary{PassID: passID, StartedAt: e.now().UTC()}
	log.WithField("pending", len(ops)).Info("Reconciliation pass started")

	for _, op := range ops {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		// cleared or removed since the snapshot was taken
		current, ok := e.queue.Get(op.ID)
		if !ok {
			log.WithField("op_id", op.ID).Debug("Operation left the queue, skipping")
			continue
		}
		switch e.process(ctx, log, current) {
		case succeeded:
			summary.Succeeded++
		case retried:
			summary.Retried++
		case abandoned:
			summary.Abandoned++
		case rejected:
			summary.Rejected++
		case interrupted:
			summary.Cancelled = true
		}
		if summary.Cancelled {
			break
		}
		summary.Processed++
	}
	summary.FinishedAt = e.now().UTC()

	log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"retried":   summary.Retried,
		"abandoned": summary.Abandoned,
		"rejected":  summary.Rejected,
		"cancelled": summary.Cancelled,
	}).Info("Reconciliation pass finished")

	if e.recorder != nil {
		if err := e.recorder.RecordPass(summary); err != nil {
			log.WithError(err).Warn("Failed to record pass summary")
		}
	}
	return summary
}

// process sends one operation and applies the result to the queue.
// Errors from the queue are persistence failures: the in-memory change
// stands, so the pass carries on.
func (e *Engine) process(ctx context.Context, log logrus.FieldLogger, op models.QueuedOperation) outcome {
	log = log.WithFields(logrus.Fields{
		"op_id":       op.ID,
		"kind":        op.Kind,
		"event_id":    op.EventID,
		"retry_count": op.RetryCount,
	})

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
	}
	_, err := checkin.Do(callCtx, e.svc, op)
	cancel()

	// the outcome of a finished call is recorded even if the pass is being
	// cancelled, otherwise a delivered check-in would be sent again
	qctx := context.WithoutCancel(ctx)

	if err == nil {
		if err := e.queue.Remove(qctx, op.ID); err != nil {
			log.WithError(err).Warn("Sent operation not removed durably")
		}
		log.Debug("Operation sent")
		return succeeded
	}

	// the pass was cancelled mid-call: leave the operation untouched
	if ctx.Err() != nil {
		log.Debug("Pass cancelled during call")
		return interrupted
	}

	kind := checkin.Classify(err)
	log = log.WithField("error_kind", kind).WithError(err)

	if kind.Retryable() {
		evicted, qerr := e.queue.IncrementRetry(qctx, op.ID)
		if qerr != nil {
			log.WithError(qerr).Warn("Retry count not persisted")
		}
		if evicted {
			op.RetryCount++
			e.reporter.Report(Event{Type: EventAbandoned, Operation: op, Kind: kind, Err: err})
			return abandoned
		}
		log.Info("Operation will be retried")
		return retried
	}

	if qerr := e.queue.Remove(qctx, op.ID); qerr != nil {
		log.WithError(qerr).Warn("Rejected operation not removed durably")
	}
	e.reporter.Report(Event{Type: EventTerminal, Operation: op, Kind: kind, Err: err})
	return rejected
}
