// Package services is the application facade used by the CLI and the scan
// console: it ties the gate, the offline queue, connectivity and the
// reconciliation engine into the operations staff actually perform.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/connectivity"
	"github.com/wurt83ow/checkin-client/pkg/gate"
	"github.com/wurt83ow/checkin-client/pkg/logger"
	"github.com/wurt83ow/checkin-client/pkg/models"
	"github.com/wurt83ow/checkin-client/pkg/queue"
	"github.com/wurt83ow/checkin-client/pkg/reconcile"
	"github.com/wurt83ow/checkin-client/pkg/syncinfo"
)

var (
	// ErrOffline disables manual sync while the service is unreachable.
	ErrOffline = errors.New("offline: sync is unavailable")
	// ErrNothingToSync disables manual sync while the queue is empty.
	ErrNothingToSync = errors.New("nothing to sync")
	// ErrNoEvent rejects a scan without a target event.
	ErrNoEvent = errors.New("event id is required")
)

// Remote is the check-in API including login.
type Remote interface {
	checkin.Service
	Login(ctx context.Context, email, password string) (string, error)
}

// TokenStore keeps the bearer token between runs.
type TokenStore interface {
	Save(token string) error
	Clear() error
}

// Components are the collaborators a Service is built from.
type Components struct {
	Gate        *gate.Gate
	Queue       *queue.Manager
	Engine      *reconcile.Engine
	Monitor     *connectivity.Monitor
	Remote      Remote
	Session     TokenStore
	SyncInfo    *syncinfo.SyncManager
	CallTimeout time.Duration
	Log         logrus.FieldLogger
}

// Service implements the staff-facing operations.
type Service struct {
	gate        *gate.Gate
	queue       *queue.Manager
	engine      *reconcile.Engine
	monitor     *connectivity.Monitor
	remote      Remote
	session     TokenStore
	syncInfo    *syncinfo.SyncManager
	callTimeout time.Duration
	log         logrus.FieldLogger
}

// NewServices wires c into a Service.
func NewServices(c Components) *Service {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		gate:        c.Gate,
		queue:       c.Queue,
		engine:      c.Engine,
		monitor:     c.Monitor,
		remote:      c.Remote,
		session:     c.Session,
		syncInfo:    c.SyncInfo,
		callTimeout: c.CallTimeout,
		log:         log,
	}
}

// ScanResult is the outcome of a scan that was not rejected.
type ScanResult struct {
	Code string `json:"code"`
	// Record is set when the service accepted the operation right away.
	Record *models.CheckinRecord `json:"record,omitempty"`
	// Operation is set when the scan was queued for later delivery.
	Operation *models.QueuedOperation `json:"operation,omitempty"`
}

// Queued reports whether the scan is waiting in the offline queue.
func (r ScanResult) Queued() bool {
	return r.Operation != nil
}

// Scan validates raw and sends it, or queues it when the service is not
// reachable. Terminal rejections are returned as *checkin.ServiceError and
// nothing is queued. A queued result may come with an error wrapping
// queue.ErrNotPersisted.
func (s *Service) Scan(ctx context.Context, raw, eventID string, kind models.OperationKind) (ScanResult, error) {
	if !kind.Valid() {
		return ScanResult{}, fmt.Errorf("unknown operation kind %q", kind)
	}
	if eventID == "" {
		return ScanResult{}, ErrNoEvent
	}
	code, err := s.gate.Admit(raw)
	if err != nil {
		return ScanResult{}, err
	}
	log := s.log.WithFields(logrus.Fields{"qr": logger.MaskCode(code), "event_id": eventID, "kind": kind})

	if !s.monitor.Online() {
		log.Info("Offline, queueing scan")
		return s.enqueue(ctx, code, eventID, kind)
	}

	callCtx, cancel := s.withCallTimeout(ctx)
	defer cancel()

	rec, err := checkin.Do(callCtx, s.remote, models.QueuedOperation{QRCode: code, EventID: eventID, Kind: kind})
	if err == nil {
		log.WithField("record_id", rec.ID).Info("Scan accepted")
		return ScanResult{Code: code, Record: &rec}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ScanResult{}, ctxErr
	}

	errKind := checkin.Classify(err)
	if errKind.Retryable() {
		log.WithError(err).Warn("Service unreachable, queueing scan")
		s.monitor.SetOnline(false)
		return s.enqueue(ctx, code, eventID, kind)
	}
	log.WithError(err).WithField("error_kind", errKind).Info("Scan rejected")
	var se *checkin.ServiceError
	if errors.As(err, &se) {
		return ScanResult{Code: code}, se
	}
	return ScanResult{Code: code}, &checkin.ServiceError{Kind: errKind, Message: checkin.UserMessage(errKind), Err: err}
}

func (s *Service) enqueue(ctx context.Context, code, eventID string, kind models.OperationKind) (ScanResult, error) {
	op, err := s.queue.Enqueue(ctx, code, eventID, kind)
	return ScanResult{Code: code, Operation: &op}, err
}

// CanSync reports whether a manual sync would do anything.
func (s *Service) CanSync() bool {
	return s.monitor.Online() && s.queue.HasPending()
}

// SyncNow runs one reconciliation pass in the caller's goroutine. While
// offline it probes once first, so a recovered service is picked up without
// waiting for the next periodic probe.
func (s *Service) SyncNow(ctx context.Context) (models.PassSummary, error) {
	if !s.monitor.Online() && !s.check(ctx) {
		return models.PassSummary{}, ErrOffline
	}
	if !s.queue.HasPending() {
		return models.PassSummary{}, ErrNothingToSync
	}
	return s.engine.RunPass(ctx)
}

// Refresh handles the operator returning to the client: it probes and asks
// for a pass when work is queued. It reports the resulting state.
func (s *Service) Refresh(ctx context.Context) bool {
	ctx, cancel := s.withCallTimeout(ctx)
	defer cancel()
	s.monitor.Foreground(ctx)
	return s.monitor.Online()
}

func (s *Service) check(ctx context.Context) bool {
	ctx, cancel := s.withCallTimeout(ctx)
	defer cancel()
	return s.monitor.Check(ctx)
}

func (s *Service) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return ctx, func() {}
}

// ClearOffline drops every queued operation.
func (s *Service) ClearOffline(ctx context.Context) (int, error) {
	n := s.queue.Len()
	if err := s.queue.Clear(ctx); err != nil {
		return n, err
	}
	s.log.WithField("dropped", n).Warn("Offline data cleared by user")
	return n, nil
}

// Status is what the status screen shows.
type Status struct {
	Online      bool                     `json:"online"`
	Pending     int                      `json:"pending"`
	MaxRetry    int                      `json:"maxRetry"`
	Syncing     bool                     `json:"syncing"`
	Operations  []models.QueuedOperation `json:"operations"`
	LastPass    *models.PassSummary      `json:"lastPass,omitempty"`
	LastSuccess *time.Time               `json:"lastSuccess,omitempty"`
}

// Status returns a snapshot of the client state.
func (s *Service) Status() Status {
	ops := s.queue.List()
	st := Status{
		Online:     s.monitor.Online(),
		Pending:    len(ops),
		MaxRetry:   s.queue.MaxRetry(),
		Syncing:    s.engine.Running(),
		Operations: ops,
	}
	if s.syncInfo != nil {
		info := s.syncInfo.GetSyncInfo()
		st.LastPass = info.LastPass
		st.LastSuccess = info.LastSuccess
	}
	return st
}

// Login exchanges staff credentials for a token and keeps it.
func (s *Service) Login(ctx context.Context, email, password string) error {
	token, err := s.remote.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.session.Save(token); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.log.WithField("email", email).Info("Logged in")
	return nil
}

// Logout forgets the stored token.
func (s *Service) Logout() error {
	return s.session.Clear()
}

// EvictionReporter forwards queue overflow evictions to r. Retry-limit
// evictions are reported by the engine itself.
func EvictionReporter(r reconcile.Reporter) func(queue.Eviction) {
	return func(ev queue.Eviction) {
		if ev.Reason != queue.EvictedOverflow {
			return
		}
		r.Report(reconcile.Event{Type: reconcile.EventDropped, Operation: ev.Operation})
	}
}
