package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/connectivity"
	"github.com/wurt83ow/checkin-client/pkg/gate"
	"github.com/wurt83ow/checkin-client/pkg/logger"
	"github.com/wurt83ow/checkin-client/pkg/models"
	"github.com/wurt83ow/checkin-client/pkg/queue"
	"github.com/wurt83ow/checkin-client/pkg/reconcile"
	"github.com/wurt83ow/checkin-client/pkg/syncinfo"
)

type memStore struct {
	mu  sync.Mutex
	ops []models.QueuedOperation
}

func (s *memStore) Load(ctx context.Context) ([]models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueuedOperation(nil), s.ops...), nil
}

func (s *memStore) Save(ctx context.Context, ops []models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append([]models.QueuedOperation(nil), ops...)
	return nil
}

// flaky fails every call with a network error while down is set.
type flaky struct {
	*checkin.Memory
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flaky) Checkin(ctx context.Context, qr, eventID string) (models.CheckinRecord, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return models.CheckinRecord{}, checkin.NetworkError(errors.New("connection refused"))
	}
	return f.Memory.Checkin(ctx, qr, eventID)
}

func (f *flaky) Checkout(ctx context.Context, qr, eventID string) (models.CheckinRecord, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return models.CheckinRecord{}, checkin.NetworkError(errors.New("connection refused"))
	}
	return f.Memory.Checkout(ctx, qr, eventID)
}

func (f *flaky) Probe(ctx context.Context) error {
	if f.down.Load() {
		return checkin.NetworkError(errors.New("connection refused"))
	}
	return nil
}

type tokens struct {
	saved   string
	cleared bool
}

func (t *tokens) Save(token string) error { t.saved = token; return nil }
func (t *tokens) Clear() error            { t.cleared = true; t.saved = ""; return nil }

type fixture struct {
	svc     *Service
	remote  *flaky
	queue   *queue.Manager
	engine  *reconcile.Engine
	monitor *connectivity.Monitor
	info    *syncinfo.SyncManager
	tokens  *tokens
	events  []reconcile.Event
}

func newFixture(t *testing.T, qopts ...queue.Option) *fixture {
	t.Helper()
	mem, err := checkin.NewMemory(checkin.DemoSeed())
	require.NoError(t, err)

	f := &fixture{remote: &flaky{Memory: mem}, tokens: &tokens{}}
	log := logger.Discard()
	reporter := reconcile.ReporterFunc(func(ev reconcile.Event) { f.events = append(f.events, ev) })

	qopts = append([]queue.Option{
		queue.WithLogger(log),
		queue.WithEvictionHandler(EvictionReporter(reporter)),
	}, qopts...)
	f.queue = queue.New(context.Background(), &memStore{}, qopts...)
	f.info = syncinfo.NewSyncManager(filepath.Join(t.TempDir(), "syncinfo.json"))
	f.engine = reconcile.New(f.remote, f.queue,
		reconcile.WithLogger(log),
		reconcile.WithReporter(reporter),
		reconcile.WithPassRecorder(f.info),
	)
	f.monitor = connectivity.New(f.remote, f.queue, f.engine,
		connectivity.WithLogger(log),
		connectivity.WithInterval(10*time.Millisecond),
	)

	f.svc = NewServices(Components{
		Gate:     gate.New(),
		Queue:    f.queue,
		Engine:   f.engine,
		Monitor:  f.monitor,
		Remote:   f.remote,
		Session:  f.tokens,
		SyncInfo: f.info,
		Log:      log,
	})
	return f
}

func TestScan_OnlineAccepted(t *testing.T) {
	f := newFixture(t)
	f.monitor.SetOnline(true)

	res, err := f.svc.Scan(context.Background(), " QR-ALICE-0001\n", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	assert.False(t, res.Queued())
	require.NotNil(t, res.Record)
	assert.Equal(t, "qr-1", res.Record.QRCodeID)
	assert.Equal(t, "QR-ALICE-0001", res.Code)
	assert.False(t, f.queue.HasPending())
}

func TestScan_OnlineTerminalNotQueued(t *testing.T) {
	tests := []struct {
		code string
		want checkin.ErrorKind
	}{
		{"QR-NOBODY-9999", checkin.KindInvalidQR},
		{"QR-BOB-0002", checkin.KindInvalidQR},
		{"QR-CAROL-0003", checkin.KindInactiveQR},
		{"QR-DAVE-0004", checkin.KindInactiveQR},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t)
			f.monitor.SetOnline(true)

			_, err := f.svc.Scan(context.Background(), tt.code, "evt-1", models.KindCheckIn)
			var se *checkin.ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, se.Kind)
			assert.False(t, f.queue.HasPending())
		})
	}
}

func TestScan_OfflineQueues(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Scan(context.Background(), "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	require.True(t, res.Queued())
	assert.Equal(t, "QR-ALICE-0001", res.Operation.QRCode)
	assert.Equal(t, []models.QueuedOperation{*res.Operation}, f.queue.List())
	assert.Zero(t, f.remote.calls.Load(), "offline scans are not sent")
}

func TestScan_NetworkFailureQueuesAndGoesOffline(t *testing.T) {
	f := newFixture(t)
	f.monitor.SetOnline(true)
	f.remote.down.Store(true)

	res, err := f.svc.Scan(context.Background(), "QR-ALICE-0001", "evt-1", models.KindCheckOut)
	require.NoError(t, err)
	assert.True(t, res.Queued())
	assert.Equal(t, models.KindCheckOut, res.Operation.Kind)
	assert.False(t, f.monitor.Online())
	assert.Equal(t, 1, f.queue.Len())
}

func TestScan_DuplicateWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	assert.ErrorIs(t, err, gate.ErrDuplicateScan)
	assert.Equal(t, 1, f.queue.Len())
}

func TestScan_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Scan(ctx, "   ", "evt-1", models.KindCheckIn)
	assert.ErrorIs(t, err, gate.ErrInvalidQR)

	_, err = f.svc.Scan(ctx, "QR-ALICE-0001", "", models.KindCheckIn)
	assert.ErrorIs(t, err, ErrNoEvent)

	_, err = f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.OperationKind("VISIT"))
	assert.Error(t, err)

	assert.False(t, f.queue.HasPending())
}

func TestSyncNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remote.down.Store(true)
	_, err := f.svc.SyncNow(ctx)
	assert.ErrorIs(t, err, ErrOffline)
	f.remote.down.Store(false)

	f.monitor.SetOnline(true)
	_, err = f.svc.SyncNow(ctx)
	assert.ErrorIs(t, err, ErrNothingToSync)
	assert.False(t, f.svc.CanSync())

	f.monitor.SetOnline(false)
	_, err = f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, "QR-CAROL-0003", "evt-1", models.KindCheckIn)
	require.NoError(t, err)

	f.monitor.SetOnline(true)
	assert.True(t, f.svc.CanSync())
	summary, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Rejected)
	assert.False(t, f.queue.HasPending())

	require.Len(t, f.events, 1)
	assert.Equal(t, reconcile.EventTerminal, f.events[0].Type)
	assert.Equal(t, checkin.KindInactiveQR, f.events[0].Kind)

	st := f.svc.Status()
	require.NotNil(t, st.LastPass)
	assert.Equal(t, summary.PassID, st.LastPass.PassID)
	assert.Nil(t, st.LastSuccess, "a pass with a rejection is not a full success")
}

func TestSyncNow_RecoversAfterOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.monitor.SetOnline(true)
	f.remote.down.Store(true)

	res, err := f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	require.True(t, res.Queued())
	require.False(t, f.monitor.Online())

	f.remote.down.Store(false)
	summary, err := f.svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.True(t, f.monitor.Online())
	assert.False(t, f.queue.HasPending())

	res, err = f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckOut)
	require.NoError(t, err)
	assert.False(t, res.Queued(), "sent directly once back online")
}

func TestBackgroundLoops_DeliverAfterOutage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.remote.down.Store(true)

	f.engine.Start(ctx)
	defer f.engine.Stop()
	f.monitor.Start(ctx)
	defer f.monitor.Stop()

	res, err := f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)
	require.True(t, res.Queued())

	f.remote.down.Store(false)
	assert.Eventually(t, func() bool {
		return f.monitor.Online() && !f.queue.HasPending()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.remote.Attendance(), 1)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remote.down.Store(true)
	assert.False(t, f.svc.Refresh(ctx))

	f.remote.down.Store(false)
	assert.True(t, f.svc.Refresh(ctx))
	assert.True(t, f.svc.Status().Online)
}

func TestClearOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"QR-A", "QR-B", "QR-C"} {
		_, err := f.svc.Scan(ctx, code, "evt-1", models.KindCheckIn)
		require.NoError(t, err)
	}

	n, err := f.svc.ClearOffline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, f.queue.HasPending())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Scan(ctx, "QR-ALICE-0001", "evt-1", models.KindCheckIn)
	require.NoError(t, err)

	st := f.svc.Status()
	assert.False(t, st.Online)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, queue.DefaultMaxRetry, st.MaxRetry)
	assert.False(t, st.Syncing)
	require.Len(t, st.Operations, 1)
	assert.Nil(t, st.LastPass)

	f.monitor.SetOnline(true)
	_, err = f.svc.SyncNow(ctx)
	require.NoError(t, err)
	st = f.svc.Status()
	assert.True(t, st.Online)
	assert.Zero(t, st.Pending)
	require.NotNil(t, st.LastSuccess)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Login(ctx, "staff@example.com", "wrong")
	assert.Equal(t, checkin.KindUnauthorized, checkin.Classify(err))
	assert.Empty(t, f.tokens.saved)

	require.NoError(t, f.svc.Login(ctx, "staff@example.com", "staffpass"))
	assert.NotEmpty(t, f.tokens.saved)

	require.NoError(t, f.svc.Logout())
	assert.True(t, f.tokens.cleared)
}

func TestEvictionReporter_Overflow(t *testing.T) {
	f := newFixture(t, queue.WithMaxSize(2))
	ctx := context.Background()
	for _, code := range []string{"QR-A", "QR-B", "QR-C"} {
		_, err := f.svc.Scan(ctx, code, "evt-1", models.KindCheckIn)
		require.NoError(t, err)
	}

	require.Len(t, f.events, 1)
	assert.Equal(t, reconcile.EventDropped, f.events[0].Type)
	assert.Equal(t, "QR-A", f.events[0].Operation.QRCode)

	// retry-limit evictions come from the engine, not from this hook
	EvictionReporter(reconcile.ReporterFunc(func(ev reconcile.Event) {
		t.Fatalf("unexpected report %v", ev)
	}))(queue.Eviction{Reason: queue.EvictedMaxRetry})
}
