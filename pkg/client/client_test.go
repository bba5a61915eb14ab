package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/gate"
	"github.com/wurt83ow/checkin-client/pkg/models"
	"github.com/wurt83ow/checkin-client/pkg/queue"
	"github.com/wurt83ow/checkin-client/pkg/reconcile"
	"github.com/wurt83ow/checkin-client/pkg/services"
)

type scan struct {
	raw, eventID string
	kind         models.OperationKind
}

type fakeScanner struct {
	scans     []scan
	syncErr   error
	online    bool
	refreshes int
}

func (f *fakeScanner) Scan(ctx context.Context, raw, eventID string, kind models.OperationKind) (services.ScanResult, error) {
	f.scans = append(f.scans, scan{raw, eventID, kind})
	return services.ScanResult{Code: raw, Record: &models.CheckinRecord{ID: "rec"}}, nil
}

func (f *fakeScanner) SyncNow(ctx context.Context) (models.PassSummary, error) {
	return models.PassSummary{Processed: 2, Succeeded: 1, Retried: 1}, f.syncErr
}

func (f *fakeScanner) Refresh(ctx context.Context) bool {
	f.refreshes++
	f.online = true
	return true
}

func (f *fakeScanner) Status() services.Status {
	return services.Status{Online: f.online, Pending: 4}
}

func newTestConsole(s Scanner) (*Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Console{out: out, scanner: s, eventID: "evt-1", kind: models.KindCheckIn}, out
}

func TestConsole_Handle(t *testing.T) {
	s := &fakeScanner{}
	c, out := newTestConsole(s)
	ctx := context.Background()

	assert.False(t, c.Handle(ctx, "  "))
	assert.False(t, c.Handle(ctx, "QR-1"))
	assert.False(t, c.Handle(ctx, ":out"))
	assert.False(t, c.Handle(ctx, ":event evt-2"))
	assert.False(t, c.Handle(ctx, "QR-2"))
	assert.False(t, c.Handle(ctx, ":in"))
	assert.False(t, c.Handle(ctx, "QR-3"))

	assert.Equal(t, []scan{
		{"QR-1", "evt-1", models.KindCheckIn},
		{"QR-2", "evt-2", models.KindCheckOut},
		{"QR-3", "evt-2", models.KindCheckIn},
	}, s.scans)
	assert.Contains(t, out.String(), "OK QR-1")

	assert.True(t, c.Handle(ctx, ":q"))
}

func TestConsole_Commands(t *testing.T) {
	s := &fakeScanner{}
	c, out := newTestConsole(s)
	ctx := context.Background()

	c.Handle(ctx, ":status")
	assert.Contains(t, out.String(), "offline, 4 pending")

	c.Handle(ctx, ":refresh")
	assert.Equal(t, 1, s.refreshes)
	assert.Contains(t, out.String(), "online, 4 pending")

	c.Handle(ctx, ":sync")
	assert.Contains(t, out.String(), "synced 2: 1 sent, 1 retrying")

	s.syncErr = services.ErrOffline
	c.Handle(ctx, ":sync")
	assert.Contains(t, out.String(), "sync: offline")

	s.syncErr = reconcile.ErrPassInProgress
	c.Handle(ctx, ":sync")
	assert.Contains(t, out.String(), "sync: already running in the background")

	c.Handle(ctx, ":event")
	assert.Contains(t, out.String(), "usage: :event ID")
	assert.Equal(t, "evt-1", c.eventID)

	c.Handle(ctx, ":bogus")
	assert.Contains(t, out.String(), "unknown command :bogus")
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, "[evt-1 in] > ", Prompt("evt-1", models.KindCheckIn))
	assert.Equal(t, "[evt-1 out] > ", Prompt("evt-1", models.KindCheckOut))
}

func TestDescribe(t *testing.T) {
	op := &models.QueuedOperation{ID: "op-1"}
	tests := []struct {
		name string
		res  services.ScanResult
		err  error
		want string
	}{
		{"accepted", services.ScanResult{Code: "QR-1", Record: &models.CheckinRecord{}}, nil, "OK QR-1"},
		{"queued", services.ScanResult{Code: "QR-1", Operation: op}, nil, "QUEUED QR-1 (offline)"},
		{"queued not saved", services.ScanResult{Code: "QR-1", Operation: op}, fmt.Errorf("%w: disk full", queue.ErrNotPersisted), "QUEUED QR-1 (not saved to disk)"},
		{"duplicate", services.ScanResult{}, gate.ErrDuplicateScan, "SKIPPED duplicate scan"},
		{"malformed", services.ScanResult{}, fmt.Errorf("%w: empty", gate.ErrInvalidQR), "REJECTED Invalid QR Code"},
		{"inactive", services.ScanResult{Code: "QR-1"}, checkin.NewError(checkin.KindInactiveQR, "subscription is inactive"), "REJECTED QR Code is not active"},
		{"other", services.ScanResult{}, errors.New("boom"), "ERROR boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.res, tt.err))
		})
	}
}
