// Package models holds the data types shared by the check-in client packages.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind is the action recorded against an event.
type OperationKind string

const (
	KindCheckIn  OperationKind = "CHECKIN"
	KindCheckOut OperationKind = "CHECKOUT"
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	return k == KindCheckIn || k == KindCheckOut
}

// ParseOperationKind accepts both the persisted spelling and the
// underscored form used in the GraphQL schema.
func ParseOperationKind(s string) (OperationKind, error) {
	switch s {
	case "CHECKIN", "CHECK_IN", "checkin", "check-in":
		return KindCheckIn, nil
	case "CHECKOUT", "CHECK_OUT", "checkout", "check-out":
		return KindCheckOut, nil
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// QueuedOperation is a pending check-in or check-out waiting to be sent.
type QueuedOperation struct {
	ID         string
	QRCode     string
	EventID    string
	Kind       OperationKind
	CreatedAt  time.Time
	RetryCount int
}

// queuedOperationJSON is the persisted record layout:
// id, qrCode, eventId, type, timestamp (epoch millis), retryCount.
type queuedOperationJSON struct {
	ID         string        `json:"id"`
	QRCode     string        `json:"qrCode"`
	EventID    string        `json:"eventId"`
	Type       OperationKind `json:"type"`
	Timestamp  int64         `json:"timestamp"`
	RetryCount int           `json:"retryCount"`
}

// MarshalJSON writes the operation in the persisted record layout.
func (op QueuedOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(queuedOperationJSON{
		ID:         op.ID,
		QRCode:     op.QRCode,
		EventID:    op.EventID,
		Type:       op.Kind,
		Timestamp:  op.CreatedAt.UnixMilli(),
		RetryCount: op.RetryCount,
	})
}

// UnmarshalJSON reads the persisted record layout and rejects records
// that could never have been written by MarshalJSON.
func (op *QueuedOperation) UnmarshalJSON(data []byte) error {
	var raw queuedOperationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("queued operation without id")
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("queued operation %s: unknown type %q", raw.ID, raw.Type)
	}
	if raw.RetryCount < 0 {
		return fmt.Errorf("queued operation %s: negative retry count", raw.ID)
	}
	*op = QueuedOperation{
		ID:         raw.ID,
		QRCode:     raw.QRCode,
		EventID:    raw.EventID,
		Kind:       raw.Type,
		CreatedAt:  time.UnixMilli(raw.Timestamp).UTC(),
		RetryCount: raw.RetryCount,
	}
	return nil
}

// CheckinRecord is what the check-in service returns for an accepted operation.
type CheckinRecord struct {
	ID           string     `json:"id"`
	QRCodeID     string     `json:"qrCodeId"`
	EventID      string     `json:"eventId"`
	UserID       string     `json:"userId,omitempty"`
	CheckedInAt  time.Time  `json:"checkedInAt"`
	CheckedOutAt *time.Time `json:"checkedOutAt,omitempty"`
}

// PassSummary describes the outcome of one reconciliation pass.
type PassSummary struct {
	PassID     string    `json:"passId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Retried    int       `json:"retried"`
	Abandoned  int       `json:"abandoned"`
	Rejected   int       `json:"rejected"`
	Cancelled  bool      `json:"cancelled,omitempty"`
}
