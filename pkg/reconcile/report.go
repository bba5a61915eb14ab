package reconcile

import (
	"github.com/sirupsen/logrus"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/logger"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// EventType names an outcome the user should hear about.
type EventType string

const (
	// EventTerminal: the service rejected the operation; it was removed.
	EventTerminal EventType = "terminal"
	// EventAbandoned: the operation hit the retry limit and was evicted.
	EventAbandoned EventType = "abandoned"
	// EventDropped: the operation was pushed out of a full queue.
	EventDropped EventType = "dropped"
)

// Event is a user-visible failure of a queued operation.
type Event struct {
	Type      EventType
	Operation models.QueuedOperation
	Kind      checkin.ErrorKind
	Err       error
}

// Message is the text to show staff.
func (e Event) Message() string {
	switch e.Type {
	case EventAbandoned:
		return "Check-in abandoned after repeated network failures"
	case EventDropped:
		return "Offline queue full, oldest check-in discarded"
	}
	return checkin.UserMessage(e.Kind)
}

// Reporter receives failure events. Implementations must not block.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

// Report calls f(ev).
func (f ReporterFunc) Report(ev Event) { f(ev) }

// LogReporter writes events to a logger.
type LogReporter struct {
	Log logrus.FieldLogger
}

// Report implements Reporter.
func (r LogReporter) Report(ev Event) {
	entry := r.Log.WithFields(logrus.Fields{
		"event":       ev.Type,
		"op_id":       ev.Operation.ID,
		"kind":        ev.Operation.Kind,
		"event_id":    ev.Operation.EventID,
		"qr":          logger.MaskCode(ev.Operation.QRCode),
		"retry_count": ev.Operation.RetryCount,
	})
	if ev.Kind != "" {
		entry = entry.WithField("error_kind", ev.Kind)
	}
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	entry.Warn(ev.Message())
}

// Multi fans an event out to several reporters.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ev)
		}
	}
}
