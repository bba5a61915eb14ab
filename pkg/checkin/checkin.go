// Package checkin defines the contract of the remote check-in service and
// the failure taxonomy the offline queue reconciles against.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/wurt83ow/checkin-client/pkg/models"
)

// Service records check-ins and check-outs of a QR code against an event.
type Service interface {
	Checkin(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error)
	Checkout(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error)
}

// Do dispatches op to the call matching its kind.
func Do(ctx context.Context, svc Service, op models.QueuedOperation) (models.CheckinRecord, error) {
	switch op.Kind {
	case models.KindCheckIn:
		return svc.Checkin(ctx, op.QRCode, op.EventID)
	case models.KindCheckOut:
		return svc.Checkout(ctx, op.QRCode, op.EventID)
	}
	return models.CheckinRecord{}, &ServiceError{Kind: KindUnknown, Message: fmt.Sprintf("unknown operation kind %q", op.Kind)}
}

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindInvalidQR    ErrorKind = "INVALID_QR"
	KindInactiveQR   ErrorKind = "INACTIVE_QR"
	KindNetwork      ErrorKind = "NETWORK"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindUnknown      ErrorKind = "UNKNOWN"
)

// Retryable reports whether resending may succeed. Only network failures are.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork
}

// ServiceError is a failure reported by, or on the way to, the check-in service.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewError builds a ServiceError without a cause.
func NewError(kind ErrorKind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// NetworkError wraps a transport failure as retryable.
func NetworkError(err error) *ServiceError {
	return &ServiceError{Kind: KindNetwork, Message: "check-in service unreachable", Err: err}
}

// Classify maps any error returned by a Service call to an ErrorKind.
// Transport errors and timeouts are NETWORK; anything unrecognised is UNKNOWN.
// Cancellation of the caller's context is not classified here: callers
// must check their own context first.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable is shorthand for Classify(err).Retryable().
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// UserMessage is the text shown to staff for a terminal failure.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindInvalidQR:
		return "Invalid QR Code"
	case KindInactiveQR:
		return "QR Code is not active"
	case KindUnauthorized:
		return "Not authorized, please log in again"
	case KindNetwork:
		return "Check-in service unreachable"
	}
	return "Check-in failed"
}
