package batch

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/wvb/internal/models"
)

var (
	// ErrCapacityExceeded is returned by an add when a hard buffer cap is configured and reached.
	ErrCapacityExceeded = errors.New("batch buffer capacity exceeded")
	// ErrClosed is returned when adding to or flushing a closed batcher.
	ErrClosed = errors.New("batcher is closed")
	// ErrAsyncOverload is delivered by FlushAsync when the worker pool is saturated.
	ErrAsyncOverload = errors.New("async flush pool overloaded")
)

// ConfigurationError reports invalid retry or auto-batch settings.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid batch configuration: %s %s", e.Field, e.Reason)
}

// ReconciliationError reports a reply that cannot be mapped back onto the
// submitted batch, e.g. an error index outside the request.
type ReconciliationError struct {
	Index     int
	BatchSize int
	Reason    string
}

func (e *ReconciliationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("reconcile batch reply: %s (batch size %d)", e.Reason, e.BatchSize)
	}
	return fmt.Sprintf("reconcile batch reply: error index %d outside batch of %d", e.Index, e.BatchSize)
}

// AuthError reports a failure to acquire a bearer token before sending.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("acquire bearer token: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FlushError is returned by Flush when a fatal error aborts the cycle. It
// carries every drained item whose outcome is unknown so nothing is silently
// dropped. When objects were already reconciled before a reference send
// failed, their outcomes are in Completed and Objects is empty.
type FlushError struct {
	Err        error
	Objects    []*models.BatchObject
	References []*models.BatchReference
	Completed  *models.Result
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush aborted (%d objects, %d references not confirmed): %v",
		len(e.Objects), len(e.References), e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}
