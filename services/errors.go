package services

import (
	"errors"
	"fmt"

	"carflow/storage"
)

var (
	// ErrTransientStore: connectivity or timeout while talking to the store.
	// The run was rolled back and can be retried as a whole.
	ErrTransientStore = storage.ErrTransient

	// ErrDataIntegrity: constraint violation or malformed raw data. The run
	// was rolled back; retrying fails the same way until the data is fixed.
	ErrDataIntegrity = storage.ErrIntegrity

	// ErrTooManyGroups: the run computed more groups than MAX_SUMMARY_GROUPS.
	ErrTooManyGroups = errors.New("group count above configured bound")

	// ErrNoData is returned by the query layer when a filter matches no
	// consolidated rows. It is an outcome, not a failure.
	ErrNoData = errors.New("no data for filter")
)

// Batch phases reported in BatchError.
const (
	PhaseBegin  = "begin"
	PhaseLock   = "lock"
	PhaseScan   = "scan"
	PhaseBound  = "bound"
	PhaseUpsert = "upsert"
	PhaseCommit = "commit"
	PhasePanic  = "panic"
)

// BatchError is returned by a failed aggregation run. Nothing the run wrote
// was committed.
type BatchError struct {
	RunID string
	Phase string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("monthly batch %s failed during %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed run may succeed when run again
// unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// failureKind labels err for metrics.
func failureKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransientStore):
		return "transient"
	case errors.Is(err, ErrDataIntegrity):
		return "integrity"
	case errors.Is(err, ErrTooManyGroups):
		return "too_many_groups"
	default:
		return "error"
	}
}
