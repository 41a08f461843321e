package ces

import "fmt"

var (
	// ErrSerialization indicates a payload or metadata value could not be
	// encoded or decoded. Surfaced to the caller; never retried.
	ErrSerialization = fmt.Errorf("ces: serialization error")

	// ErrBackend indicates a transport/driver failure: connection,
	// timeout, or a SQL/driver error that isn't a constraint violation.
	ErrBackend = fmt.Errorf("ces: backend error")

	// ErrConflict indicates a sequence or unique-key collision on insert,
	// the generic form matched by errors.Is when the caller doesn't need
	// the structured detail in *ConflictError.
	ErrConflict = fmt.Errorf("ces: conflict error")
)

// ConflictError provides structured information about a sequence
// collision detected while appending events to a stream, typically caused
// by a concurrent writer racing against the same aggregate id.
type ConflictError struct {
	AggregateType   string
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"ces: conflict on %s/%s: expected version %d, actual %d",
		e.AggregateType, e.AggregateID, e.ExpectedVersion, e.ActualVersion,
	)
}

// Is allows errors.Is(err, ErrConflict) to match a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BackendError wraps an underlying driver/transport failure with the
// operation and aggregate context that were in flight, per spec §7's
// "annotated with the aggregate id and operation" propagation policy.
type BackendError struct {
	Op            string
	AggregateType string
	AggregateID   string
	Err           error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("ces: %s on %s/%s: %v", e.Op, e.AggregateType, e.AggregateID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrBackend) to match a *BackendError.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}
