// Package ces implements the execution-and-persistence core of a CQRS /
// event-sourcing framework: command handling, event sequencing, optional
// snapshotting, query projection, and post-commit dispatch.
package ces

import "fmt"

// Command is a semantic alias of `any` representing a caller-defined intent
// to change the state of exactly one aggregate. It is opaque to the core.
type Command any

// Event is a semantic alias of `any` representing an immutable domain fact
// produced by Aggregate.Handle. Event ordering within a stream defines
// causal order.
type Event any

// Aggregate is the capability set a caller's domain type must implement to
// be managed by an EventStore/Repository.
//
// Handle must be pure: it inspects c against the aggregate's current state
// and returns the events that should result, without any persistence side
// effects. Apply must be total over every event type Handle can produce —
// it is used both for fresh replay and for confirming newly committed
// events.
type Aggregate[C, E any] interface {
	// AggregateType returns the stable identifier for this aggregate kind,
	// e.g. "Account". It partitions the events/snapshots tables.
	AggregateType() string

	// Apply mutates the aggregate in place according to e. It never fails:
	// callers are expected to have validated the event when it was raised.
	Apply(e E)

	// Handle routes c to domain logic and returns the events it produces,
	// or a domain error. No events means the command was a no-op.
	Handle(c C) ([]E, error)
}

// EventType returns the canonical name for an event payload. If e
// implements `EventType() string`, that value is used; otherwise the Go
// type name is used as a fallback (e.g. "account.AccountOpened").
func EventType(e Event) string {
	if named, ok := e.(interface{ EventType() string }); ok {
		return named.EventType()
	}
	return fmt.Sprintf("%T", e)
}
