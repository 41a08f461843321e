package ces

// Query is the capability set a caller's read-model type must implement to
// be maintained by a QueryStore as a materialized projection.
type Query[E any] interface {
	// QueryType returns the stable identifier for this projection kind,
	// e.g. "CustomerSummary". It partitions the queries table alongside
	// aggregate_type and aggregate_id.
	QueryType() string

	// Update folds a single event into the projection's current state.
	Update(e E)
}
