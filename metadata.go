package ces

import "context"

// Metadata carries contextual information attached to a committed event:
// time of commit, acting user, correlation id, application version, etc.
type Metadata map[string]string

// Merge returns a new Metadata combining the receiver with ms, in order.
// It is safe to call on a nil receiver; the receiver is never mutated.
// Later maps take precedence over earlier ones.
func (m Metadata) Merge(ms ...Metadata) Metadata {
	out := make(Metadata)

	for k, v := range m {
		out[k] = v
	}
	for _, other := range ms {
		for k, v := range other {
			out[k] = v
		}
	}
	return out
}

// MetadataExtractor builds Metadata from a context, e.g. pulling
// tenant_id/user_id/correlation_id/trace_id out of private context keys.
type MetadataExtractor func(ctx context.Context) Metadata
