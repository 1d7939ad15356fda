package domain

import "context"

// DuplicateTracker records message identifiers and reports repeats. It is a
// diagnostic aid: callers log and count duplicates but never reject them.
type DuplicateTracker interface {
	// SeenBefore reports whether id was recorded earlier and records it if not.
	SeenBefore(ctx context.Context, id string) (bool, error)
	Close() error
}

// Forwarder delivers normalized records to a downstream endpoint. Delivery is
// best-effort: implementations log failures and never propagate them to the
// webhook response already promised to the platform.
type Forwarder interface {
	ForwardMessage(ctx context.Context, msg NormalizedMessage) error
	ForwardStatus(ctx context.Context, st NormalizedStatus) error
}
