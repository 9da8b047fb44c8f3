package domain

import "context"

// StatusPublisher pushes the per-tick status snapshot to an external
// bus for dashboards. Publishing is fire-and-forget observability;
// failures are logged by callers, never fatal.
type StatusPublisher interface {
	Publish(ctx context.Context, snap StatusSnapshot) error
	Close() error
}
