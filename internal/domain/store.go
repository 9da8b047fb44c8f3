package domain

import (
	"context"
	"time"
)

// SignalStore is the read/write gateway to the shared signal queue.
// The producer owns row creation in production; Insert exists for the
// inject mode and tests.
type SignalStore interface {
	// FetchPending returns every row whose symbol is in the whitelist
	// and whose status is PROCESS or MODIFY, ordered by id ascending.
	// Rows with unresolvable direction text are skipped, not errors.
	FetchPending(ctx context.Context, whitelist []string) ([]Signal, error)

	// SetStatus updates one row's status and updated_at atomically.
	// Returns ErrNotFound when no row has that id. Never retries; the
	// caller decides what a failed write means.
	SetStatus(ctx context.Context, id int64, status SignalStatus) error

	// Insert writes a new row and returns its assigned id.
	Insert(ctx context.Context, sig Signal) (int64, error)

	// Export returns rows created in [from, to], any status, ordered by
	// id ascending.
	Export(ctx context.Context, from, to time.Time) ([]Signal, error)

	Close() error
}
