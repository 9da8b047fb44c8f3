package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// OutcomeArchiver appends terminal signal decisions to cold storage.
// Archival is observability output, never engine state; failures are
// logged and swallowed by callers.
type OutcomeArchiver interface {
	Archive(ctx context.Context, outcome SignalOutcome) error
}
