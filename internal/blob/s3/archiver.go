package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"sigengine/internal/domain"
)

// objectGetter is the narrow read surface the archiver needs: just
// enough to load the current month's object before appending.
type objectGetter interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Compile-time interface check.
var _ domain.OutcomeArchiver = (*Archiver)(nil)

// outcomeRecord is the JSONL line shape written to the archive.
type outcomeRecord struct {
	Signal    domain.Signal       `json:"signal"`
	Status    domain.SignalStatus `json:"status"`
	Price     float64             `json:"price"`
	DecidedAt time.Time           `json:"decided_at"`
	RunID     string              `json:"run_id"`
}

// Archiver implements domain.OutcomeArchiver by appending one record
// per decided signal to a month-partitioned JSONL object. S3 has no
// append, so each call rewrites the month object; decision volume is a
// handful of signals per day, which keeps the rewrite cheap.
type Archiver struct {
	writer domain.BlobWriter
	reader objectGetter
	prefix string
}

// NewArchiver creates an Archiver writing under outcomes/.
func NewArchiver(writer domain.BlobWriter, reader objectGetter) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		prefix: "outcomes/",
	}
}

// Archive appends the outcome to the current month's object. Objects
// that have grown past the multipart threshold go up via the upload
// manager instead of a single put.
func (a *Archiver) Archive(ctx context.Context, outcome domain.SignalOutcome) error {
	line, err := marshalLine(outcomeRecord{
		Signal:    outcome.Signal,
		Status:    outcome.Status,
		Price:     outcome.Price,
		DecidedAt: outcome.DecidedAt,
		RunID:     outcome.RunID,
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive outcome marshal: %w", err)
	}

	path := a.objectPath(outcome.DecidedAt)

	existing, err := a.load(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive outcome load %s: %w", path, err)
	}

	buf := append(existing, line...)

	if int64(len(buf)) >= minPartSize {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive outcome upload: %w", err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive outcome upload: %w", err)
	}
	return nil
}

// load fetches the month object, treating a missing object as empty.
func (a *Archiver) load(ctx context.Context, path string) ([]byte, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// objectPath partitions the archive by decision month.
//
//	outcomes/2026-03.jsonl
func (a *Archiver) objectPath(at time.Time) string {
	return fmt.Sprintf("%s%s.jsonl", a.prefix, at.UTC().Format("2006-01"))
}

// marshalLine serialises one record as a single compact JSON line
// followed by '\n'.
func marshalLine(rec outcomeRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
