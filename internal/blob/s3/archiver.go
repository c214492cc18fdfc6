package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

const (
	ndjson = "application/x-ndjson"

	// ArchiveEvent names the audit row recorded after each archive run.
	ArchiveEvent = "archive.events"

	archivePageSize = 500
)

var _ domain.Archiver = (*Archiver)(nil)

// Archiver copies audit rows to object storage as JSONL. Rows stay in the
// primary store; each run starts after the cutoff of the previous run.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil, in which case an
// existing object at the target path is overwritten.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger,
	}
}

// ArchiveEvents uploads every audit row created after the previous cutoff and
// strictly before the given one, then records an archive.events audit row.
// It returns the number of rows archived.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	since, err := a.lastCutoff(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	if since != nil && !since.Before(before) {
		return 0, nil
	}

	entries, err := a.collect(ctx, since, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path, err := a.freePath(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events path: %w", err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(entries))
	detail := map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339Nano),
	}
	if since != nil {
		detail["since"] = since.UTC().Format(time.RFC3339Nano)
	}
	if err := a.audit.Log(ctx, ArchiveEvent, detail); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "s3blob: archived events",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// lastCutoff returns the "before" of the newest archive.events row, or nil
// when nothing has been archived yet.
func (a *Archiver) lastCutoff(ctx context.Context) (*time.Time, error) {
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if e.Event != ArchiveEvent {
				continue
			}
			raw, _ := e.Detail["before"].(string)
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("bad cutoff on audit row %d: %w", e.ID, err)
			}
			return &t, nil
		}
		if len(page) < archivePageSize {
			return nil, nil
		}
	}
}

// collect pages through the audit log and returns the rows in (since, before)
// oldest first, skipping earlier archive.events rows.
func (a *Archiver) collect(ctx context.Context, since *time.Time, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Since:  since,
			Until:  &before,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if e.Event == ArchiveEvent || !e.CreatedAt.Before(before) {
				continue
			}
			if since != nil && !e.CreatedAt.After(*since) {
				continue
			}
			out = append(out, e)
		}
		if len(page) < archivePageSize {
			break
		}
	}
	slices.SortFunc(out, func(x, y domain.AuditEntry) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return int(x.ID - y.ID)
	})
	return out, nil
}

// freePath picks archive/events/YYYY-MM.jsonl, falling back to a name
// carrying the cutoff when that month already has an archive.
func (a *Archiver) freePath(ctx context.Context, before time.Time) (string, error) {
	path := archivePath("events", before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil || !exists {
		return path, err
	}
	return fmt.Sprintf("archive/events/%s-%d.jsonl", before.UTC().Format("2006-01"), before.UnixNano()), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/events/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
