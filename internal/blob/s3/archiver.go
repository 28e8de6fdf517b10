package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
)

// BlobWriter is the narrow upload interface the archiver needs; *Writer
// satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged data to cold storage. Position snapshots older than the
// retention window are uploaded as JSONL and then deleted from the primary
// store; the event log is uploaded but never deleted, because it is the
// source of truth for replay.
type Archiver struct {
	writer    BlobWriter
	positions domain.PositionStore
	events    event.Store
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, positions domain.PositionStore, events event.Store, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		events:    events,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions uploads all snapshots older than the cutoff to
// archive/positions/YYYY-MM.jsonl and deletes them from the primary store
// only after the upload succeeded. The count of archived snapshots is
// returned.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	snapshots, err := a.positions.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snapshots)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before, time.Now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	deleted, err := a.positions.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(snapshots)), fmt.Errorf("s3blob: archive positions prune: %w", err)
	}

	a.logger.InfoContext(ctx, "positions archived",
		slog.String("path", path),
		slog.Int("uploaded", len(snapshots)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(snapshots)), nil
}

// ArchiveEvents uploads events of every known type older than the cutoff to
// archive/events/YYYY-MM.jsonl. The log itself is left intact.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var all []event.Event
	for _, typ := range []event.Type{
		event.TypeWalletConnected,
		event.TypePositionUpdated,
		event.TypeHealthFactorCritical,
	} {
		evs, err := a.events.ListByType(ctx, typ, event.ListOpts{Until: &before})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events query %s: %w", typ, err)
		}
		all = append(all, evs...)
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before, time.Now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int("uploaded", len(all)),
	)
	return int64(len(all)), nil
}

// RunOnce archives everything older than the retention window.
func (a *Archiver) RunOnce(ctx context.Context, retention time.Duration) error {
	before := time.Now().UTC().Add(-retention)
	if _, err := a.ArchivePositions(ctx, before); err != nil {
		return err
	}
	if _, err := a.ArchiveEvents(ctx, before); err != nil {
		return err
	}
	return nil
}

// Run archives on the given interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx, retention); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the S3 key for one archive run, partitioned by the
// year-month of the cutoff with a per-run suffix. Keys must never repeat:
// positions are pruned from the primary store after upload, so overwriting a
// month's object on a rerun would destroy already-pruned rows.
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, before.Format("2006-01"), runAt.UTC().UnixNano())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
