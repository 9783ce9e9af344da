package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantrail/fixmirror/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager once the
// compressed batch grows past it.
const multipartThreshold = 8 * 1024 * 1024

// EventArchiver moves old execution-log rows to object storage as gzipped
// NDJSON and prunes them from the database afterwards. The log is
// append-only, so archived rows never change after upload.
type EventArchiver struct {
	writer    *Writer
	events    domain.EventStore
	retention time.Duration
	interval  time.Duration
	batchSize int
	prune     bool
	logger    *slog.Logger
	clock     func() time.Time
}

// ArchiverConfig tunes the event archiver.
type ArchiverConfig struct {
	// Retention is how long events stay in the database. Zero disables the
	// archiver.
	Retention time.Duration
	// Interval between archive sweeps; defaults to one hour.
	Interval time.Duration
	// BatchSize caps the rows moved per sweep; defaults to 5000.
	BatchSize int
	// Prune deletes archived rows from the database after a verified
	// upload.
	Prune bool
}

// NewEventArchiver creates an EventArchiver.
func NewEventArchiver(writer *Writer, events domain.EventStore, cfg ArchiverConfig, logger *slog.Logger) *EventArchiver {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	return &EventArchiver{
		writer:    writer,
		events:    events,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		prune:     cfg.Prune,
		logger:    logger.With(slog.String("component", "event_archiver")),
		clock:     time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (a *EventArchiver) Run(ctx context.Context) error {
	if a.retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("event archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := a.clock().UTC().Add(-a.retention)
			if _, err := a.ArchiveBefore(ctx, cutoff); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveBefore uploads events older than cutoff as one gzipped NDJSON
// object keyed by day and sweep time, then prunes them when configured.
// Returns the number of events archived.
func (a *EventArchiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := gzipNDJSON(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := fmt.Sprintf("archive/events/%s/%s.jsonl.gz",
		cutoff.Format("2006-01-02"), a.clock().UTC().Format("150405"))
	if int64(buf.Len()) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, buf, "application/gzip")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))
	a.logger.Info("events archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)

	if a.prune {
		// Only prune up to the oldest batch boundary actually uploaded;
		// rows past the batch limit wait for the next sweep.
		last := events[len(events)-1].EventTime.Add(time.Millisecond)
		deleted, err := a.events.DeleteBefore(ctx, last)
		if err != nil {
			return count, fmt.Errorf("s3blob: prune archived events: %w", err)
		}
		a.logger.Info("archived events pruned", slog.Int64("deleted", deleted))
	}
	return count, nil
}

func gzipNDJSON[T any](records []T) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("ndjson encode record %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
