package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	defaultBatchLimit = 50_000
	ndjson            = "application/x-ndjson"
)

// ArchiverConfig tunes an ArchiveImpl.
type ArchiverConfig struct {
	// BatchLimit caps the rows exported per call. Older rows beyond the cap
	// are left for the next run.
	BatchLimit int
	// PartSize switches uploads to multipart once a file reaches it.
	PartSize int64
}

// ArchiveImpl implements domain.Archiver. Each call exports rows older than
// the cutoff to one JSONL object and then deletes exactly the exported time
// range from Postgres. Rows are never deleted before their upload succeeds.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	trades   domain.TradeOutcomeStore
	cascades domain.CascadeStore
	audit    domain.AuditStore
	cfg      ArchiverConfig
}

// NewArchiver creates a new ArchiveImpl. reader and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades domain.TradeOutcomeStore,
	cascades domain.CascadeStore,
	audit domain.AuditStore,
	cfg ArchiverConfig,
) *ArchiveImpl {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.PartSize < minPartSize {
		cfg.PartSize = minPartSize
	}
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		trades:   trades,
		cascades: cascades,
		audit:    audit,
		cfg:      cfg,
	}
}

// ArchiveTrades exports trade outcomes executed before the cutoff.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.trades.ListBefore(ctx, before, a.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	last := rows[len(rows)-1].ExecutedAt
	return archive(ctx, a, "trades", rows, before, last, a.trades.DeleteBefore)
}

// ArchiveCascades exports cascade outcomes started before the cutoff.
func (a *ArchiveImpl) ArchiveCascades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.cascades.ListBefore(ctx, before, a.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cascades query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	last := rows[len(rows)-1].StartedAt
	return archive(ctx, a, "cascades", rows, before, last, a.cascades.DeleteBefore)
}

// archive uploads rows and deletes what was uploaded. When the batch was
// capped, only rows strictly older than the last exported timestamp are
// deleted; rows sharing that timestamp are exported again next run.
func archive[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	rows []T,
	before, last time.Time,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) >= a.cfg.PartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.PartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), ndjson)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	cutoff := before
	if len(rows) >= a.cfg.BatchLimit {
		cutoff = last
	}
	deleted, err := deleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	count := int64(len(rows))
	if a.audit != nil {
		event := domain.AuditArchiveTrades
		if kind == "cascades" {
			event = domain.AuditArchiveCascades
		}
		if err := a.audit.Log(ctx, domain.AuditRecord{
			Event: event,
			Detail: map[string]any{
				"path":    path,
				"count":   count,
				"deleted": deleted,
				"before":  before.Format(time.RFC3339),
			},
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// freePath picks the object path for an export, avoiding an existing object
// from an earlier run against the same cutoff day.
func (a *ArchiveImpl) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		path = fmt.Sprintf("archive/%s/%s-%s.jsonl", kind, before.UTC().Format("2006-01-02"), uuid.NewString()[:8])
	}
	return path, nil
}

// archivePath builds the object path for an archive file, partitioned by
// the cutoff day.
//
//	archive/trades/2025-01-31.jsonl
//	archive/cascades/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
