package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const insertAuditEntry = `
	INSERT INTO audit_log (event, pair_id, cascade_id, detail)
	VALUES ($1, $2, $3, $4)`

// AuditStore implements domain.AuditStore. Pair and cascade IDs live in their
// own indexed columns so the log can be filtered without scanning detail.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends rec. Unknown events are rejected with domain.ErrInvalidInput.
func (s *AuditStore) Log(ctx context.Context, rec domain.AuditRecord) error {
	args, err := auditArgs(rec)
	if err != nil {
		return fmt.Errorf("postgres: log audit: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertAuditEntry, args...); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", rec.Event, err)
	}
	return nil
}

func auditArgs(rec domain.AuditRecord) ([]any, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(rec.Detail); err != nil {
			return nil, fmt.Errorf("marshal detail: %w", err)
		}
	}
	return []any{string(rec.Event), rec.PairID, rec.CascadeID, detail}, nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := auditListQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			event  string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &event, &e.PairID, &e.CascadeID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Event = domain.AuditEvent(event)
		if detail != nil {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

// auditListQuery builds the filtered listing query and its arguments.
func auditListQuery(f domain.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Event != "" {
		add("event = $%d", string(f.Event))
	}
	if f.PairID != "" {
		add("pair_id = $%d", f.PairID)
	}
	if f.CascadeID != "" {
		add("cascade_id = $%d", f.CascadeID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, event, pair_id, cascade_id, detail, created_at FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
