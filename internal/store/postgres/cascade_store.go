package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// CascadeStore implements domain.CascadeStore using PostgreSQL. Steps are
// stored as a JSONB array on the cascade row.
type CascadeStore struct {
	pool *pgxpool.Pool
}

// NewCascadeStore creates a new CascadeStore backed by the given connection pool.
func NewCascadeStore(pool *pgxpool.Pool) *CascadeStore {
	return &CascadeStore{pool: pool}
}

const cascadeCols = `id, success, state, initial_amount, final_amount, total_profit,
	stop_on_failure, error_kind, error, steps, started_at, completed_at`

func scanCascade(row pgx.Row) (domain.CascadeOutcome, error) {
	var (
		o         domain.CascadeOutcome
		state     string
		kind      string
		stepsJSON []byte
	)
	if err := row.Scan(
		&o.ID, &o.Success, &state, &o.InitialAmount, &o.FinalAmount, &o.TotalProfit,
		&o.StopOnFailure, &kind, &o.Error, &stepsJSON, &o.StartedAt, &o.CompletedAt,
	); err != nil {
		return domain.CascadeOutcome{}, err
	}
	o.State = domain.CascadeState(state)
	o.ErrorKind = domain.ErrorKind(kind)
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &o.Steps); err != nil {
			return domain.CascadeOutcome{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return o, nil
}

func collectCascades(rows pgx.Rows) ([]domain.CascadeOutcome, error) {
	var out []domain.CascadeOutcome
	for rows.Next() {
		o, err := scanCascade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert stores a cascade outcome and its steps.
func (s *CascadeStore) Insert(ctx context.Context, o domain.CascadeOutcome) error {
	steps := o.Steps
	if steps == nil {
		steps = []domain.CascadeStepResult{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("postgres: marshal cascade steps: %w", err)
	}

	const query = `
		INSERT INTO cascade_outcomes (` + cascadeCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		o.ID, o.Success, string(o.State), o.InitialAmount, o.FinalAmount, o.TotalProfit,
		o.StopOnFailure, string(o.ErrorKind), o.Error, stepsJSON, o.StartedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cascade %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the cascade with the given ID, or domain.ErrNotFound.
func (s *CascadeStore) GetByID(ctx context.Context, id string) (domain.CascadeOutcome, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cascadeCols+` FROM cascade_outcomes WHERE id = $1`, id)
	o, err := scanCascade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CascadeOutcome{}, fmt.Errorf("postgres: cascade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CascadeOutcome{}, fmt.Errorf("postgres: get cascade %s: %w", id, err)
	}
	return o, nil
}

// ListRecent returns the most recent cascades, newest first.
func (s *CascadeStore) ListRecent(ctx context.Context, limit int) ([]domain.CascadeOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+cascadeCols+` FROM cascade_outcomes ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent cascades: %w", err)
	}
	defer rows.Close()

	out, err := collectCascades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent cascades: %w", err)
	}
	return out, nil
}

// ListBefore returns up to limit cascades started before the cutoff, oldest
// first.
func (s *CascadeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.CascadeOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cascadeCols+` FROM cascade_outcomes
		 WHERE started_at < $1 ORDER BY started_at ASC LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cascades before: %w", err)
	}
	defer rows.Close()

	out, err := collectCascades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan cascades before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes cascades started before the cutoff.
func (s *CascadeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cascade_outcomes WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cascades: %w", err)
	}
	return tag.RowsAffected(), nil
}
