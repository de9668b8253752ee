package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// TradeOutcomeStore implements domain.TradeOutcomeStore using PostgreSQL.
type TradeOutcomeStore struct {
	pool *pgxpool.Pool
}

// NewTradeOutcomeStore creates a new TradeOutcomeStore backed by the given
// connection pool.
func NewTradeOutcomeStore(pool *pgxpool.Pool) *TradeOutcomeStore {
	return &TradeOutcomeStore{pool: pool}
}

const tradeOutcomeCols = `id, pair_id, direction, notional, success, signature,
	input_amount, output_amount, price_impact_pct, error_kind, error,
	violations, executed_at`

// Duplicate outcome IDs are skipped so replays are harmless.
const insertTradeOutcome = `
	INSERT INTO trade_outcomes (` + tradeOutcomeCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING`

func tradeOutcomeArgs(o domain.TradeOutcome) []any {
	violations := o.Violations
	if violations == nil {
		violations = []string{}
	}
	return []any{
		o.ID, o.PairID, string(o.Direction), o.Notional, o.Success, o.Signature,
		o.InputAmount, o.OutputAmount, o.PriceImpactPct, string(o.ErrorKind), o.Error,
		violations, o.ExecutedAt,
	}
}

func scanTradeOutcomes(rows pgx.Rows) ([]domain.TradeOutcome, error) {
	var out []domain.TradeOutcome
	for rows.Next() {
		var (
			o         domain.TradeOutcome
			direction string
			kind      string
		)
		if err := rows.Scan(
			&o.ID, &o.PairID, &direction, &o.Notional, &o.Success, &o.Signature,
			&o.InputAmount, &o.OutputAmount, &o.PriceImpactPct, &kind, &o.Error,
			&o.Violations, &o.ExecutedAt,
		); err != nil {
			return nil, err
		}
		o.Direction = domain.Direction(direction)
		o.ErrorKind = domain.ErrorKind(kind)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert stores a single outcome.
func (s *TradeOutcomeStore) Insert(ctx context.Context, o domain.TradeOutcome) error {
	if _, err := s.pool.Exec(ctx, insertTradeOutcome, tradeOutcomeArgs(o)...); err != nil {
		return fmt.Errorf("postgres: insert trade outcome %s: %w", o.ID, err)
	}
	return nil
}

// InsertBatch inserts multiple outcomes efficiently using pgx Batch.
func (s *TradeOutcomeStore) InsertBatch(ctx context.Context, outcomes []domain.TradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(insertTradeOutcome, tradeOutcomeArgs(o)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range outcomes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade outcome batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns outcomes newest first with pagination and optional pair and
// time filtering.
func (s *TradeOutcomeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query := `SELECT ` + tradeOutcomeCols + ` FROM trade_outcomes WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.PairID != "" {
		query += fmt.Sprintf(" AND pair_id = $%d", argIdx)
		args = append(args, opts.PairID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade outcomes: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeOutcomes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade outcomes: %w", err)
	}
	return out, nil
}

// ListBefore returns up to limit outcomes executed before the cutoff, oldest
// first.
func (s *TradeOutcomeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeOutcomeCols+` FROM trade_outcomes
		 WHERE executed_at < $1 ORDER BY executed_at ASC LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade outcomes before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanTradeOutcomes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade outcomes before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes outcomes executed before the cutoff.
func (s *TradeOutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_outcomes WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade outcomes: %w", err)
	}
	return tag.RowsAffected(), nil
}
