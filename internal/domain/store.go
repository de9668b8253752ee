package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	PairID string
	Since  *time.Time
	Until  *time.Time
}

// TradeOutcomeStore persists executed and rejected trade outcomes.
type TradeOutcomeStore interface {
	Insert(ctx context.Context, o TradeOutcome) error
	InsertBatch(ctx context.Context, outcomes []TradeOutcome) error
	List(ctx context.Context, opts ListOpts) ([]TradeOutcome, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CascadeStore persists cascade outcomes together with their steps.
type CascadeStore interface {
	Insert(ctx context.Context, o CascadeOutcome) error
	GetByID(ctx context.Context, id string) (CascadeOutcome, error)
	ListRecent(ctx context.Context, limit int) ([]CascadeOutcome, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]CascadeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore persists an append-only audit log of operator and scheduler
// actions.
type AuditStore interface {
	Log(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
