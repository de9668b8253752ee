// Package registry owns the set of configured trading pairs and their running
// daily counters. Each pair lives in its own state cell guarded by its own
// mutex so trades on different pairs never contend.
package registry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// CheckFunc evaluates a proposed trade against a pair snapshot. It runs while
// the pair's cell is locked and must not perform I/O.
type CheckFunc func(pair domain.TradingPair) domain.RiskCheckResult

// Config controls registry construction.
type Config struct {
	// Defaults fills zero-valued limit fields of added pairs.
	Defaults domain.RiskLimits
	// Location defines the trading day boundary. Nil means UTC.
	Location *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type cell struct {
	id   string
	mu   sync.Mutex
	pair domain.TradingPair
	day  time.Time
}

// Registry holds trading pairs keyed by ID. The map lock only guards lookup
// and insertion; all per-pair state is guarded by the cell's own mutex.
type Registry struct {
	mu       sync.RWMutex
	cells    map[string]*cell
	defaults domain.RiskLimits
	loc      *time.Location
	now      func() time.Time
}

// New returns an empty registry.
func New(cfg Config) *Registry {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cells:    make(map[string]*cell),
		defaults: cfg.Defaults,
		loc:      loc,
		now:      now,
	}
}

// Add registers a new pair. It fails with domain.ErrDuplicateKey when the ID
// is taken and domain.ErrInvalidInput when the config is malformed.
func (r *Registry) Add(pc domain.PairConfig) error {
	if err := validatePair(pc); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cells[pc.ID]; ok {
		return fmt.Errorf("registry: add %q: %w", pc.ID, domain.ErrDuplicateKey)
	}
	pair := domain.TradingPair{
		ID:      pc.ID,
		Input:   pc.Input,
		Output:  pc.Output,
		Rank:    pc.Rank,
		Score:   pc.Score,
		Enabled: pc.Enabled,
		Limits:  pc.Limits.Merge(r.defaults),
	}
	r.cells[pc.ID] = &cell{id: pc.ID, pair: pair, day: r.dayOf(r.now())}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func validatePair(pc domain.PairConfig) error {
	var problems []string
	if strings.TrimSpace(pc.ID) == "" {
		problems = append(problems, "id is required")
	}
	if pc.Input.Mint == "" || pc.Output.Mint == "" {
		problems = append(problems, "input and output mints are required")
	} else if pc.Input.Mint == pc.Output.Mint {
		problems = append(problems, "input and output mints must differ")
	}
	if pc.Input.Decimals < 0 || pc.Output.Decimals < 0 {
		problems = append(problems, "decimals must be non-negative")
	}
	if !finite(pc.Score) {
		problems = append(problems, "score must be finite")
	}
	l := pc.Limits
	if l.MaxTradeNotional < 0 || l.MaxDailyNotional < 0 || l.MaxSlippageBps < 0 || l.MinBalanceReserve < 0 {
		problems = append(problems, "limits must be non-negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("registry: %w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (r *Registry) lookup(id string) (*cell, error) {
	r.mu.RLock()
	c, ok := r.cells[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: pair %q: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// sortedCells returns every cell ordered by pair ID.
func (r *Registry) sortedCells() []*cell {
	r.mu.RLock()
	out := make([]*cell, 0, len(r.cells))
	for _, c := range r.cells {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) dayOf(t time.Time) time.Time {
	t = t.In(r.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

// roll resets the cell's counters if the trading day has changed since they
// were last touched. Reservations in flight are kept. Callers hold c.mu.
func (r *Registry) roll(c *cell) {
	today := r.dayOf(r.now())
	if !today.After(c.day) {
		return
	}
	c.pair.DailyVolume = 0
	c.pair.TradeCount = 0
	c.day = today
}

// Get returns a snapshot of the pair.
func (r *Registry) Get(id string) (domain.TradingPair, error) {
	c, err := r.lookup(id)
	if err != nil {
		return domain.TradingPair{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.roll(c)
	return c.pair, nil
}

// All returns snapshots of every pair ordered by ID.
func (r *Registry) All() []domain.TradingPair {
	cells := r.sortedCells()
	out := make([]domain.TradingPair, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		r.roll(c)
		out = append(out, c.pair)
		c.mu.Unlock()
	}
	return out
}

// AllEnabled returns snapshots of enabled pairs ordered by ID.
func (r *Registry) AllEnabled() []domain.TradingPair {
	all := r.All()
	out := all[:0]
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Len reports how many pairs are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}

// Totals sums today's counters over all pairs.
func (r *Registry) Totals() domain.PairTotals {
	var t domain.PairTotals
	for _, p := range r.All() {
		t.DailyVolume += p.DailyVolume
		t.TradeCount += p.TradeCount
		if p.LastTradeAt != nil && (t.LastTradeAt == nil || p.LastTradeAt.After(*t.LastTradeAt)) {
			ts := *p.LastTradeAt
			t.LastTradeAt = &ts
		}
	}
	return t
}

func (r *Registry) update(id string, fn func(p *domain.TradingPair)) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.roll(c)
	fn(&c.pair)
	return nil
}

// SetEnabled toggles whether the pair may be traded.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	return r.update(id, func(p *domain.TradingPair) { p.Enabled = enabled })
}

// SetRank changes the pair's rank. Lower ranks are traded first.
func (r *Registry) SetRank(id string, rank int) error {
	return r.update(id, func(p *domain.TradingPair) { p.Rank = rank })
}

// SetScore records the pair's latest profitability score.
func (r *Registry) SetScore(id string, score float64) error {
	if !finite(score) {
		return fmt.Errorf("registry: score %q: %w: score must be finite", id, domain.ErrInvalidInput)
	}
	return r.update(id, func(p *domain.TradingPair) { p.Score = score })
}

// Reserve runs check against the pair under its lock and, when the check
// passes, holds notional against the daily cap until the returned
// reservation is committed or released. A nil reservation is returned when
// the check fails. Disabled pairs are rejected with domain.ErrInvalidInput.
func (r *Registry) Reserve(id string, notional float64, check CheckFunc) (*Reservation, domain.RiskCheckResult, error) {
	c, err := r.lookup(id)
	if err != nil {
		return nil, domain.RiskCheckResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.roll(c)
	if !c.pair.Enabled {
		return nil, domain.RiskCheckResult{}, fmt.Errorf("registry: pair %q is disabled: %w", id, domain.ErrInvalidInput)
	}
	res := check(c.pair)
	if !res.Pass {
		return nil, res, nil
	}
	c.pair.Reserved += notional
	return &Reservation{reg: r, cell: c, notional: notional}, res, nil
}

// Reservation is notional held against a pair's daily cap by a trade in
// flight. Exactly one of Commit or Release takes effect; later calls are
// no-ops.
type Reservation struct {
	reg      *Registry
	cell     *cell
	notional float64
	done     bool
}

// Commit records the reserved notional as a completed trade and returns the
// resulting snapshot.
func (res *Reservation) Commit() domain.TradingPair {
	c := res.cell
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.done {
		return c.pair
	}
	res.done = true
	res.reg.roll(c)
	c.pair.Reserved = unreserve(c.pair.Reserved, res.notional)
	c.pair.DailyVolume += res.notional
	c.pair.TradeCount++
	ts := res.reg.now().UTC()
	c.pair.LastTradeAt = &ts
	return c.pair
}

// Release drops the reservation without touching the counters.
func (res *Reservation) Release() {
	c := res.cell
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.done {
		return
	}
	res.done = true
	c.pair.Reserved = unreserve(c.pair.Reserved, res.notional)
}

func unreserve(reserved, n float64) float64 {
	reserved -= n
	if reserved < 1e-12 {
		return 0
	}
	return reserved
}
