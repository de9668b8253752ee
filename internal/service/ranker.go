package service

import (
	"sort"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Ranker orders pairs for cascades: ascending rank, then descending score,
// then ID.
type Ranker struct{}

// NewRanker returns a Ranker.
func NewRanker() *Ranker { return &Ranker{} }

// Rank returns the IDs of pairs in trading order. The input slice is not
// modified.
func (Ranker) Rank(pairs []domain.TradingPair) []string {
	sorted := make([]domain.TradingPair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})
	ids := make([]string, len(sorted))
	for i, p := range sorted {
		ids[i] = p.ID
	}
	return ids
}
