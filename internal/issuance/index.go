// Package issuance claims unique prime pairs and mints purchase codes.
//
// A PairIndex is created per request from the store's history snapshot,
// passed by pointer through the batch loop and discarded when the batch ends.
// Every accepted pair is inserted before the next attendee is processed, so
// one index excludes both historical and in-batch duplicates.
package issuance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// DegradeMode selects what LoadIndex does when the history read fails.
type DegradeMode string

const (
	// DegradeAvailable keeps issuing against an empty index.
	DegradeAvailable DegradeMode = "available"
	// DegradeStrict fails the request.
	DegradeStrict DegradeMode = "strict"
)

// ParseDegradeMode maps a config string to a mode, defaulting to available.
func ParseDegradeMode(s string) DegradeMode {
	if DegradeMode(s) == DegradeStrict {
		return DegradeStrict
	}
	return DegradeAvailable
}

// HistorySource reads every prime pair issued so far.
type HistorySource interface {
	IssuedPairs(ctx context.Context) ([]model.PrimePair, error)
}

// PairIndex is a set of canonical pair keys.
type PairIndex struct {
	keys map[string]struct{}
}

// NewPairIndex returns an index seeded with pairs.
func NewPairIndex(pairs ...model.PrimePair) *PairIndex {
	ix := &PairIndex{keys: make(map[string]struct{}, len(pairs))}
	for _, p := range pairs {
		ix.Insert(p.Key())
	}
	return ix
}

// Key returns the canonical key of the unordered pair {a, b}.
func Key(a, b int64) string {
	return model.PrimePair{A: a, B: b}.Key()
}

// Contains reports whether key has been claimed.
func (ix *PairIndex) Contains(key string) bool {
	_, ok := ix.keys[key]
	return ok
}

// Insert records key as claimed.
func (ix *PairIndex) Insert(key string) {
	ix.keys[key] = struct{}{}
}

// Len returns the number of claimed keys.
func (ix *PairIndex) Len() int {
	return len(ix.keys)
}

// LoadIndex builds the request's index from src. In DegradeAvailable mode a
// read failure is logged and an empty index is returned with a nil error.
func LoadIndex(ctx context.Context, src HistorySource, mode DegradeMode) (*PairIndex, error) {
	pairs, err := src.IssuedPairs(ctx)
	if err != nil {
		metrics.IndexLoadFailures.Inc()
		if mode == DegradeStrict {
			return nil, fmt.Errorf("load pair history: %w", err)
		}
		slog.Warn("pair history unavailable, issuing without history check", "error", err)
		return NewPairIndex(), nil
	}
	ix := NewPairIndex(pairs...)
	metrics.IndexSize.Set(float64(ix.Len()))
	slog.Info("pair history loaded", "pairs", ix.Len())
	return ix, nil
}
