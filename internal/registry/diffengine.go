package registry

import (
	"context"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// DiffMode selects whether changed memberships are updated in place or
// recorded as a new SCD-Type-2 generation.
type DiffMode string

const (
	ModeInPlace DiffMode = "in_place"
	ModeSCDType2 DiffMode = "scd_type_2"
)

const weightTolerance = 1e-9

// DiffInput bundles the diff engine's inputs. KeyKind selects asset_symbol (API-sourced
// indices) vs common_symbol (user-maintained indices). AssetClassName/
// AssetClassType are attributed to newly inserted asset_symbol-keyed rows.
type DiffInput struct {
	IndexClassName string
	IndexClassType string
	AssetClassName *string
	AssetClassType *string
	Weights        map[string]*float64
	Mode           DiffMode
	Source         string
	KeyKind        MembershipKeyKind
}

// DiffCounters tallies one sync run.
type DiffCounters struct {
	Added          int
	Removed        int
	Unchanged      int
	WeightsUpdated int
}

// DiffEngine is the single algorithm behind both in-place and
// SCD-Type-2 index membership synchronization.
type DiffEngine struct {
	store *Store
	log   zerolog.Logger
}

// NewDiffEngine constructs a DiffEngine.
func NewDiffEngine(store *Store, log zerolog.Logger) *DiffEngine {
	return &DiffEngine{store: store, log: log.With().Str("component", "index_diff_engine").Logger()}
}

// Sync runs the diff within tx, an already-open transaction provided by the
// caller; it never opens its own.
func (e *DiffEngine) Sync(ctx context.Context, tx *sqlx.Tx, in DiffInput) (DiffCounters, error) {
	var counters DiffCounters

	current, err := e.store.ActiveMemberships(ctx, tx, in.IndexClassName, in.IndexClassType, in.KeyKind)
	if err != nil {
		return counters, err
	}

	currentWeight := make(map[string]*float64, len(current))
	currentID := make(map[string]int64, len(current))
	for _, row := range current {
		if row.Symbol == nil {
			continue
		}
		currentWeight[*row.Symbol] = row.Weight
		currentID[*row.Symbol] = row.ID
	}

	for symbol, id := range currentID {
		if _, stillIncoming := in.Weights[symbol]; !stillIncoming {
			if err := e.store.CloseMembership(ctx, tx, id); err != nil {
				return counters, err
			}
			counters.Removed++
		}
	}

	for symbol, weight := range in.Weights {
		if _, existed := currentID[symbol]; !existed {
			if err := e.store.InsertMembership(ctx, tx, in.IndexClassName, in.IndexClassType, in.KeyKind, symbol, in.AssetClassName, in.AssetClassType, weight, in.Source); err != nil {
				return counters, err
			}
			counters.Added++
		}
	}

	for symbol, newWeight := range in.Weights {
		id, existed := currentID[symbol]
		if !existed {
			continue
		}
		oldWeight := currentWeight[symbol]
		if weightsEqual(oldWeight, newWeight) {
			counters.Unchanged++
			continue
		}

		switch in.Mode {
		case ModeInPlace:
			if err := e.store.UpdateMembershipWeight(ctx, tx, id, newWeight); err != nil {
				return counters, err
			}
			counters.WeightsUpdated++
		case ModeSCDType2:
			if err := e.store.CloseMembership(ctx, tx, id); err != nil {
				return counters, err
			}
			if err := e.store.InsertMembership(ctx, tx, in.IndexClassName, in.IndexClassType, in.KeyKind, symbol, in.AssetClassName, in.AssetClassType, newWeight, in.Source); err != nil {
				return counters, err
			}
			counters.Added++
			counters.Removed++
			counters.WeightsUpdated++
		}
	}

	e.log.Info().Str("index", in.IndexClassName).Str("mode", string(in.Mode)).
		Int("added", counters.Added).Int("removed", counters.Removed).
		Int("unchanged", counters.Unchanged).Int("weights_updated", counters.WeightsUpdated).
		Msg("index membership sync complete")
	return counters, nil
}

// weightsEqual implements the weight-equality-within-tolerance rule: both
// null is equal, exactly one null is not equal, otherwise compare within
// 1e-9.
func weightsEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return math.Abs(*a-*b) < weightTolerance
}
