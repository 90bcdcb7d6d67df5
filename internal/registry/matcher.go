package registry

import (
	"context"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Matching parameters, tuned empirically and kept stable so confidence
// scores stay comparable across runs.
const (
	symBoost       = 50.0
	exchangeBoost  = 35.0
	nameBoost      = 8.0
	fuzzyThreshold = 0.35
	autoThreshold  = 80.0
	fuzzyBatchSize = 100
)

// MatchResult is one identity resolution produced by the Matcher, ready for
// the apply step.
type MatchResult struct {
	AssetID      int64
	PrimaryID    string
	IdentitySym  string
	IdentityName string
	Confidence   float64
	MatchType    string // exact_alias | fuzzy_symbol
}

// Matcher resolves unidentified assets to a primary ID via
// exact alias overlap, then GIN-trigram fuzzy similarity, scoped per
// asset-class group.
type Matcher struct {
	store *Store
	log   zerolog.Logger
}

// NewMatcher constructs a Matcher.
func NewMatcher(store *Store, log zerolog.Logger) *Matcher {
	return &Matcher{store: store, log: log.With().Str("component", "identity_matcher").Logger()}
}

// IdentifyUnidentifiedAssets runs the matching pipeline for one provider
// (className/classType empty means: across all providers).
func (m *Matcher) IdentifyUnidentifiedAssets(ctx context.Context, className, classType string) ([]MatchResult, error) {
	assets, err := m.store.UnidentifiedAssets(ctx, className, classType)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}

	var securities, crypto []AssetRow
	for _, a := range assets {
		if a.AssetClassGroup == "crypto" {
			crypto = append(crypto, a)
		} else {
			securities = append(securities, a)
		}
	}

	var results []MatchResult
	if len(securities) > 0 {
		r, err := m.runGroup(ctx, securities, "securities")
		if err != nil {
			return nil, err
		}
		results = append(results, r...)
	}
	if len(crypto) > 0 {
		r, err := m.runGroup(ctx, crypto, "crypto")
		if err != nil {
			return nil, err
		}
		results = append(results, r...)
	}
	return results, nil
}

// runGroup runs the two-phase match for one asset_class_group.
func (m *Matcher) runGroup(ctx context.Context, assets []AssetRow, group string) ([]MatchResult, error) {
	exact, err := m.runExact(ctx, assets, group)
	if err != nil {
		return nil, err
	}

	matched := make(map[int64]struct{}, len(exact))
	for _, r := range exact {
		matched[r.AssetID] = struct{}{}
	}

	var unmatched []AssetRow
	for _, a := range assets {
		if _, ok := matched[a.ID]; !ok {
			unmatched = append(unmatched, a)
		}
	}

	var fuzzy []MatchResult
	if len(unmatched) > 0 {
		fuzzy, err = m.runFuzzy(ctx, unmatched, group)
		if err != nil {
			return nil, err
		}
	}

	logEvent := m.log.Info().Str("group", group).Int("assets", len(assets)).
		Int("exact", len(exact)).Int("fuzzy", len(fuzzy))
	if mean, stddev, ok := confidenceStats(fuzzy); ok {
		logEvent = logEvent.Float64("fuzzy_confidence_mean", mean).Float64("fuzzy_confidence_stddev", stddev)
	}
	logEvent.Msg("identity matching pass complete")

	return append(exact, fuzzy...), nil
}

func (m *Matcher) runExact(ctx context.Context, assets []AssetRow, group string) ([]MatchResult, error) {
	ids := make([]int64, len(assets))
	syms := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
		syms[i] = a.MatcherSymbol
	}

	rows, err := m.store.ExactAliasMatches(ctx, ids, syms, group)
	if err != nil {
		return nil, err
	}

	out := make([]MatchResult, len(rows))
	for i, r := range rows {
		out[i] = MatchResult{
			AssetID:      r.AssetID,
			PrimaryID:    r.PrimaryID,
			IdentitySym:  r.IdentitySym,
			IdentityName: r.IdentityName,
			Confidence:   100.0,
			MatchType:    "exact_alias",
		}
	}
	return out, nil
}

func (m *Matcher) runFuzzy(ctx context.Context, assets []AssetRow, group string) ([]MatchResult, error) {
	var results []MatchResult
	for start := 0; start < len(assets); start += fuzzyBatchSize {
		end := start + fuzzyBatchSize
		if end > len(assets) {
			end = len(assets)
		}
		batch := assets[start:end]

		ids := make([]int64, len(batch))
		syms := make([]string, len(batch))
		names := make([]string, len(batch))
		exchanges := make([]string, len(batch))
		for i, a := range batch {
			ids[i] = a.ID
			syms[i] = a.MatcherSymbol
			names[i] = derefOr(a.Name, "")
			exchanges[i] = derefOr(a.Exchange, "")
		}

		rows, err := m.store.FuzzyMatches(ctx, ids, syms, names, exchanges, group, symBoost, exchangeBoost, nameBoost, fuzzyThreshold, autoThreshold)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			results = append(results, MatchResult{
				AssetID:      r.AssetID,
				PrimaryID:    r.PrimaryID,
				IdentitySym:  r.IdentitySym,
				IdentityName: r.IdentityName,
				Confidence:   r.Confidence,
				MatchType:    "fuzzy_symbol",
			})
		}
	}
	return results, nil
}

// confidenceStats summarizes a fuzzy-match batch's confidence scores so a
// sudden drop in match quality (e.g. a provider renaming its symbols) shows
// up in logs before it shows up as an identity-matching incident.
func confidenceStats(results []MatchResult) (mean, stddev float64, ok bool) {
	if len(results) == 0 {
		return 0, 0, false
	}
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Confidence
	}
	mean, std := stat.MeanStdDev(scores, nil)
	return mean, std, true
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// ApplyOutcomeCounters tallies the apply-step classifications.
type ApplyOutcomeCounters struct {
	Applied            int
	Skipped            int
	ConstraintRejected int
	Failed             int
}

// ApplyMatches runs the apply step for every match, tallying outcomes.
func (m *Matcher) ApplyMatches(ctx context.Context, results []MatchResult) ApplyOutcomeCounters {
	var c ApplyOutcomeCounters
	for _, r := range results {
		switch m.store.ApplyIdentityMatch(ctx, r.AssetID, r.PrimaryID, r.MatchType, r.Confidence) {
		case OutcomeApplied:
			c.Applied++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeConstraintRejected:
			c.ConstraintRejected++
			m.log.Info().Int64("asset_id", r.AssetID).Str("primary_id", r.PrimaryID).Msg("identity constraint rejected, already claimed")
		case OutcomeFailed:
			c.Failed++
			m.log.Warn().Int64("asset_id", r.AssetID).Str("primary_id", r.PrimaryID).Msg("applying identity match failed")
		}
	}
	return c
}
