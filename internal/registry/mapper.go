package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// MappingCandidate is one proposed class_symbol -> common_symbol binding,
// ready for the pipeline's apply step.
type MappingCandidate struct {
	ClassName       string
	ClassType       string
	ClassSymbol     string
	CommonSymbol    string
	PrimaryID       string
	AssetClassGroup string
	Reasoning       string
}

// Mapper groups a provider's identified assets by primary_id,
// resolves one common_symbol per group, and applies the crypto
// quote-currency preference to pick which crypto assets get mapped at all.
type Mapper struct {
	store *Store
	log   zerolog.Logger
}

// NewMapper constructs a Mapper.
func NewMapper(store *Store, log zerolog.Logger) *Mapper {
	return &Mapper{store: store, log: log.With().Str("component", "automated_mapper").Logger()}
}

type primaryGroup struct {
	primaryID string
	group     string
	assets    []AssetRow
}

// BuildCandidates runs the mapper for one provider, returning the candidates ready
// for ApplyCandidates.
func (m *Mapper) BuildCandidates(ctx context.Context, className, classType string) ([]MappingCandidate, error) {
	assets, err := m.store.AssetsForProviderMapping(ctx, className, classType)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}

	groups, primaryIDs := groupByPrimaryID(assets)

	existing, err := m.store.ExistingMappingsForPrimaryIDs(ctx, primaryIDs)
	if err != nil {
		return nil, err
	}
	primaryIDMap := make(map[string]string, len(existing))
	for _, e := range existing {
		if _, ok := primaryIDMap[e.PrimaryID]; !ok {
			primaryIDMap[e.PrimaryID] = e.CommonSymbol
		}
	}

	preferredQuote, err := m.store.ProviderCryptoPreference(ctx, className, classType)
	if err != nil {
		return nil, err
	}

	var candidates []MappingCandidate
	for _, g := range groups {
		commonSymbol, reasoning := m.resolveCommonSymbol(ctx, g, primaryIDMap)

		if g.group == "crypto" {
			selected, cryptoReason := selectCryptoAsset(g.assets, preferredQuote)
			if selected == nil {
				m.log.Info().Str("class_name", className).Str("primary_id", g.primaryID).
					Str("reason", cryptoReason).Msg("no crypto asset selected for mapping")
				continue
			}
			candidates = append(candidates, MappingCandidate{
				ClassName: className, ClassType: classType,
				ClassSymbol: selected.Symbol, CommonSymbol: commonSymbol,
				PrimaryID: g.primaryID, AssetClassGroup: g.group,
				Reasoning: reasoning + "," + cryptoReason,
			})
			continue
		}

		for _, a := range g.assets {
			candidates = append(candidates, MappingCandidate{
				ClassName: className, ClassType: classType,
				ClassSymbol: a.Symbol, CommonSymbol: commonSymbol,
				PrimaryID: g.primaryID, AssetClassGroup: g.group,
				Reasoning: reasoning,
			})
		}
	}

	return candidates, nil
}

func groupByPrimaryID(assets []AssetRow) ([]primaryGroup, []string) {
	index := make(map[string]int)
	var groups []primaryGroup
	var primaryIDs []string
	for _, a := range assets {
		if a.PrimaryID == nil {
			continue
		}
		key := *a.PrimaryID + "|" + a.AssetClassGroup
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, primaryGroup{primaryID: *a.PrimaryID, group: a.AssetClassGroup})
			primaryIDs = append(primaryIDs, *a.PrimaryID)
		}
		groups[i].assets = append(groups[i].assets, a)
	}
	return groups, primaryIDs
}

// resolveCommonSymbol determines g's candidate common_symbol: reuse an
// existing mapping if one touches this primary_id, otherwise derive one from
// the shortest sym_norm_root (alphabetical tie-break), then check for a
// cross-FIGI conflict and rewrite as SYMBOL:PRIMARY_ID if one exists.
func (m *Mapper) resolveCommonSymbol(ctx context.Context, g primaryGroup, primaryIDMap map[string]string) (string, string) {
	var candidate string
	reasoning := "derived-from-sym-norm-root"
	if existing, ok := primaryIDMap[g.primaryID]; ok {
		candidate = existing
		reasoning = "existing-mapping-reused"
	} else {
		candidate = deriveCandidateSymbol(g.assets)
	}

	used, err := m.store.CommonSymbolUsedByOtherPrimaryID(ctx, candidate, g.primaryID)
	if err != nil {
		m.log.Warn().Err(err).Str("common_symbol", candidate).Msg("checking common_symbol conflict failed, proceeding unresolved")
	} else if used {
		m.log.Info().Str("common_symbol", candidate).Str("primary_id", g.primaryID).
			Msg("common_symbol already claimed by another primary_id, disambiguating")
		candidate = candidate + ":" + g.primaryID
		reasoning = "figi-conflict-disambiguated"
	}
	return candidate, reasoning
}

func deriveCandidateSymbol(assets []AssetRow) string {
	var best *AssetRow
	for i := range assets {
		a := &assets[i]
		if a.SymNormRoot == "" {
			continue
		}
		if best == nil || len(a.SymNormRoot) < len(best.SymNormRoot) ||
			(len(a.SymNormRoot) == len(best.SymNormRoot) && a.SymNormRoot < best.SymNormRoot) {
			best = a
		}
	}
	if best != nil {
		return strings.ToUpper(best.SymNormRoot)
	}

	sorted := append([]AssetRow(nil), assets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })
	return strings.ToUpper(sorted[0].Symbol)
}

// selectCryptoAsset applies the crypto quote-currency preference rules,
// first match wins.
func selectCryptoAsset(assets []AssetRow, preferredQuote string) (*AssetRow, string) {
	if len(assets) == 0 {
		return nil, "no-suitable-usd"
	}

	quotes := make(map[string]struct{})
	for _, a := range assets {
		if a.QuoteCurrency != nil && *a.QuoteCurrency != "" {
			quotes[*a.QuoteCurrency] = struct{}{}
		}
	}
	if len(quotes) == 1 {
		return &assets[0], "single-quote-available"
	}

	bySymbol := append([]AssetRow(nil), assets...)
	sort.Slice(bySymbol, func(i, j int) bool { return bySymbol[i].Symbol < bySymbol[j].Symbol })

	if preferredQuote != "" {
		for i := range bySymbol {
			a := &bySymbol[i]
			if a.QuoteCurrency != nil && *a.QuoteCurrency == preferredQuote {
				return a, "preferred-match"
			}
		}
	}

	for i := range bySymbol {
		a := &bySymbol[i]
		if a.QuoteCurrency != nil && strings.Contains(*a.QuoteCurrency, "USD") {
			return a, "usd-fallback"
		}
	}

	return nil, "no-suitable-usd"
}

// ApplyOutcome is the apply-step outcome for one candidate.
type ApplyOutcome string

const (
	ApplyInserted ApplyOutcome = "inserted"
	ApplySkipped  ApplyOutcome = "skipped"
	ApplyFailed   ApplyOutcome = "failed"
)

// MapperApplyCounters tallies the mapper's apply step.
type MapperApplyCounters struct {
	Inserted int
	Skipped  int
	Failed   int
}

// ApplyCandidates bulk-applies candidates within a transaction it opens
// itself, one savepoint per candidate so a single bad row never poisons
// the batch.
func (m *Mapper) ApplyCandidates(ctx context.Context, candidates []MappingCandidate) (MapperApplyCounters, error) {
	var counters MapperApplyCounters
	err := m.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i, c := range candidates {
			spErr := m.store.WithSavepoint(tx, fmt.Sprintf("mapping_%d", i), func() error {
				if err := m.store.EnsureCommonSymbol(ctx, tx, c.CommonSymbol); err != nil {
					return err
				}
				inserted, err := m.store.InsertMapping(ctx, tx, c.ClassName, c.ClassType, c.ClassSymbol, c.CommonSymbol)
				if err != nil {
					return err
				}
				if inserted {
					counters.Inserted++
				} else {
					counters.Skipped++
				}
				return nil
			})
			if spErr != nil {
				counters.Failed++
				m.log.Warn().Err(spErr).Str("class_symbol", c.ClassSymbol).Str("common_symbol", c.CommonSymbol).
					Msg("applying mapping candidate failed, row rolled back")
			}
		}
		return nil
	})
	return counters, err
}
