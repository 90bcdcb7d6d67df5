package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/enum"
)

// UpdateAssetsResponse summarizes one pipeline run, returned by both the
// single-provider and all-providers entry points.
type UpdateAssetsResponse struct {
	RunID           string               `json:"run_id"`
	ClassName       string               `json:"class_name"`
	ClassType       string               `json:"class_type"`
	Status          string               `json:"status"`
	SymbolsFetched  int                  `json:"symbols_fetched"`
	SymbolsUpserted int                  `json:"symbols_upserted"`
	FailedSymbols   int                  `json:"failed_symbols"`
	Identity        ApplyOutcomeCounters `json:"identity"`
	Mapping         MapperApplyCounters  `json:"mapping"`
	Membership      *DiffCounters        `json:"membership,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// Pipeline orchestrates one provider's full refresh: discovery ->
// normalize -> per-row savepointed upsert -> identity matching ->
// automated mapping -> (IndexProvider) membership sync.
type Pipeline struct {
	store      *Store
	datahub    *DataHubClient
	matcher    *Matcher
	mapper     *Mapper
	diffEngine *DiffEngine
	log        zerolog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(store *Store, datahub *DataHubClient, matcher *Matcher, mapper *Mapper, diffEngine *DiffEngine, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		datahub:    datahub,
		matcher:    matcher,
		mapper:     mapper,
		diffEngine: diffEngine,
		log:        log.With().Str("component", "asset_update_pipeline").Logger(),
	}
}

// UpdateAssets runs the pipeline for one provider.
func (p *Pipeline) UpdateAssets(ctx context.Context, className, classType string) UpdateAssetsResponse {
	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Str("class_name", className).Str("class_type", classType).Logger()
	resp := UpdateAssetsResponse{RunID: runID, ClassName: className, ClassType: classType}

	row, err := p.store.GetCodeRegistryRow(ctx, className, classType)
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		log.Error().Err(err).Msg("looking up code_registry row failed")
		return resp
	}
	if row == nil {
		resp.Status = "error"
		resp.Error = fmt.Sprintf("no code_registry row for %s/%s", className, classType)
		log.Error().Msg("no code_registry row found")
		return resp
	}
	isIndexProvider := row.ClassSubtype == "IndexProvider"

	var weights map[string]*float64
	var attributed []assetAttrs
	if isIndexProvider {
		constituents, err := p.datahub.Constituents(ctx, className)
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			log.Error().Err(err).Msg("fetching constituents from datahub failed")
			return resp
		}
		if len(constituents) == 0 {
			resp.Status = "success"
			log.Info().Msg("datahub returned no constituents, preserving existing memberships")
			return resp
		}
		weights = make(map[string]*float64, len(constituents))
		for _, c := range constituents {
			weights[c.Symbol] = c.Weight
			attributed = append(attributed, assetAttrsFromConstituent(c))
		}
	} else {
		symbols, err := p.datahub.AvailableSymbols(ctx, className)
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			log.Error().Err(err).Msg("fetching available symbols from datahub failed")
			return resp
		}
		if len(symbols) == 0 {
			resp.Status = "no-content"
			log.Info().Msg("datahub returned no available symbols")
			return resp
		}
		for _, s := range symbols {
			attributed = append(attributed, assetAttrsFromSymbol(s))
		}
	}
	resp.SymbolsFetched = len(attributed)

	err = p.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i, a := range attributed {
			normalized, ok := enum.NormalizeAssetClass(a.assetClass)
			if !ok {
				resp.FailedSymbols++
				log.Warn().Str("symbol", a.symbol).Str("asset_class", a.assetClass).Msg("unrecognized asset_class, skipping symbol")
				continue
			}
			a.assetClass = normalized

			in := a.toUpsertInput(className, classType)
			spErr := p.store.WithSavepoint(tx, fmt.Sprintf("asset_upsert_%d", i), func() error {
				return p.store.UpsertAsset(ctx, tx, in)
			})
			if spErr != nil {
				resp.FailedSymbols++
				log.Warn().Err(spErr).Str("symbol", a.symbol).Msg("upserting asset failed, row rolled back")
				continue
			}
			resp.SymbolsUpserted++
		}

		if isIndexProvider {
			diffCounters, err := p.diffEngine.Sync(ctx, tx, DiffInput{
				IndexClassName: className,
				IndexClassType: classType,
				AssetClassName: &className,
				AssetClassType: &classType,
				Weights:        weights,
				Mode:           ModeSCDType2,
				Source:         "api",
				KeyKind:        MembershipKeyAsset,
			})
			if err != nil {
				return fmt.Errorf("syncing index membership: %w", err)
			}
			resp.Membership = &diffCounters
		}
		return nil
	})
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		log.Error().Err(err).Msg("asset upsert transaction failed")
		return resp
	}

	matches, err := p.matcher.IdentifyUnidentifiedAssets(ctx, className, classType)
	if err != nil {
		log.Warn().Err(err).Msg("identity matching failed, continuing without it")
	} else {
		resp.Identity = p.matcher.ApplyMatches(ctx, matches)
	}

	candidates, err := p.mapper.BuildCandidates(ctx, className, classType)
	if err != nil {
		log.Warn().Err(err).Msg("building mapping candidates failed, continuing without it")
	} else if len(candidates) > 0 {
		counters, err := p.mapper.ApplyCandidates(ctx, candidates)
		if err != nil {
			log.Warn().Err(err).Msg("applying mapping candidates failed")
		}
		resp.Mapping = counters
	}

	resp.Status = "success"
	log.Info().Int("fetched", resp.SymbolsFetched).Int("upserted", resp.SymbolsUpserted).
		Int("failed", resp.FailedSymbols).Msg("asset update pipeline complete")
	return resp
}

// UpdateAllAssets runs UpdateAssets for every registered provider. Unlike the
// single-provider call, a sub-call failure never aborts the run: every
// provider's response is collected and a final global matcher pass catches
// unidentified assets newly made matchable by sibling providers.
func (p *Pipeline) UpdateAllAssets(ctx context.Context) ([]UpdateAssetsResponse, error) {
	providers, err := p.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]UpdateAssetsResponse, 0, len(providers))
	for _, pr := range providers {
		responses = append(responses, p.UpdateAssets(ctx, pr.ClassName, pr.ClassType))
	}

	matches, err := p.matcher.IdentifyUnidentifiedAssets(ctx, "", "")
	if err != nil {
		p.log.Warn().Err(err).Msg("global second-pass identity matching failed")
	} else if len(matches) > 0 {
		counters := p.matcher.ApplyMatches(ctx, matches)
		p.log.Info().Int("applied", counters.Applied).Msg("global second-pass identity matching applied")
	}

	return responses, nil
}

// assetAttrs is the common shape UpdateAssets builds from either a
// DataHubSymbol or a DataHubConstituent before normalization and upsert.
type assetAttrs struct {
	symbol        string
	primaryID     *string
	externalID    *string
	matcherSymbol string
	name          *string
	exchange      *string
	assetClass    string
	baseCurrency  *string
	quoteCurrency *string
	country       *string
}

func assetAttrsFromSymbol(s DataHubSymbol) assetAttrs {
	a := assetAttrs{
		symbol:        s.Symbol,
		matcherSymbol: s.MatcherSymbol,
		assetClass:    s.AssetClass,
		name:          ptrOrNil(s.Name),
		exchange:      ptrOrNil(s.Exchange),
		baseCurrency:  ptrOrNil(s.BaseCurrency),
		quoteCurrency: ptrOrNil(s.QuoteCurrency),
		country:       ptrOrNil(s.Country),
	}
	if a.matcherSymbol == "" {
		a.matcherSymbol = s.Symbol
	}
	// Prefer primary_id when present, provider_id as fallback.
	if s.PrimaryID != nil && *s.PrimaryID != "" {
		a.primaryID = s.PrimaryID
	} else if s.ProviderID != "" {
		a.primaryID = ptrOrNil(s.ProviderID)
	}
	a.externalID = ptrOrNil(s.ISIN)
	return a
}

func assetAttrsFromConstituent(c DataHubConstituent) assetAttrs {
	a := assetAttrs{
		symbol:        c.Symbol,
		matcherSymbol: c.MatcherSymbol,
		assetClass:    c.AssetClass,
		name:          ptrOrNil(c.Name),
		baseCurrency:  ptrOrNil(c.BaseCurrency),
		quoteCurrency: ptrOrNil(c.QuoteCurrency),
	}
	if a.matcherSymbol == "" {
		a.matcherSymbol = c.Symbol
	}
	if a.assetClass == "" {
		a.assetClass = string(enum.Equity)
	}
	return a
}

func (a assetAttrs) toUpsertInput(className, classType string) UpsertAssetInput {
	full, root := normalizeSymbol(a.symbol)
	return UpsertAssetInput{
		ClassName:     className,
		ClassType:     classType,
		Symbol:        a.symbol,
		ExternalID:    a.externalID,
		PrimaryID:     a.primaryID,
		MatcherSymbol: a.matcherSymbol,
		Name:          a.name,
		Exchange:      a.exchange,
		AssetClass:    a.assetClass,
		BaseCurrency:  a.baseCurrency,
		QuoteCurrency: a.quoteCurrency,
		Country:       a.country,
		SymNormFull:   full,
		SymNormRoot:   root,
	}
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var symSeparator = regexp.MustCompile(`[.\-:/_]`)
var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// normalizeSymbol derives (sym_norm_full, sym_norm_root) from a raw symbol:
// full is the whole symbol lowercased with punctuation stripped; root is the
// same treatment applied only to the first separator-delimited segment, so
// exchange/quote-currency suffixes ("AAPL.US", "BTC-USD") collapse onto their
// base ticker while still letting branch 4's "full != root" arm catch
// anything root misses.
func normalizeSymbol(symbol string) (full, root string) {
	lower := strings.ToLower(symbol)
	full = nonAlnum.ReplaceAllString(lower, "")

	firstSegment := symSeparator.Split(lower, 2)[0]
	root = nonAlnum.ReplaceAllString(firstSegment, "")
	return full, root
}
