// Package registry implements the asset/identity/index catalog: identity
// matching, automated cross-provider mapping, the asset update
// pipeline, index membership diffing, and the mapping-suggestion
// scorer.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/enum"
)

func pqInt64Array(ids []int64) pq.Int64Array   { return pq.Int64Array(ids) }
func pqStringArray(ss []string) pq.StringArray { return pq.StringArray(ss) }

func groupFor(assetClass string) enum.AssetClassGroup {
	return enum.GroupFor(assetClass)
}

// AssetRow is one assets table row, as read by the identity matcher and the
// automated mapper.
type AssetRow struct {
	ID              int64   `db:"id"`
	ClassName       string  `db:"class_name"`
	ClassType       string  `db:"class_type"`
	Symbol          string  `db:"symbol"`
	PrimaryID       *string `db:"primary_id"`
	AssetClassGroup string  `db:"asset_class_group"`
	MatcherSymbol   string  `db:"matcher_symbol"`
	Name            *string `db:"name"`
	Exchange        *string `db:"exchange"`
	BaseCurrency    *string `db:"base_currency"`
	QuoteCurrency   *string `db:"quote_currency"`
	SymNormRoot     string  `db:"sym_norm_root"`
}

// Store is the Postgres-backed persistence layer for Registry.
type Store struct {
	db *database.DB
}

// NewStore constructs a Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Conn returns the underlying *sqlx.DB, for callers that need to open their
// own transaction spanning several Store calls.
func (s *Store) Conn() *sqlx.DB {
	return s.db.Conn()
}

// UnidentifiedAssets returns assets.primary_id IS NULL rows with a known
// asset_class_group, scoped to one provider if class_name/class_type are
// non-empty, or across all providers otherwise.
func (s *Store) UnidentifiedAssets(ctx context.Context, className, classType string) ([]AssetRow, error) {
	q := `
		SELECT id, class_name, class_type, symbol, primary_id, asset_class_group,
		       matcher_symbol, name, exchange, base_currency, quote_currency, sym_norm_root
		FROM assets
		WHERE primary_id IS NULL AND asset_class_group IS NOT NULL`
	args := []any{}
	if className != "" {
		q += " AND class_name = $1 AND class_type = $2"
		args = append(args, className, classType)
	}

	var rows []AssetRow
	if err := s.db.Conn().SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("querying unidentified assets: %w", err)
	}
	return rows, nil
}

// ManifestCandidate is a row of identity_manifest, the reference dataset
// the identity matcher matches against.
type ManifestCandidate struct {
	PrimaryID string  `db:"primary_id"`
	Symbol    string  `db:"identity_symbol"`
	Name      *string `db:"identity_name"`
	Exchange  *string `db:"identity_exchange"`
	SymSim    float64 `db:"sym_sim"`
}

// ExactAliasMatch is one hit of the phase-1 exact-alias query.
type ExactAliasMatch struct {
	AssetID      int64  `db:"asset_id"`
	PrimaryID    string `db:"primary_id"`
	IdentitySym  string `db:"identity_symbol"`
	IdentityName string `db:"identity_name"`
}

// ExactAliasMatches runs the phase-1 query: assets whose matcher_symbol
// appears in an identity_manifest row's semicolon-delimited alias list,
// within the given asset_class_group.
func (s *Store) ExactAliasMatches(ctx context.Context, assetIDs []int64, matcherSymbols []string, group string) ([]ExactAliasMatch, error) {
	const q = `
		WITH input AS (
			SELECT unnest($1::bigint[]) AS id, unnest($2::text[]) AS matcher_symbol
		)
		SELECT
			i.id AS asset_id,
			im.primary_id,
			im.symbol AS identity_symbol,
			COALESCE(im.name, '') AS identity_name
		FROM input i
		JOIN identity_manifest im ON (
			im.asset_class_group = $3 AND
			string_to_array(im.symbol, ';') && ARRAY[i.matcher_symbol]
		)`

	var rows []ExactAliasMatch
	if err := s.db.Conn().SelectContext(ctx, &rows, q, pqInt64Array(assetIDs), pqStringArray(matcherSymbols), group); err != nil {
		return nil, fmt.Errorf("querying exact alias matches: %w", err)
	}
	return rows, nil
}

// FuzzyMatch is one ranked hit of the phase-2 trigram query: the
// top-scoring manifest candidate for one asset, already filtered to
// confidence >= AUTO_THRESHOLD.
type FuzzyMatch struct {
	AssetID      int64   `db:"asset_id"`
	PrimaryID    string  `db:"primary_id"`
	IdentitySym  string  `db:"identity_symbol"`
	IdentityName string  `db:"identity_name"`
	Confidence   float64 `db:"confidence"`
}

// FuzzyMatches runs the phase-2 query for one batch (<=100 assets): for
// each asset, the single best-scoring identity_manifest candidate within
// group, scored with the symbol/exchange/name boosts, filtered to
// score >= autoThreshold.
func (s *Store) FuzzyMatches(ctx context.Context, assetIDs []int64, matcherSymbols, names, exchanges []string, group string, symBoost, exchangeBoost, nameBoost, fuzzyThreshold, autoThreshold float64) ([]FuzzyMatch, error) {
	if _, err := s.db.Conn().ExecContext(ctx, fmt.Sprintf("SET pg_trgm.similarity_threshold = %f", fuzzyThreshold)); err != nil {
		return nil, fmt.Errorf("setting trigram threshold: %w", err)
	}

	const q = `
		WITH asset_input AS (
			SELECT
				unnest($1::bigint[]) AS id,
				unnest($2::text[]) AS matcher_symbol,
				unnest($3::text[]) AS name,
				unnest($4::text[]) AS exchange
		),
		candidates AS (
			SELECT
				ai.id AS asset_id,
				ai.name AS asset_name,
				ai.exchange AS asset_exchange,
				cand.primary_id,
				cand.symbol AS identity_symbol,
				cand.name AS identity_name,
				cand.exchange AS identity_exchange,
				cand.sym_sim
			FROM asset_input ai
			CROSS JOIN LATERAL (
				SELECT im.primary_id, im.symbol, im.name, im.exchange,
				       similarity(ai.matcher_symbol, im.symbol) AS sym_sim
				FROM identity_manifest im
				WHERE im.asset_class_group = $5
				  AND im.symbol % ai.matcher_symbol
				LIMIT 20
			) cand
		),
		scored AS (
			SELECT
				asset_id, primary_id, identity_symbol,
				COALESCE(identity_name, '') AS identity_name,
				(
					CASE
						WHEN sym_sim > 0.8 THEN 80.0
						WHEN sym_sim > 0.6 THEN 60.0
						ELSE sym_sim * $6
					END +
					CASE WHEN asset_exchange = identity_exchange THEN $7 ELSE 0.0 END +
					COALESCE(similarity(asset_name, identity_name), 0) * $8
				) AS confidence
			FROM candidates
		),
		ranked AS (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY asset_id ORDER BY confidence DESC) AS rn
			FROM scored
		)
		SELECT asset_id, primary_id, identity_symbol, identity_name, confidence
		FROM ranked
		WHERE rn = 1 AND confidence >= $9
		ORDER BY confidence DESC`

	var rows []FuzzyMatch
	if err := s.db.Conn().SelectContext(ctx, &rows, q, pqInt64Array(assetIDs), pqStringArray(matcherSymbols), pqStringArray(names), pqStringArray(exchanges), group, symBoost, exchangeBoost, nameBoost, autoThreshold); err != nil {
		return nil, fmt.Errorf("querying fuzzy matches: %w", err)
	}
	return rows, nil
}

// ApplyIdentityOutcome classifies the result of one identity apply UPDATE.
type ApplyIdentityOutcome string

const (
	OutcomeApplied             ApplyIdentityOutcome = "applied"
	OutcomeSkipped             ApplyIdentityOutcome = "skipped"
	OutcomeConstraintRejected  ApplyIdentityOutcome = "constraint_rejected"
	OutcomeFailed              ApplyIdentityOutcome = "failed"
)

// uniqueSecuritiesPrimaryIDConstraint is the index name guarding one
// primary_id per class_name within the securities group (see the core
// schema migration).
const uniqueSecuritiesPrimaryIDConstraint = "idx_assets_unique_securities_primary_id"

// ApplyIdentityMatch performs the identity apply UPDATE for one match,
// conditional on primary_id still being NULL (never overwrite
// provider-sourced identity).
func (s *Store) ApplyIdentityMatch(ctx context.Context, assetID int64, primaryID, matchType string, confidence float64) ApplyIdentityOutcome {
	const q = `
		UPDATE assets
		SET primary_id = $1, primary_id_source = 'matcher',
		    identity_conf = $2, identity_match_type = $3, identity_updated_at = now()
		WHERE id = $4 AND primary_id IS NULL`

	res, err := s.db.Conn().ExecContext(ctx, q, primaryID, confidence, matchType, assetID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if database.ConstraintName(err) == uniqueSecuritiesPrimaryIDConstraint {
				return OutcomeConstraintRejected
			}
		}
		return OutcomeFailed
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return OutcomeSkipped
	}
	return OutcomeApplied
}

// AssetsForProviderMapping returns every asset for a provider that already
// has a primary_id, the automated mapper's input set.
func (s *Store) AssetsForProviderMapping(ctx context.Context, className, classType string) ([]AssetRow, error) {
	const q = `
		SELECT id, class_name, class_type, symbol, primary_id, asset_class_group,
		       matcher_symbol, name, exchange, base_currency, quote_currency, sym_norm_root
		FROM assets
		WHERE primary_id IS NOT NULL AND class_name = $1 AND class_type = $2
		ORDER BY primary_id, class_name, class_type`

	var rows []AssetRow
	if err := s.db.Conn().SelectContext(ctx, &rows, q, className, classType); err != nil {
		return nil, fmt.Errorf("querying assets for provider mapping: %w", err)
	}
	return rows, nil
}

// ExistingMappingRow is one asset_mapping row joined back to its primary_id,
// the mapper's existing-mappings lookup.
type ExistingMappingRow struct {
	ClassName    string `db:"class_name"`
	ClassType    string `db:"class_type"`
	ClassSymbol  string `db:"class_symbol"`
	CommonSymbol string `db:"common_symbol"`
	PrimaryID    string `db:"primary_id"`
}

// ExistingMappingsForPrimaryIDs loads every asset_mapping row whose asset
// has a primary_id in the given set, in one query.
func (s *Store) ExistingMappingsForPrimaryIDs(ctx context.Context, primaryIDs []string) ([]ExistingMappingRow, error) {
	if len(primaryIDs) == 0 {
		return nil, nil
	}
	const q = `
		SELECT am.class_name, am.class_type, am.class_symbol, am.common_symbol, a.primary_id
		FROM asset_mapping am
		JOIN assets a ON am.class_name = a.class_name
		              AND am.class_type = a.class_type
		              AND am.class_symbol = a.symbol
		WHERE a.primary_id = ANY($1)`

	var rows []ExistingMappingRow
	if err := s.db.Conn().SelectContext(ctx, &rows, q, pqStringArray(primaryIDs)); err != nil {
		return nil, fmt.Errorf("querying existing mappings: %w", err)
	}
	return rows, nil
}

// CommonSymbolUsedByOtherPrimaryID reports whether commonSymbol is already
// claimed by a primary_id other than primaryID, the mapper's
// cross-FIGI-conflict check.
func (s *Store) CommonSymbolUsedByOtherPrimaryID(ctx context.Context, commonSymbol, primaryID string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM asset_mapping am
			JOIN assets a ON am.class_name = a.class_name
			              AND am.class_type = a.class_type
			              AND am.class_symbol = a.symbol
			WHERE am.common_symbol = $1 AND a.primary_id IS DISTINCT FROM $2
		)`
	var used bool
	if err := s.db.Conn().GetContext(ctx, &used, q, commonSymbol, primaryID); err != nil {
		return false, fmt.Errorf("checking common_symbol conflict: %w", err)
	}
	return used, nil
}

// ProviderCryptoPreference returns a provider's preferred quote currency
// preference (code_registry.preferences->'crypto'->>'preferred_quote_currency'),
// or "" if unset.
func (s *Store) ProviderCryptoPreference(ctx context.Context, className, classType string) (string, error) {
	const q = `
		SELECT COALESCE(preferences->'crypto'->>'preferred_quote_currency', '')
		FROM code_registry
		WHERE class_name = $1 AND class_type = $2`
	var pref string
	err := s.db.Conn().GetContext(ctx, &pref, q, className, classType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying crypto preference: %w", err)
	}
	return pref, nil
}

// EnsureCommonSymbol upserts a common_symbols row so asset_mapping's foreign
// key is satisfiable.
func (s *Store) EnsureCommonSymbol(ctx context.Context, tx *sqlx.Tx, symbol string) error {
	const q = `
		INSERT INTO common_symbols (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO NOTHING`
	_, err := tx.ExecContext(ctx, q, symbol)
	return err
}

// InsertMapping inserts one asset_mapping row, ON CONFLICT DO NOTHING (the
// mapper's apply step). Returns whether a row was actually inserted.
func (s *Store) InsertMapping(ctx context.Context, tx *sqlx.Tx, className, classType, classSymbol, commonSymbol string) (bool, error) {
	const q = `
		INSERT INTO asset_mapping (class_name, class_type, class_symbol, common_symbol)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (class_name, class_type, class_symbol) DO NOTHING`
	res, err := tx.ExecContext(ctx, q, className, classType, classSymbol, commonSymbol)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CodeRegistryRow is the subset of a code_registry row the pipeline needs to
// distinguish IndexProvider from historical/live providers.
type CodeRegistryRow struct {
	ClassType    string `db:"class_type"`
	ClassSubtype string `db:"class_subtype"`
}

// GetCodeRegistryRow fetches the class_subtype for a provider/broker.
func (s *Store) GetCodeRegistryRow(ctx context.Context, className, classType string) (*CodeRegistryRow, error) {
	const q = `SELECT class_type, class_subtype FROM code_registry WHERE class_name = $1 AND class_type = $2`
	var row CodeRegistryRow
	err := s.db.Conn().GetContext(ctx, &row, q, className, classType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying code_registry row: %w", err)
	}
	return &row, nil
}

// GetIndexProviderRow resolves an index's class_type by class_name alone,
// scoped to class_subtype = 'IndexProvider'. Used by the sync-index endpoint,
// whose URL only carries the index's class_name.
func (s *Store) GetIndexProviderRow(ctx context.Context, className string) (*CodeRegistryRow, error) {
	const q = `SELECT class_type, class_subtype FROM code_registry WHERE class_name = $1 AND class_subtype = 'IndexProvider'`
	var row CodeRegistryRow
	err := s.db.Conn().GetContext(ctx, &row, q, className)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying index provider row: %w", err)
	}
	return &row, nil
}

// ProviderRow identifies one registered provider/broker for the
// update-all-assets fan-out.
type ProviderRow struct {
	ClassName string `db:"class_name"`
	ClassType string `db:"class_type"`
}

// ListProviders returns every code_registry row, the input set for
// update-all-assets.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderRow, error) {
	const q = `SELECT class_name, class_type FROM code_registry ORDER BY class_name, class_type`
	var rows []ProviderRow
	if err := s.db.Conn().SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	return rows, nil
}

// UpsertAssetInput is one discovered symbol, ready to be upserted into
// assets inside its own savepoint.
type UpsertAssetInput struct {
	ClassName     string
	ClassType     string
	Symbol        string
	ExternalID    *string
	PrimaryID     *string
	MatcherSymbol string
	Name          *string
	Exchange      *string
	AssetClass    string
	BaseCurrency  *string
	QuoteCurrency *string
	Country       *string
	SymNormFull   string
	SymNormRoot   string
}

// UpsertAsset inserts or updates one assets row within tx. On insert,
// primary_id_source is set to 'provider' when PrimaryID is supplied; on
// update, primary_id is only overwritten when a new non-null value is
// supplied, preserving matcher-assigned IDs.
func (s *Store) UpsertAsset(ctx context.Context, tx *sqlx.Tx, in UpsertAssetInput) error {
	assetClassGroup := groupFor(in.AssetClass)

	const q = `
		INSERT INTO assets (
			class_name, class_type, symbol, external_id, primary_id, primary_id_source,
			matcher_symbol, name, exchange, asset_class, asset_class_group,
			base_currency, quote_currency, country, sym_norm_full, sym_norm_root, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, CASE WHEN $5 IS NOT NULL THEN 'provider' ELSE NULL END,
			$6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now()
		)
		ON CONFLICT (class_name, class_type, symbol) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			primary_id = CASE WHEN EXCLUDED.primary_id IS NOT NULL THEN EXCLUDED.primary_id ELSE assets.primary_id END,
			primary_id_source = CASE WHEN EXCLUDED.primary_id IS NOT NULL THEN 'provider' ELSE assets.primary_id_source END,
			matcher_symbol = EXCLUDED.matcher_symbol,
			name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			asset_class = EXCLUDED.asset_class,
			asset_class_group = EXCLUDED.asset_class_group,
			base_currency = EXCLUDED.base_currency,
			quote_currency = EXCLUDED.quote_currency,
			country = EXCLUDED.country,
			sym_norm_full = EXCLUDED.sym_norm_full,
			sym_norm_root = EXCLUDED.sym_norm_root,
			updated_at = now()`

	_, err := tx.ExecContext(ctx, q,
		in.ClassName, in.ClassType, in.Symbol, in.ExternalID, in.PrimaryID,
		in.MatcherSymbol, in.Name, in.Exchange, in.AssetClass, string(assetClassGroup),
		in.BaseCurrency, in.QuoteCurrency, in.Country, in.SymNormFull, in.SymNormRoot)
	return err
}

// MembershipKeyKind selects which column identifies a membership's member:
// asset_symbol for API-sourced (provider) indices, common_symbol for
// user-maintained indices.
type MembershipKeyKind string

const (
	MembershipKeyAsset  MembershipKeyKind = "asset_symbol"
	MembershipKeyCommon MembershipKeyKind = "common_symbol"
)

// MembershipRow is one active index_memberships row, keyed generically by
// whichever column the index's kind uses.
type MembershipRow struct {
	ID     int64    `db:"id"`
	Symbol *string  `db:"symbol"`
	Weight *float64 `db:"weight"`
}

// ActiveMemberships fetches current (valid_to IS NULL) members of an index.
func (s *Store) ActiveMemberships(ctx context.Context, tx *sqlx.Tx, indexClassName, indexClassType string, keyKind MembershipKeyKind) ([]MembershipRow, error) {
	q := fmt.Sprintf(`
		SELECT id, %s AS symbol, weight
		FROM index_memberships
		WHERE index_class_name = $1 AND index_class_type = $2 AND valid_to IS NULL`, keyKind)
	var rows []MembershipRow
	if err := tx.SelectContext(ctx, &rows, q, indexClassName, indexClassType); err != nil {
		return nil, fmt.Errorf("querying active memberships: %w", err)
	}
	return rows, nil
}

// CloseMembership sets valid_to = now() on one membership row.
func (s *Store) CloseMembership(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE index_memberships SET valid_to = now() WHERE id = $1`, id)
	return err
}

// UpdateMembershipWeight updates a membership row's weight in place
// (in_place mode).
func (s *Store) UpdateMembershipWeight(ctx context.Context, tx *sqlx.Tx, id int64, weight *float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE index_memberships SET weight = $1 WHERE id = $2`, weight, id)
	return err
}

// InsertMembership inserts a new active membership row (valid_from = now,
// valid_to = null), keyed by keyKind's column. assetClassName/assetClassType
// are attributed to provider-sourced (asset_symbol-keyed) rows and left
// empty for user-index (common_symbol-keyed) rows.
func (s *Store) InsertMembership(ctx context.Context, tx *sqlx.Tx, indexClassName, indexClassType string, keyKind MembershipKeyKind, symbol string, assetClassName, assetClassType *string, weight *float64, source string) error {
	q := fmt.Sprintf(`
		INSERT INTO index_memberships (index_class_name, index_class_type, asset_class_name, asset_class_type, %s, weight, source, valid_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`, keyKind)
	_, err := tx.ExecContext(ctx, q, indexClassName, indexClassType, assetClassName, assetClassType, symbol, weight, source)
	return err
}

// WithTransaction runs fn within a transaction against Registry's
// connection pool.
func (s *Store) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return database.WithTransaction(ctx, s.db.Conn(), fn)
}

// WithSavepoint runs fn inside a named savepoint on tx.
func (s *Store) WithSavepoint(tx *sqlx.Tx, name string, fn func() error) error {
	return database.WithSavepoint(tx, name, fn)
}

// argList accumulates positional query parameters and hands back $N
// placeholders, so the suggestion query builder can interleave shared filter
// clauses across the UNION ALL branches without hand-counting placeholders.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

// suggestionBranch returns one UNION ALL arm of the candidate query:
// every (source, target) asset pair joined on joinExpr, restricted to the
// same asset_class, a distinct pair, no existing mapping on the source
// side, and the caller's class filters.
func suggestionBranch(a *argList, joinExpr string, baseScore float64, sourceClass, targetClass string) string {
	sourceFilter := ""
	if sourceClass != "" {
		sourceFilter = " AND src.class_name = " + a.add(sourceClass)
	}
	targetFilter := ""
	if targetClass != "" {
		targetFilter = " AND tgt.class_name = " + a.add(targetClass)
	}
	return fmt.Sprintf(`
		SELECT src.id AS src_id, tgt.id AS tgt_id, %g::double precision AS base_score
		FROM assets src
		JOIN assets tgt ON %s AND src.id <> tgt.id AND src.asset_class = tgt.asset_class
		WHERE NOT EXISTS (
			SELECT 1 FROM asset_mapping m
			WHERE m.class_name = src.class_name AND m.class_type = src.class_type AND m.class_symbol = src.symbol
		)%s%s`, baseScore, joinExpr, sourceFilter, targetFilter)
}

// buildSuggestionQuery assembles the full suggestion SQL (the candidate branches
// UNION ALL'd, scored, DISTINCT ON'd per pair, filtered, and ordered) plus
// its positional args. withSimilarity controls whether the trigram terms
// are included (retried once at zero if the engine lacks
// similarity()). When forCount is true, the query returns a single `total`
// row instead of the paginated result set.
func buildSuggestionQuery(q SuggestionQuery, withSimilarity, forCount bool) (string, []any) {
	a := &argList{}

	branches := strings.Join([]string{
		suggestionBranch(a, "src.primary_id = tgt.primary_id AND src.primary_id IS NOT NULL AND tgt.primary_id IS NOT NULL", 70.0, q.SourceClass, q.TargetClass),
		suggestionBranch(a, "src.external_id = tgt.external_id AND src.external_id IS NOT NULL AND tgt.external_id IS NOT NULL", 50.0, q.SourceClass, q.TargetClass),
		suggestionBranch(a, "src.sym_norm_root = tgt.sym_norm_root", 30.0, q.SourceClass, q.TargetClass),
		suggestionBranch(a, "src.sym_norm_full = tgt.sym_norm_full AND src.sym_norm_full <> src.sym_norm_root", 30.0, q.SourceClass, q.TargetClass),
	}, "\nUNION ALL\n")

	simSymTerm := "0.0"
	simNameTerm := "0.0"
	if withSimilarity {
		simSymTerm = "similarity(src.sym_norm_root, tgt.sym_norm_root) * 15.0"
		simNameTerm = "similarity(COALESCE(src.name, ''), COALESCE(tgt.name, '')) * 10.0"
	}

	searchFilter := ""
	if q.Search != "" {
		arg := a.add("%" + q.Search + "%")
		searchFilter = fmt.Sprintf(" AND (src.symbol ILIKE %s OR tgt.symbol ILIKE %s)", arg, arg)
	}

	scoredCTE := fmt.Sprintf(`
	scored AS (
		SELECT DISTINCT ON (src.symbol, tgt.symbol)
			src.class_name AS source_class_name, src.class_type AS source_class_type, src.symbol AS source_symbol,
			tgt.class_name AS target_class_name, tgt.class_type AS target_class_type, tgt.symbol AS target_symbol,
			tgt.sym_norm_root AS target_sym_norm_root,
			tm.common_symbol AS existing_common_symbol,
			(
				b.base_score
				+ CASE WHEN src.base_currency = tgt.base_currency AND src.quote_currency = tgt.quote_currency
				       AND src.base_currency IS NOT NULL AND src.quote_currency IS NOT NULL THEN 10.0 ELSE 0.0 END
				+ CASE WHEN src.exchange = tgt.exchange AND src.exchange IS NOT NULL THEN 5.0 ELSE 0.0 END
				+ %s
				+ %s
			) AS score
		FROM branches b
		JOIN assets src ON src.id = b.src_id
		JOIN assets tgt ON tgt.id = b.tgt_id
		LEFT JOIN asset_mapping tm ON tm.class_name = tgt.class_name AND tm.class_type = tgt.class_type AND tm.class_symbol = tgt.symbol
		WHERE true%s
		ORDER BY src.symbol, tgt.symbol, score DESC
	)`, simSymTerm, simNameTerm, searchFilter)

	minScoreArg := a.add(q.MinScore)

	if forCount {
		sql := fmt.Sprintf(`
			WITH branches AS (%s), %s
			SELECT count(*) AS total FROM scored WHERE score >= %s`, branches, scoredCTE, minScoreArg)
		return sql, a.args
	}

	cursorFilter := ""
	if q.Cursor != nil {
		scoreArg := a.add(q.Cursor.Score)
		srcArg := a.add(q.Cursor.SourceSymbol)
		tgtArg := a.add(q.Cursor.TargetSymbol)
		cursorFilter = fmt.Sprintf(` AND (score < %s OR (score = %s AND source_symbol > %s) OR (score = %s AND source_symbol = %s AND target_symbol > %s))`,
			scoreArg, scoreArg, srcArg, scoreArg, srcArg, tgtArg)
	}

	limitArg := a.add(q.Limit + 1)

	sql := fmt.Sprintf(`
		WITH branches AS (%s), %s
		SELECT * FROM scored
		WHERE score >= %s%s
		ORDER BY score DESC, source_symbol ASC, target_symbol ASC
		LIMIT %s`, branches, scoredCTE, minScoreArg, cursorFilter, limitArg)

	return sql, a.args
}

// SuggestionCandidates runs the suggestion query and returns up to q.Limit+1 rows
// (the extra row signals has_more).
func (s *Store) SuggestionCandidates(ctx context.Context, q SuggestionQuery, withSimilarity bool) ([]Suggestion, error) {
	sql, args := buildSuggestionQuery(q, withSimilarity, false)
	var rows []Suggestion
	if err := s.db.Conn().SelectContext(ctx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("querying mapping suggestions: %w", err)
	}
	return rows, nil
}

// SuggestionCandidatesCount runs the suggestion query's count variant for
// include_total=true requests.
func (s *Store) SuggestionCandidatesCount(ctx context.Context, q SuggestionQuery) (int, error) {
	sql, args := buildSuggestionQuery(q, true, true)
	var total int
	if err := s.db.Conn().GetContext(ctx, &total, sql, args...); err != nil {
		return 0, fmt.Errorf("counting mapping suggestions: %w", err)
	}
	return total, nil
}
