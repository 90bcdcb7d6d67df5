// Package enum holds the closed sets of asset classes and bar intervals the
// platform recognizes, along with the alias normalization providers' raw
// strings go through before they reach assets.asset_class / historical_data.interval.
package enum

import "strings"

// AssetClass is one of the platform's recognized asset classes.
type AssetClass string

const (
	Equity             AssetClass = "equity"
	Fund               AssetClass = "fund"
	ETF                AssetClass = "etf"
	Bond               AssetClass = "bond"
	Crypto             AssetClass = "crypto"
	Currency           AssetClass = "currency"
	Future             AssetClass = "future"
	Option             AssetClass = "option"
	Index              AssetClass = "index"
	Commodity          AssetClass = "commodity"
	Derivative         AssetClass = "derivative"
	CFD                AssetClass = "cfd"
	Warrant            AssetClass = "warrant"
	ADR                AssetClass = "adr"
	Preferred          AssetClass = "preferred"
	MutualFund         AssetClass = "mutual_fund"
	MoneyMarket        AssetClass = "money_market"
	Rates              AssetClass = "rates"
	MBS                AssetClass = "mbs"
	Muni               AssetClass = "muni"
	StructuredProduct  AssetClass = "structured_product"
)

// AssetClasses is the full closed set, in declaration order.
var AssetClasses = []AssetClass{
	Equity, Fund, ETF, Bond, Crypto, Currency, Future, Option, Index,
	Commodity, Derivative, CFD, Warrant, ADR, Preferred, MutualFund,
	MoneyMarket, Rates, MBS, Muni, StructuredProduct,
}

// Interval is one of the platform's recognized bar intervals.
type Interval string

const (
	I1Min  Interval = "1min"
	I5Min  Interval = "5min"
	I15Min Interval = "15min"
	I30Min Interval = "30min"
	I1H    Interval = "1h"
	I4H    Interval = "4h"
	I1D    Interval = "1d"
	I1W    Interval = "1w"
	I1M    Interval = "1M"
)

// Intervals is the full closed set, in declaration order.
var Intervals = []Interval{I1Min, I5Min, I15Min, I30Min, I1H, I4H, I1D, I1W, I1M}

// assetClassAliases maps historically common provider spellings onto the
// canonical asset class. Kept in sync with what providers actually send.
var assetClassAliases = map[string]string{
	"adr_pref":     "preferred",
	"bond_etf":     "etf",
	"futures":      "future",
	"fx":           "currency",
	"index_option": "option",
	"mmf":          "money_market",
	"perp":         "future",
	"perps":        "future",
	"stock":        "equity",
}

// intervalAliases maps common provider spellings onto the canonical interval.
var intervalAliases = map[string]string{
	"daily":      "1d",
	"one_minute": "1min",
}

var assetClassCanonical = buildCanonical(AssetClasses, func(c AssetClass) string { return string(c) })
var intervalCanonical = buildCanonical(Intervals, func(i Interval) string { return string(i) })

func buildCanonical[T any](values []T, str func(T) string) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		s := str(v)
		m[strings.ToLower(s)] = s
	}
	return m
}

// NormalizeAssetClass lowercases, resolves aliases, and falls back to
// canonical casing for known values. Unknown values are returned lowercased
// and unchanged; callers decide whether to reject them.
func NormalizeAssetClass(value string) (string, bool) {
	return normalize(value, assetClassAliases, assetClassCanonical)
}

// NormalizeInterval lowercases, resolves aliases, and falls back to canonical
// casing for known values. Unknown values are returned lowercased and
// unchanged; callers decide whether to reject them.
func NormalizeInterval(value string) (string, bool) {
	return normalize(value, intervalAliases, intervalCanonical)
}

// normalize returns (normalized value, true) when value (after alias
// resolution) is a member of canonical, or (lowercased value, false)
// otherwise.
func normalize(value string, aliases, canonical map[string]string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", false
	}
	if alias, ok := aliases[v]; ok {
		return alias, true
	}
	if c, ok := canonical[v]; ok {
		return c, true
	}
	return v, false
}

// AssetClassGroup is the coarse securities-vs-crypto partition used to scope
// uniqueness constraints, fuzzy matching, and cross-provider mapping.
type AssetClassGroup string

const (
	GroupSecurities AssetClassGroup = "securities"
	GroupCrypto     AssetClassGroup = "crypto"
)

// GroupFor derives the asset_class_group for a normalized asset class. Crypto
// is the only asset class that falls outside the "securities" umbrella.
func GroupFor(assetClass string) AssetClassGroup {
	if assetClass == string(Crypto) {
		return GroupCrypto
	}
	return GroupSecurities
}
