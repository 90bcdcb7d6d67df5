package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strp(s string) *string { return &s }

func TestDeriveCandidateSymbolPrefersShortestSymNormRoot(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "AAPL.US", SymNormRoot: "aapl"},
		{Symbol: "AA", SymNormRoot: "aa"},
		{Symbol: "AAP", SymNormRoot: "aap"},
	}
	assert.Equal(t, "AA", deriveCandidateSymbol(assets))
}

func TestDeriveCandidateSymbolAlphabeticalTieBreak(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "B.US", SymNormRoot: "bbb"},
		{Symbol: "A.US", SymNormRoot: "aaa"},
	}
	assert.Equal(t, "AAA", deriveCandidateSymbol(assets))
}

func TestDeriveCandidateSymbolFallsBackToSymbolWhenNoSymNormRoot(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "zzz"},
		{Symbol: "aaa"},
	}
	assert.Equal(t, "AAA", deriveCandidateSymbol(assets))
}

func TestSelectCryptoAssetSingleQuoteCurrencyWinsRegardlessOfPreference(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "BTC.A", QuoteCurrency: strp("EUR")},
		{Symbol: "BTC.B", QuoteCurrency: strp("EUR")},
	}
	selected, reason := selectCryptoAsset(assets, "USD")
	assert.Equal(t, "single-quote-available", reason)
	assert.Equal(t, "BTC.A", selected.Symbol)
}

func TestSelectCryptoAssetPreferredQuoteWinsOverUSDFallback(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "BTC.USD", QuoteCurrency: strp("USD")},
		{Symbol: "BTC.EUR", QuoteCurrency: strp("EUR")},
	}
	selected, reason := selectCryptoAsset(assets, "EUR")
	assert.Equal(t, "preferred-match", reason)
	assert.Equal(t, "BTC.EUR", selected.Symbol)
}

func TestSelectCryptoAssetUSDFallbackWhenNoPreferenceMatch(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "BTC.GBP", QuoteCurrency: strp("GBP")},
		{Symbol: "BTC.USD", QuoteCurrency: strp("USD")},
		{Symbol: "BTC.USDT", QuoteCurrency: strp("USDT")},
	}
	selected, reason := selectCryptoAsset(assets, "EUR")
	assert.Equal(t, "usd-fallback", reason)
	// alphabetically first of the USD-containing matches
	assert.Equal(t, "BTC.USD", selected.Symbol)
}

func TestSelectCryptoAssetNoSuitableMatch(t *testing.T) {
	assets := []AssetRow{
		{Symbol: "BTC.GBP", QuoteCurrency: strp("GBP")},
		{Symbol: "BTC.JPY", QuoteCurrency: strp("JPY")},
	}
	selected, reason := selectCryptoAsset(assets, "EUR")
	assert.Nil(t, selected)
	assert.Equal(t, "no-suitable-usd", reason)
}

func TestSelectCryptoAssetEmptyInput(t *testing.T) {
	selected, reason := selectCryptoAsset(nil, "USD")
	assert.Nil(t, selected)
	assert.Equal(t, "no-suitable-usd", reason)
}

func TestGroupByPrimaryIDSkipsUnidentifiedAndGroupsByClassGroup(t *testing.T) {
	f1 := "F1"
	f2 := "F2"
	assets := []AssetRow{
		{Symbol: "a", PrimaryID: &f1, AssetClassGroup: "securities"},
		{Symbol: "b", PrimaryID: nil, AssetClassGroup: "securities"},
		{Symbol: "c", PrimaryID: &f1, AssetClassGroup: "securities"},
		{Symbol: "d", PrimaryID: &f2, AssetClassGroup: "crypto"},
	}
	groups, primaryIDs := groupByPrimaryID(assets)
	assert.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"F1", "F2"}, primaryIDs)

	for _, g := range groups {
		if g.primaryID == "F1" {
			assert.Len(t, g.assets, 2)
		} else {
			assert.Len(t, g.assets, 1)
		}
	}
}
