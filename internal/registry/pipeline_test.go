package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetAttrsFromSymbolPrefersPrimaryIDOverProviderID(t *testing.T) {
	s := DataHubSymbol{Symbol: "AAPL", PrimaryID: strp("F1"), ProviderID: "P1"}
	a := assetAttrsFromSymbol(s)
	assert.Equal(t, "F1", *a.primaryID)
}

func TestAssetAttrsFromSymbolFallsBackToProviderID(t *testing.T) {
	s := DataHubSymbol{Symbol: "AAPL", ProviderID: "P1"}
	a := assetAttrsFromSymbol(s)
	assert.Equal(t, "P1", *a.primaryID)
}

func TestAssetAttrsFromSymbolNoIdentityAvailable(t *testing.T) {
	s := DataHubSymbol{Symbol: "AAPL"}
	a := assetAttrsFromSymbol(s)
	assert.Nil(t, a.primaryID)
}

func TestAssetAttrsFromSymbolDefaultsMatcherSymbolToSymbol(t *testing.T) {
	s := DataHubSymbol{Symbol: "AAPL"}
	a := assetAttrsFromSymbol(s)
	assert.Equal(t, "AAPL", a.matcherSymbol)
}

func TestAssetAttrsFromConstituentDefaultsAssetClassToEquity(t *testing.T) {
	c := DataHubConstituent{Symbol: "AAPL"}
	a := assetAttrsFromConstituent(c)
	assert.Equal(t, "equity", a.assetClass)
}

func TestNormalizeSymbolStripsExchangeSuffix(t *testing.T) {
	full, root := normalizeSymbol("AAPL.US")
	assert.Equal(t, "aaplus", full)
	assert.Equal(t, "aapl", root)
}

func TestNormalizeSymbolCollapsesQuoteCurrencySuffix(t *testing.T) {
	full, root := normalizeSymbol("BTC-USD")
	assert.Equal(t, "btcusd", full)
	assert.Equal(t, "btc", root)
}

func TestNormalizeSymbolNoSeparatorFullEqualsRoot(t *testing.T) {
	full, root := normalizeSymbol("AAPL")
	assert.Equal(t, full, root)
	assert.Equal(t, "aapl", full)
}
