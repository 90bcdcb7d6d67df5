package datahub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffAddedSymbolsFindsNewEntries(t *testing.T) {
	old := []string{"AAPL", "MSFT"}
	newSyms := []string{"AAPL", "MSFT", "GOOG"}
	newExchanges := []string{"XNAS", "XNAS", "XNAS"}

	added, addedExchanges := diffAddedSymbols(old, newSyms, newExchanges)

	assert.Equal(t, []string{"GOOG"}, added)
	assert.Equal(t, []string{"XNAS"}, addedExchanges)
}

func TestDiffAddedSymbolsNoChanges(t *testing.T) {
	old := []string{"AAPL"}
	added, addedExchanges := diffAddedSymbols(old, old, []string{"XNAS"})
	assert.Empty(t, added)
	assert.Empty(t, addedExchanges)
}

func TestDiffAddedSymbolsEmptyOld(t *testing.T) {
	added, addedExchanges := diffAddedSymbols(nil, []string{"AAPL"}, []string{"XNAS"})
	assert.Equal(t, []string{"AAPL"}, added)
	assert.Equal(t, []string{"XNAS"}, addedExchanges)
}
