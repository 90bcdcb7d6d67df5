package enum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAssetClass(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantOK  bool
	}{
		{"canonical lowercase", "equity", "equity", true},
		{"canonical mixed case", "Equity", "equity", true},
		{"alias stock", "stock", "equity", true},
		{"alias fx", "FX", "currency", true},
		{"alias futures", "futures", "future", true},
		{"alias perp", "perp", "future", true},
		{"alias perps", "perps", "future", true},
		{"unknown value", "doge_coin", "doge_coin", false},
		{"empty value", "", "", false},
		{"whitespace padded", "  etf  ", "etf", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAssetClass(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNormalizeInterval(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"canonical", "1d", "1d", true},
		{"alias daily", "daily", "1d", true},
		{"alias one_minute", "one_minute", "1min", true},
		{"unknown", "weekly_ish", "weekly_ish", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeInterval(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestGroupFor(t *testing.T) {
	assert.Equal(t, GroupCrypto, GroupFor("crypto"))
	assert.Equal(t, GroupSecurities, GroupFor("equity"))
	assert.Equal(t, GroupSecurities, GroupFor("currency"))
}
