package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Score: 87.5, SourceSymbol: "AAPL", TargetSymbol: "AAPL.US"}
	encoded, err := EncodeCursor(c)
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestCursorRoundTripUnicodeAndSpecialCharacters(t *testing.T) {
	c := Cursor{Score: 42.123, SourceSymbol: "BRK.B/Ω", TargetSymbol: "日本株式会社"}
	encoded, err := EncodeCursor(c)
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestDecodeCursorRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeCursor("not valid base64!!!")
	assert.Error(t, err)
}

func TestDecodeCursorRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeCursor("bm90IGpzb24=") // base64("not json")
	assert.Error(t, err)
}
