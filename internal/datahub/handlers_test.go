package datahub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyProviderFileUnregisteredNameFails(t *testing.T) {
	_, _, ok := classifyProviderFile(`provider.Register("UNREGISTERED_PROVIDER", New)`)
	assert.False(t, ok)
}

func TestClassifyProviderFileNoMarker(t *testing.T) {
	_, _, ok := classifyProviderFile(`package foo`)
	assert.False(t, ok)
}

func TestModuleNameFromPath(t *testing.T) {
	assert.Equal(t, "eodhd", moduleNameFromPath("/providers/eodhd.go"))
}

func TestHandleAvailableSymbolsMissingProviderName(t *testing.T) {
	h := NewHandlers(nil, "/providers", zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet, "/internal/providers/available-symbols", nil)
	w := httptest.NewRecorder()
	h.HandleAvailableSymbols(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleValidateRejectsOutsideSandbox(t *testing.T) {
	h := NewHandlers(nil, "/allowed/providers", zerolog.Nop())

	body := strings.NewReader(`{"file_path":"/etc/passwd"}`)
	r := httptest.NewRequest(http.MethodPost, "/internal/provider/validate", body)
	w := httptest.NewRecorder()
	h.HandleValidate(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleValidateRejectsMissingFilePath(t *testing.T) {
	h := NewHandlers(nil, "/allowed/providers", zerolog.Nop())

	body := strings.NewReader(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/internal/provider/validate", body)
	w := httptest.NewRecorder()
	h.HandleValidate(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
