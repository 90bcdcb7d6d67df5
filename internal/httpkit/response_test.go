package httpkit

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/instrumentdata/platform/internal/apperr"
)

func TestWriteErrorMapsKindToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", apperr.NotFound("missing"), 404},
		{"conflict", apperr.Conflict("dup"), 409},
		{"validation", apperr.Validation("bad"), 400},
		{"permission denied", apperr.PermissionDenied("nope"), 403},
		{"upstream", apperr.Upstream("bad gateway", errors.New("boom")), 502},
		{"unknown", errors.New("plain"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), "error"))
		})
	}
}

func TestDecodeJSONMalformedBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("not json"))
	var v struct{ Foo string }
	err := DecodeJSON(r, &v)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDecodeJSONValid(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"foo":"bar"}`))
	var v struct{ Foo string }
	err := DecodeJSON(r, &v)
	assert.NoError(t, err)
	assert.Equal(t, "bar", v.Foo)
}
