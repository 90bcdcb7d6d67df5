package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatp(f float64) *float64 { return &f }

func TestWeightsEqualBothNil(t *testing.T) {
	assert.True(t, weightsEqual(nil, nil))
}

func TestWeightsEqualOneNilNotEqual(t *testing.T) {
	assert.False(t, weightsEqual(nil, floatp(1.0)))
	assert.False(t, weightsEqual(floatp(1.0), nil))
}

func TestWeightsEqualWithinTolerance(t *testing.T) {
	assert.True(t, weightsEqual(floatp(0.1), floatp(0.1+1e-10)))
}

func TestWeightsEqualOutsideTolerance(t *testing.T) {
	assert.False(t, weightsEqual(floatp(0.1), floatp(0.1+1e-8)))
}
