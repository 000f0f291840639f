package markcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatchesSpecConstants(t *testing.T) {
	c := Default()
	assert.Equal(t, 50, c.RateWindow)
	assert.Equal(t, float64(10_000), c.L4STargetDelayMicros)
	assert.Equal(t, float64(1500*150), c.ClassicThresholdBytes)
	assert.Equal(t, int64(1336), c.AccECNSegmentBytes)
	assert.Equal(t, int64(5), c.AccECNCEPktFloor)
	assert.Equal(t, int64(1), c.AccECNECT1ByteFloor)
	assert.Equal(t, int64(1), c.AccECNECT0ByteFloor)
	assert.Equal(t, 0.1, c.RWNDGamma)
	assert.Equal(t, 0.5, c.RWNDAlpha)
}

func TestClassicThresholdPerUE(t *testing.T) {
	c := Default()
	c.NofUE = 3
	assert.InDelta(t, (1500*150)/3.0, c.ClassicThresholdPerUE(), 1e-9)
}

func TestClassicThresholdPerUEGuardsZeroUE(t *testing.T) {
	c := Default()
	c.NofUE = 0
	assert.Equal(t, c.ClassicThresholdBytes, c.ClassicThresholdPerUE())
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	_, err := LoadFile("/nonexistent/mark.hcl")
	assert.Error(t, err)
}
