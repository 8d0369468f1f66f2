package rdd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCenterIncome(t *testing.T) {
	rc := RunningConfig{Threshold: 1500}

	r, err := rc.CenterIncome(1400)
	require.NoError(t, err)
	assert.Equal(t, -100.0, r)

	_, err = rc.CenterIncome(math.NaN())
	require.ErrorIs(t, err, ErrMissingInput)
}

func TestEligibleSides(t *testing.T) {
	below := RunningConfig{}
	assert.True(t, below.Eligible(-1))
	assert.False(t, below.Eligible(0))
	assert.False(t, below.Eligible(1))

	above := RunningConfig{EligibleAbove: true}
	assert.False(t, above.Eligible(-1))
	assert.True(t, above.Eligible(0))
	assert.True(t, above.Eligible(1))
}

func TestBuildRunningDropsMissing(t *testing.T) {
	rc := RunningConfig{Threshold: 100}
	income := []float64{90, math.NaN(), 130, math.NaN()}

	running, keep, dropped := rc.BuildRunning(income)
	assert.Equal(t, []float64{-10, 30}, running)
	assert.Equal(t, []int{0, 2}, keep)
	assert.Equal(t, 2, dropped)
}

func TestDeltaRoundTrip(t *testing.T) {
	rc := RunningConfig{Threshold: 1000, ThresholdFollowup: 1100}
	base := []float64{900, 1200, math.NaN(), 1050}
	followup := []float64{1000, 1150, 1100, math.NaN()}

	d, keep, dropped := rc.BuildDelta(base, followup)
	require.NotNil(t, d)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []int{0, 1}, keep)
	require.Equal(t, 2, d.Len())

	// The delta values are the differenced gaps.
	v := d.Values()
	assert.InDelta(t, (1000.0-1100)-(900-1000), v[0], 1e-12)
	assert.InDelta(t, (1150.0-1100)-(1200-1000), v[1], 1e-12)

	// Component recovery is exact.
	b0, f0 := d.Components(0)
	assert.Equal(t, 900.0-1000, b0)
	assert.Equal(t, 1000.0-1100, f0)
	b1, f1 := d.Components(1)
	assert.Equal(t, 1200.0-1000, b1)
	assert.Equal(t, 1150.0-1100, f1)
	assert.Equal(t, f0-b0, v[0])
	assert.Equal(t, f1-b1, v[1])
}

func TestBuildDeltaLengthMismatch(t *testing.T) {
	rc := RunningConfig{}
	d, keep, _ := rc.BuildDelta([]float64{1, 2}, []float64{1})
	assert.Nil(t, d)
	assert.Nil(t, keep)
}
