package rdd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// curvedSample draws data with side-specific curvature and noise so the
// plug-in rule has something to react to.
func curvedSample(rng *rand.Rand, n int, noiseLeft, noiseRight float64) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 2*rng.Float64() - 1
		if x[i] < 0 {
			y[i] = 0.5 + 0.3*x[i] + 0.8*x[i]*x[i] + noiseLeft*rng.NormFloat64()
		} else {
			y[i] = 0.2 - 0.1*x[i] - 0.5*x[i]*x[i] + noiseRight*rng.NormFloat64()
		}
	}
	return x, y
}

func TestSelectMSERD(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x, y := curvedSample(rng, 3000, 0.1, 0.1)

	sel := &Selector{Order: 1, Cutoff: 0}
	bw, err := sel.Select(x, y, MSERD)
	require.NoError(t, err)

	assert.Greater(t, bw.H.Left, 0.0)
	assert.Equal(t, bw.H.Left, bw.H.Right, "mserd uses a common bandwidth")
	assert.GreaterOrEqual(t, bw.B.Left, bw.H.Left, "bias window covers the conventional window")
	assert.GreaterOrEqual(t, bw.B.Right, bw.H.Right)
	assert.False(t, math.IsNaN(bw.H.Left))

	// With curvature present the window should not span the support.
	assert.Less(t, bw.H.Left, 1.0)
}

func TestSelectMSETwo(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	// Much noisier left side: its bandwidth should differ.
	x, y := curvedSample(rng, 3000, 0.5, 0.05)

	sel := &Selector{Order: 1, Cutoff: 0}
	bw, err := sel.Select(x, y, MSETwo)
	require.NoError(t, err)

	assert.Greater(t, bw.H.Left, 0.0)
	assert.Greater(t, bw.H.Right, 0.0)
	assert.NotEqual(t, bw.H.Left, bw.H.Right)
}

func TestSelectHigherOrderWidens(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x, y := curvedSample(rng, 3000, 0.1, 0.1)

	h1, err := (&Selector{Order: 1, Cutoff: 0}).Select(x, y, MSERD)
	require.NoError(t, err)
	h2, err := (&Selector{Order: 2, Cutoff: 0}).Select(x, y, MSERD)
	require.NoError(t, err)

	// A higher-order fit has less bias and optimally uses more data.
	assert.Greater(t, h2.H.Left, h1.H.Left)
}

func TestSelectInsufficientData(t *testing.T) {
	x := []float64{-1, -2, -3, 1, 2, 3}
	y := []float64{0, 0, 0, 1, 1, 1}

	sel := &Selector{Order: 1, Cutoff: 0}
	_, err := sel.Select(x, y, MSERD)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestSelectConstantRunning(t *testing.T) {
	x := make([]float64, 40)
	y := make([]float64, 40)
	for i := range x {
		x[i] = 1
		y[i] = float64(i % 2)
	}

	sel := &Selector{Order: 1, Cutoff: 0}
	_, err := sel.Select(x, y, MSERD)
	require.Error(t, err)
}

func TestSelectLengthMismatch(t *testing.T) {
	_, err := (&Selector{Order: 1}).Select(make([]float64, 10), make([]float64, 9), MSERD)
	require.ErrorIs(t, err, ErrConfig)
}
