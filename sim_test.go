package rdd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoverageUnderNull draws repeated samples with no discontinuity
// and checks that the conventional 95% interval covers zero at close to
// the nominal rate.
func TestCoverageUnderNull(t *testing.T) {
	if testing.Short() {
		t.Skip("simulation test")
	}

	rng := rand.New(rand.NewSource(101))
	covered := 0
	coveredRobust := 0
	reps := 100

	for rep := 0; rep < reps; rep++ {
		n := 1000
		x := make([]float64, n)
		y := make([]float64, n)
		for i := 0; i < n; i++ {
			x[i] = 2*rng.Float64() - 1
			y[i] = 0.5 + 0.1*rng.NormFloat64()
		}

		sel := &Selector{Order: 1, Cutoff: 0}
		bw, err := sel.Select(x, y, MSERD)
		require.NoError(t, err)

		est := NewEstimator(EstimateConfig{Order: 1, Cutoff: 0})
		fit, err := est.Estimate(x, y, nil, bw)
		require.NoError(t, err)

		v, err := (&VarianceEstimator{}).Compute(fit, x, 0)
		require.NoError(t, err)

		if math.Abs(fit.Conventional) <= 1.96*v.Conventional {
			covered++
		}
		if math.Abs(fit.BiasCorrected) <= 1.96*v.Robust {
			coveredRobust++
		}
	}

	assert.GreaterOrEqual(t, covered, 94, "conventional 95%% CI covered zero in %d/%d draws", covered, reps)
	assert.GreaterOrEqual(t, coveredRobust, 94, "robust 95%% CI covered zero in %d/%d draws", coveredRobust, reps)
}

// TestZeroEffectSymmetric checks that a symmetric design without a
// discontinuity produces an estimate near zero with a sane interval.
func TestZeroEffectSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(103))
	n := 4000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 2*rng.Float64() - 1
		y[i] = 0.4 + 0.2*x[i]*x[i] + 0.05*rng.NormFloat64()
	}

	sel := &Selector{Order: 1, Cutoff: 0}
	bw, err := sel.Select(x, y, MSERD)
	require.NoError(t, err)

	est := NewEstimator(EstimateConfig{Order: 1, Cutoff: 0})
	fit, err := est.Estimate(x, y, nil, bw)
	require.NoError(t, err)

	v, err := (&VarianceEstimator{}).Compute(fit, x, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0, fit.Conventional, 4*v.Conventional)
	assert.False(t, math.IsNaN(fit.BiasCorrected))
}
