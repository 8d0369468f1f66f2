package rdd

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ManipulationTest is the density-discontinuity test record: the null
// is no discontinuity in the running-variable density at the cutoff, so
// a large statistic indicates sorting (bunching) around the threshold.
type ManipulationTest struct {
	Statistic float64
	PValue    float64

	// Order of the local polynomial fitted to the empirical CDF.
	Order int

	DensityLeft  float64
	DensityRight float64
	SE           float64

	BandwidthLeft  float64
	BandwidthRight float64
}

// densityOrder is the CDF fit order; the density estimate is the linear
// coefficient, bias-corrected by the higher-order terms of the fit.
const densityOrder = 2

// manipWeights fits a weighted polynomial of densityOrder to the
// empirical CDF on one side of the cutoff and returns, per unit of the
// full sample, the linear-coefficient weight (the density estimate is
// sum_i w_i F(x_i)).
func manipWeights(x, ecdf []float64, cutoff, h float64, left bool) ([]float64, float64, error) {
	var idx []int
	var wts []float64
	for i := range x {
		xc := x[i] - cutoff
		if left != (xc < 0) {
			continue
		}
		w := kernelWeight(xc, h)
		if w <= 0 {
			continue
		}
		idx = append(idx, i)
		wts = append(wts, w)
	}

	k := densityOrder + 1
	if len(idx) < k+2 {
		return nil, 0, cellError(ErrInsufficientData, "%d observations near the cutoff for the density fit, need %d", len(idx), k+2)
	}

	X := mat.NewDense(len(idx), k, nil)
	XTW := mat.NewDense(k, len(idx), nil)
	for r, i := range idx {
		xc := x[i] - cutoff
		pw := 1.0
		for j := 0; j < k; j++ {
			X.Set(r, j, pw)
			XTW.Set(j, r, pw*wts[r])
			pw *= xc
		}
	}

	var a, s mat.Dense
	a.Mul(XTW, X)
	if err := s.Solve(&a, XTW); err != nil {
		return nil, 0, cellError(ErrSingularFit, "density fit: %v", err)
	}

	w := make([]float64, len(x))
	fhat := 0.0
	for r, i := range idx {
		w[i] = s.At(1, r)
		fhat += w[i] * ecdf[i]
	}
	return w, fhat, nil
}

// TestManipulation runs the density-discontinuity test on the running
// variable alone.  The density on each side of the cutoff is estimated
// by a local polynomial fit to the empirical CDF, and the standard
// error of the difference comes from a leave-one-out jackknife over the
// empirical CDF contributions.
func TestManipulation(running []float64, cutoff float64) (*ManipulationTest, error) {
	n := len(running)
	if n < 2*(densityOrder+3) {
		return nil, cellError(ErrInsufficientData, "%d observations for the manipulation test", n)
	}

	// Empirical CDF via ranks; ties share the upper rank.
	ord := make([]int, n)
	for i := range ord {
		ord[i] = i
	}
	sort.Slice(ord, func(a, b int) bool { return running[ord[a]] < running[ord[b]] })
	ecdf := make([]float64, n)
	for r := 0; r < n; {
		q := r
		for q+1 < n && running[ord[q+1]] == running[ord[r]] {
			q++
		}
		for j := r; j <= q; j++ {
			ecdf[ord[j]] = float64(q+1) / float64(n)
		}
		r = q + 1
	}

	// Pilot bandwidths from the spread of each side.
	var xl, xr []float64
	for _, v := range running {
		if v-cutoff < 0 {
			xl = append(xl, v-cutoff)
		} else {
			xr = append(xr, v-cutoff)
		}
	}
	if len(xl) < densityOrder+3 || len(xr) < densityOrder+3 {
		return nil, cellError(ErrInsufficientData, "%d left / %d right observations for the manipulation test", len(xl), len(xr))
	}
	hl := sideBandwidth(xl, n)
	hr := sideBandwidth(xr, n)

	wl, fl, err := manipWeights(running, ecdf, cutoff, hl, true)
	if err != nil {
		return nil, err
	}
	wr, fr, err := manipWeights(running, ecdf, cutoff, hr, false)
	if err != nil {
		return nil, err
	}

	// Combined weights of the difference statistic.
	cw := make([]float64, n)
	for i := range cw {
		cw[i] = wr[i] - wl[i]
	}
	theta := fr - fl

	// Jackknife: deleting unit j perturbs every ECDF value through the
	// indicator 1{x_j <= x_i}, so the leave-one-out statistic is
	// (n*theta - a_j)/(n-1) with a_j the suffix weight sum at x_j.
	// Sorting once makes the a_j suffix sums O(n log n).
	suffix := make([]float64, n+1)
	for r := n - 1; r >= 0; r-- {
		suffix[r] = suffix[r+1] + cw[ord[r]]
	}
	a := make([]float64, n)
	for r := 0; r < n; r++ {
		// a for the unit at sort position r: weights of all units with
		// x >= x_j; back up over ties.
		q := r
		for q > 0 && running[ord[q-1]] == running[ord[r]] {
			q--
		}
		a[ord[r]] = suffix[q]
	}
	abar := stat.Mean(a, nil)
	ssq := 0.0
	for _, v := range a {
		d := v - abar
		ssq += d * d
	}
	se := math.Sqrt(ssq / (float64(n) * float64(n-1)))

	mt := &ManipulationTest{
		Order:          densityOrder,
		DensityLeft:    fl,
		DensityRight:   fr,
		SE:             se,
		BandwidthLeft:  hl,
		BandwidthRight: hr,
	}
	if se > 0 {
		mt.Statistic = theta / se
		mt.PValue = 2 * (1 - distuv.UnitNormal.CDF(math.Abs(mt.Statistic)))
	} else {
		mt.Statistic = math.NaN()
		mt.PValue = math.NaN()
	}

	return mt, nil
}

// sideBandwidth is the Silverman-style pilot window for one side's
// density fit, widened so the quadratic fit always has support.
func sideBandwidth(xc []float64, n int) float64 {
	abs := make([]float64, len(xc))
	for i, v := range xc {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)

	sd := math.Sqrt(stat.Variance(abs, nil))
	iqr := stat.Quantile(0.75, stat.Empirical, abs, nil) - stat.Quantile(0.25, stat.Empirical, abs, nil)
	h := 2 * silvermanBandwidth(sd, iqr, n)

	// At least the densityOrder+3 nearest points.
	k := densityOrder + 3
	if k <= len(abs) && h < abs[k-1] {
		h = abs[k-1] * (1 + 1e-9)
	}
	if h <= 0 {
		h = abs[len(abs)-1]
	}
	return h
}
