package rdd

import (
	"math"
	"sort"
)

// The point estimators are linear in the outcome, tau = sum_i w_i y_i,
// so every variance here is a sandwich over the estimator's weight
// vector: plug-in squared residuals per unit, or residual contributions
// aggregated by cluster before squaring.  The residuals arrive
// leverage-adjusted from the fit, so no further small-sample factor is
// applied here.

// Variance holds the standard errors for one estimated cell.
type Variance struct {
	// Conventional is the heteroskedasticity-robust (or, when
	// clustering is on, cluster-robust) SE of the conventional point
	// estimate.
	Conventional float64

	// Robust is the bias-corrected SE, built from the combined weight
	// vector of the bias-corrected estimator so the order-(p+1) fit's
	// variance contribution is included.
	Robust float64

	// ClusterFallback is set when clustering was requested but a side
	// of the cutoff had fewer than two distinct clusters; the SE then
	// degrades to the per-unit robust form.
	ClusterFallback bool
}

// VarianceEstimator computes standard errors from a fitted Estimate.
type VarianceEstimator struct {
	// Cluster holds one cluster id per unit (aligned with the vectors
	// passed to the estimator), or nil for no clustering.
	Cluster []int
}

// hcVariance is the plug-in heteroskedasticity-robust variance of a
// linear estimator over leverage-adjusted residuals.
func hcVariance(w, resid []float64) float64 {
	v := 0.0
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		v += wi * wi * resid[i] * resid[i]
	}
	return v
}

// clusterVariance aggregates residual contributions within clusters
// before squaring.  It returns the variance and the number of clusters
// with nonzero weight.  Cluster sums are accumulated in sorted id order
// so repeated runs are bit-identical.
func clusterVariance(w, resid []float64, cluster []int) (float64, int) {
	sums := make(map[int]float64)
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		sums[cluster[i]] += wi * resid[i]
	}

	ids := make([]int, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	v := 0.0
	for _, id := range ids {
		v += sums[id] * sums[id]
	}
	g := len(ids)
	if g > 1 {
		v *= float64(g) / float64(g-1)
	}
	return v, g
}

// sideClusters counts distinct clusters with nonzero weight on each
// side of the cutoff.
func sideClusters(w []float64, x []float64, cutoff float64, cluster []int) (int, int) {
	left := make(map[int]bool)
	right := make(map[int]bool)
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		if x[i]-cutoff < 0 {
			left[cluster[i]] = true
		} else {
			right[cluster[i]] = true
		}
	}
	return len(left), len(right)
}

// Compute derives standard errors for the given estimate.  x is the
// running variable the estimate was fitted on (needed to attribute
// clusters to sides), and cutoff its threshold.
func (ve *VarianceEstimator) Compute(est *Estimate, x []float64, cutoff float64) (*Variance, error) {
	v := &Variance{}

	if ve.Cluster == nil {
		v.Conventional = math.Sqrt(hcVariance(est.convWeights, est.residConv))
		v.Robust = math.Sqrt(hcVariance(est.bcWeights, est.residBias))
		return v, nil
	}

	if len(ve.Cluster) != len(x) {
		return nil, cellError(ErrConfig, "cluster ids: %d values for %d units", len(ve.Cluster), len(x))
	}

	gl, gr := sideClusters(est.convWeights, x, cutoff, ve.Cluster)
	if gl < 2 || gr < 2 {
		// Too few clusters to aggregate; fall back to the per-unit
		// robust SE and flag it.
		v.Conventional = math.Sqrt(hcVariance(est.convWeights, est.residConv))
		v.Robust = math.Sqrt(hcVariance(est.bcWeights, est.residBias))
		v.ClusterFallback = true
		return v, nil
	}

	cv, _ := clusterVariance(est.convWeights, est.residConv, ve.Cluster)
	rv, _ := clusterVariance(est.bcWeights, est.residBias, ve.Cluster)
	v.Conventional = math.Sqrt(cv)
	v.Robust = math.Sqrt(rv)
	return v, nil
}
