package rdd

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// EstimateConfig fixes the local polynomial fit.
type EstimateConfig struct {
	// Order is the polynomial order p of the conventional fit.  The
	// bias-correction fit uses order p+1.
	Order int

	// Cutoff is the threshold in the running variable.
	Cutoff float64

	// EligibleAbove matches RunningConfig: it selects which side of
	// the cutoff is treated and therefore the sign of the effect.  The
	// treatment effect is always treated-side limit minus control-side
	// limit.
	EligibleAbove bool
}

// Estimate is the output of one local polynomial RD fit.  Besides the
// point estimates it carries the linear weights of both estimators over
// the input units, which the variance layer consumes.
type Estimate struct {
	Conventional  float64
	BiasCorrected float64

	// Kernel-weighted mean outcomes on each side of the cutoff, within
	// the conventional (H) and bias-correction (B) windows.
	MeanBelowH, MeanAboveH float64
	MeanBelowB, MeanAboveB float64

	// Side sample sizes: all units, and units with positive kernel
	// weight in the conventional window.
	NLeft, NRight       int
	NEffLeft, NEffRight int

	// Linearization: tau = sum_i w_i y_i for each estimator, with
	// leverage-adjusted residuals from the fit each weight vector
	// derives from.  Full length of the input sample; zero outside the
	// fit windows.
	convWeights []float64
	bcWeights   []float64
	residConv   []float64
	residBias   []float64
}

// sideFit is one weighted least-squares polynomial fit on a single side
// of the cutoff.
type sideFit struct {
	idx   []int     // positions of the fitted units in the full sample
	wts   []float64 // kernel weights
	coef  []float64
	resid []float64

	// rows[j] is the linear weight vector of coefficient j over the
	// fitted units: coef_j = sum_i rows[j][i] * y[idx[i]].
	rows *mat.Dense

	// Kernel-weighted mean of the raw outcome over the fitted units.
	wmean float64
}

// fitSide fits a weighted polynomial of the given order to the units on
// one side of the cutoff within bandwidth h, using triangular kernel
// weights.  Units with running >= cutoff are the right side.
func fitSide(x, y, raw []float64, cutoff, h float64, order int, left bool) (*sideFit, error) {
	sf := &sideFit{}
	for i := range x {
		xc := x[i] - cutoff
		if left != (xc < 0) {
			continue
		}
		w := kernelWeight(xc, h)
		if w <= 0 {
			continue
		}
		sf.idx = append(sf.idx, i)
		sf.wts = append(sf.wts, w)
	}

	ns := len(sf.idx)
	k := order + 1
	side := "right"
	if left {
		side = "left"
	}
	if ns < order+2 {
		return nil, cellError(ErrInsufficientData, "%d observations on %s side within bandwidth %.4f, order %d needs %d",
			ns, side, h, order, order+2)
	}

	// A rank-k fit needs at least k distinct running-variable values.
	distinct := make(map[float64]bool, ns)
	for _, i := range sf.idx {
		distinct[x[i]] = true
	}
	if len(distinct) < k {
		return nil, cellError(ErrSingularFit, "%d distinct running values on %s side, order %d needs %d",
			len(distinct), side, order, k)
	}

	X := mat.NewDense(ns, k, nil)
	XTW := mat.NewDense(k, ns, nil)
	for r, i := range sf.idx {
		xc := x[i] - cutoff
		pw := 1.0
		for j := 0; j < k; j++ {
			X.Set(r, j, pw)
			XTW.Set(j, r, pw*sf.wts[r])
			pw *= xc
		}
	}

	var a mat.Dense
	a.Mul(XTW, X)
	sf.rows = &mat.Dense{}
	if err := sf.rows.Solve(&a, XTW); err != nil {
		return nil, cellError(ErrSingularFit, "%s side, order %d: %v", side, order, err)
	}

	sf.coef = make([]float64, k)
	for j := 0; j < k; j++ {
		s := 0.0
		for r, i := range sf.idx {
			s += sf.rows.At(j, r) * y[i]
		}
		sf.coef[j] = s
	}

	// HC3-style residuals: units near the boundary carry enough
	// leverage that raw squared residuals underestimate the variance of
	// the intercept limit.  The hat diagonal is sum_j X[r,j]*rows[j,r].
	sf.resid = make([]float64, ns)
	for r, i := range sf.idx {
		fit := 0.0
		lev := 0.0
		xc := x[i] - cutoff
		pw := 1.0
		for j := 0; j < k; j++ {
			fit += sf.coef[j] * pw
			lev += pw * sf.rows.At(j, r)
			pw *= xc
		}
		d := 1 - lev
		if d < 1e-3 {
			d = 1e-3 // near-interpolating fits stay finite
		}
		sf.resid[r] = (y[i] - fit) / d
	}

	sw, swy := 0.0, 0.0
	for r, i := range sf.idx {
		sw += sf.wts[r]
		swy += sf.wts[r] * raw[i]
	}
	sf.wmean = swy / sw

	return sf, nil
}

// biasFactor returns e0' (X'WX)^-1 X'W x^{p+1} for a conventional fit:
// the multiplier that converts the estimated order-(p+1) coefficient
// into the leading bias of the intercept.
func (sf *sideFit) biasFactor(x []float64, cutoff float64, order int) float64 {
	s := 0.0
	for r, i := range sf.idx {
		s += sf.rows.At(0, r) * math.Pow(x[i]-cutoff, float64(order+1))
	}
	return s
}

// partialOut removes the pooled covariate contribution from the outcome
// before the discontinuity is computed.  The covariate coefficients are
// estimated by a pooled weighted fit within the conventional bandwidth
// whose design includes side-specific polynomial blocks, so the
// discontinuity itself is not absorbed.
func partialOut(x, y []float64, cov [][]float64, cutoff float64, h BandwidthPair, order int) ([]float64, error) {
	var idx []int
	var wts []float64
	var isLeft []bool
	for i := range x {
		xc := x[i] - cutoff
		left := xc < 0
		hh := h.Right
		if left {
			hh = h.Left
		}
		w := kernelWeight(xc, hh)
		if w <= 0 {
			continue
		}
		idx = append(idx, i)
		wts = append(wts, w)
		isLeft = append(isLeft, left)
	}

	k := order + 1
	ncov := len(cov)
	ncol := 2*k + ncov
	ns := len(idx)
	if ns < ncol+1 {
		return nil, cellError(ErrInsufficientData, "%d observations within bandwidth for covariate adjustment, need %d", ns, ncol+1)
	}

	X := mat.NewDense(ns, ncol, nil)
	XTW := mat.NewDense(ncol, ns, nil)
	for r, i := range idx {
		xc := x[i] - cutoff
		off := 0
		if !isLeft[r] {
			off = k
		}
		pw := 1.0
		for j := 0; j < k; j++ {
			X.Set(r, off+j, pw)
			pw *= xc
		}
		for j, c := range cov {
			X.Set(r, 2*k+j, c[i])
		}
		for j := 0; j < ncol; j++ {
			XTW.Set(j, r, X.At(r, j)*wts[r])
		}
	}

	var a, s mat.Dense
	a.Mul(XTW, X)
	if err := s.Solve(&a, XTW); err != nil {
		return nil, cellError(ErrSingularFit, "covariate adjustment: %v", err)
	}

	gamma := make([]float64, ncov)
	for j := 0; j < ncov; j++ {
		g := 0.0
		for r, i := range idx {
			g += s.At(2*k+j, r) * y[i]
		}
		gamma[j] = g
	}

	yt := make([]float64, len(y))
	for i := range y {
		v := y[i]
		for j, c := range cov {
			v -= gamma[j] * c[i]
		}
		yt[i] = v
	}

	return yt, nil
}

// Estimator fits local polynomial RD regressions.
type Estimator struct {
	cfg EstimateConfig
}

// NewEstimator returns an estimator for the given configuration.
func NewEstimator(cfg EstimateConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate computes the conventional and bias-corrected discontinuity
// estimates.  cov holds optional covariate columns, each aligned with x
// and y; they enter with a single pooled coefficient.  The bandwidths
// bw must come from a Selector (or be fixed by the caller), with the
// bias window at least as wide as the conventional window.
func (e *Estimator) Estimate(x, y []float64, cov [][]float64, bw *Bandwidths) (*Estimate, error) {
	p := e.cfg.Order
	c := e.cfg.Cutoff
	n := len(x)

	// The bias window must cover the conventional window so that every
	// unit entering the conventional fit has a bias-fit residual.
	bb := *bw
	if bb.B.Left < bb.H.Left {
		bb.B.Left = bb.H.Left
	}
	if bb.B.Right < bb.H.Right {
		bb.B.Right = bb.H.Right
	}
	bw = &bb

	yfit := y
	if len(cov) > 0 {
		var err error
		yfit, err = partialOut(x, y, cov, c, bw.H, p)
		if err != nil {
			return nil, err
		}
	}

	convL, err := fitSide(x, yfit, y, c, bw.H.Left, p, true)
	if err != nil {
		return nil, err
	}
	convR, err := fitSide(x, yfit, y, c, bw.H.Right, p, false)
	if err != nil {
		return nil, err
	}
	biasL, err := fitSide(x, yfit, y, c, bw.B.Left, p+1, true)
	if err != nil {
		return nil, err
	}
	biasR, err := fitSide(x, yfit, y, c, bw.B.Right, p+1, false)
	if err != nil {
		return nil, err
	}

	// Leading bias of each side's intercept: the fit's bias factor
	// times the order-(p+1) coefficient from the wider window.
	phiL := convL.biasFactor(x, c, p)
	phiR := convR.biasFactor(x, c, p)
	bcoefL := biasL.coef[p+1]
	bcoefR := biasR.coef[p+1]

	// Raw above-minus-below differences.
	delta := convR.coef[0] - convL.coef[0]
	deltaBC := delta - (phiR*bcoefR - phiL*bcoefL)

	// Treatment effect = treated-side limit minus control-side limit.
	sign := -1.0
	if e.cfg.EligibleAbove {
		sign = 1.0
	}

	est := &Estimate{
		Conventional:  sign * delta,
		BiasCorrected: sign * deltaBC,
		MeanBelowH:    convL.wmean,
		MeanAboveH:    convR.wmean,
		MeanBelowB:    biasL.wmean,
		MeanAboveB:    biasR.wmean,
		NEffLeft:      len(convL.idx),
		NEffRight:     len(convR.idx),
		convWeights:   make([]float64, n),
		bcWeights:     make([]float64, n),
		residConv:     make([]float64, n),
		residBias:     make([]float64, n),
	}
	for i := range x {
		if x[i]-c < 0 {
			est.NLeft++
		} else {
			est.NRight++
		}
	}

	for r, i := range convR.idx {
		est.convWeights[i] += sign * convR.rows.At(0, r)
		est.residConv[i] = convR.resid[r]
	}
	for r, i := range convL.idx {
		est.convWeights[i] -= sign * convL.rows.At(0, r)
		est.residConv[i] = convL.resid[r]
	}

	// The bias-corrected estimator adds the (scaled) order-(p+1)
	// coefficient weights from the wider window.
	copy(est.bcWeights, est.convWeights)
	for r, i := range biasR.idx {
		est.bcWeights[i] -= sign * phiR * biasR.rows.At(p+1, r)
		est.residBias[i] = biasR.resid[r]
	}
	for r, i := range biasL.idx {
		est.bcWeights[i] += sign * phiL * biasL.rows.At(p+1, r)
		est.residBias[i] = biasL.resid[r]
	}

	return est, nil
}
