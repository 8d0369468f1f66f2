package rdd

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Method selects the bandwidth rule.
type Method int

const (
	// MSERD selects one common MSE-optimal bandwidth for both sides.
	MSERD Method = iota

	// MSETwo selects separate MSE-optimal bandwidths per side.
	MSETwo
)

// String returns the method tag used in result labels.
func (m Method) String() string {
	if m == MSETwo {
		return "msetwo"
	}
	return "mserd"
}

// BandwidthPair holds side-specific bandwidths.
type BandwidthPair struct {
	Left  float64
	Right float64
}

// Bandwidths holds the conventional (H) and bias-correction (B)
// bandwidth pairs produced by a Selector.
type Bandwidths struct {
	H      BandwidthPair
	B      BandwidthPair
	Method Method
}

// Selector computes data-driven bandwidths with a plug-in rule in the
// Imbens-Kalyanaraman / Calonico-Cattaneo-Titiunik family: a pilot fit
// estimates curvature, residual variance, and density at the cutoff,
// from which the asymptotically MSE-optimal bandwidth follows as
// h = C n^(-1/(2p+3)), with the bias-correction bandwidth computed by
// the same rule one order higher (rate n^(-1/(2p+5))).
type Selector struct {
	// Order is the polynomial order p of the conventional fit the
	// bandwidth is selected for.
	Order int

	// Cutoff is the threshold in the running variable.
	Cutoff float64
}

// pilot summarizes the preliminary estimates entering the plug-in rule.
type pilot struct {
	n        int
	nl, nr   int
	density  float64   // f(cutoff)
	varLeft  float64   // residual variance near the cutoff, left side
	varRight float64
	h1       float64   // pilot window
	xl, xr   []float64 // centered running values per side
	yl, yr   []float64
}

// prepare splits the sample, checks that each side can support the
// pilot fits, and estimates density and near-cutoff variances.
func (s *Selector) prepare(x, y []float64) (*pilot, error) {
	pl := &pilot{n: len(x)}
	for i := range x {
		xc := x[i] - s.Cutoff
		if xc < 0 {
			pl.xl = append(pl.xl, xc)
			pl.yl = append(pl.yl, y[i])
		} else {
			pl.xr = append(pl.xr, xc)
			pl.yr = append(pl.yr, y[i])
		}
	}
	pl.nl, pl.nr = len(pl.xl), len(pl.xr)

	// The curvature pilot is a global fit of order p+3; each side must
	// support it.
	need := s.Order + 5
	if pl.nl < need || pl.nr < need {
		return nil, cellError(ErrInsufficientData, "bandwidth selection needs %d observations per side, have %d left / %d right",
			need, pl.nl, pl.nr)
	}

	var xc []float64
	xc = append(xc, pl.xl...)
	xc = append(xc, pl.xr...)
	sd := math.Sqrt(stat.Variance(xc, nil))
	if sd <= 0 {
		return nil, cellError(ErrSingularFit, "running variable is constant")
	}
	pl.h1 = 1.84 * sd * math.Pow(float64(pl.n), -0.2)

	nin := 0
	for _, v := range xc {
		if math.Abs(v) <= pl.h1 {
			nin++
		}
	}
	if nin < 2 {
		return nil, cellError(ErrInsufficientData, "no observations within pilot window %.4f", pl.h1)
	}
	pl.density = float64(nin) / (2 * float64(pl.n) * pl.h1)

	pl.varLeft = nearCutoffVariance(pl.xl, pl.yl, pl.h1)
	pl.varRight = nearCutoffVariance(pl.xr, pl.yr, pl.h1)

	return pl, nil
}

// nearCutoffVariance estimates the outcome variance at the cutoff on
// one side: the sample variance within the pilot window, falling back
// to the whole side when the window is too thin.
func nearCutoffVariance(xc, y []float64, h1 float64) float64 {
	var yy []float64
	for i, v := range xc {
		if math.Abs(v) <= h1 {
			yy = append(yy, y[i])
		}
	}
	if len(yy) < 3 {
		yy = y
	}
	return stat.Variance(yy, nil)
}

// derivCoef estimates the order-m polynomial coefficient of the
// conditional mean on one side by a global unweighted fit of order m+1.
// The coefficient approximates m^(m)(cutoff)/m!.
func derivCoef(xc, y []float64, m int) float64 {
	k := m + 2 // order m+1 fit has m+2 coefficients
	if len(xc) < k+1 {
		return 0
	}

	X := mat.NewDense(len(xc), k, nil)
	for r, v := range xc {
		pw := 1.0
		for j := 0; j < k; j++ {
			X.Set(r, j, pw)
			pw *= v
		}
	}
	yv := mat.NewVecDense(len(y), y)

	var qr mat.QR
	qr.Factorize(X)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, yv); err != nil {
		return 0
	}
	return coef.AtVec(m)
}

// mseOptimal evaluates the plug-in rule for a fit of order q on one or
// both sides.  curvL and curvR are the order-(q+1) coefficients; nSide
// is the side sample size (or the total for the common rule).
func mseOptimal(kc kernelConstants, varSum, density, curvSq, reg float64, nSide int) float64 {
	q := kc.order
	num := kc.vconst * varSum / density
	den := 2 * float64(q+1) * kc.bias * kc.bias * (curvSq + reg)
	h := math.Pow(num/(den*float64(nSide)), 1/float64(2*q+3))
	return h
}

// regularizer is the IK-style term added to the squared curvature
// difference so the bandwidth stays finite when curvature vanishes.
func regularizer(pl *pilot, q int) float64 {
	return 3 * (pl.varLeft + pl.varRight) / (float64(pl.n) * math.Pow(pl.h1, float64(2*q+3)))
}

// selectOrder computes conventional-style bandwidths for a fit of order
// q under the given method.
func (s *Selector) selectOrder(pl *pilot, q int, m Method) BandwidthPair {
	kc := triConstants(q)
	reg := regularizer(pl, q)

	// Order-(q+1) curvature coefficients per side.  The left side is
	// fitted in its own coordinates; the sign flip of odd powers is
	// what the bias difference below requires.
	cl := derivCoef(pl.xl, pl.yl, q+1)
	cr := derivCoef(pl.xr, pl.yr, q+1)

	maxL, maxR := 0.0, 0.0
	for _, v := range pl.xl {
		if -v > maxL {
			maxL = -v
		}
	}
	for _, v := range pl.xr {
		if v > maxR {
			maxR = v
		}
	}

	if m == MSETwo {
		hl := mseOptimal(kc, pl.varLeft, pl.density, cl*cl, reg, pl.nl)
		hr := mseOptimal(kc, pl.varRight, pl.density, cr*cr, reg, pl.nr)
		return BandwidthPair{Left: math.Min(hl, maxL), Right: math.Min(hr, maxR)}
	}

	// Common rule: curvature difference of the two sides.  The flip
	// (-1)^(q+1) accounts for the left fit's reversed axis.
	flip := 1.0
	if (q+1)%2 == 1 {
		flip = -1.0
	}
	bd := cr - flip*cl
	h := mseOptimal(kc, pl.varLeft+pl.varRight, pl.density, bd*bd, reg, pl.n)
	h = math.Min(h, math.Max(maxL, maxR))
	return BandwidthPair{Left: h, Right: h}
}

// Select computes the conventional and bias-correction bandwidths for
// the paired (running, outcome) sample.  Callers must pass only units
// with non-missing outcome.
func (s *Selector) Select(x, y []float64, m Method) (*Bandwidths, error) {
	if len(x) != len(y) {
		return nil, cellError(ErrConfig, "running and outcome lengths differ: %d vs %d", len(x), len(y))
	}

	pl, err := s.prepare(x, y)
	if err != nil {
		return nil, err
	}

	bw := &Bandwidths{Method: m}
	bw.H = s.selectOrder(pl, s.Order, m)
	bw.B = s.selectOrder(pl, s.Order+1, m)

	// The bias window never undershoots the conventional window.
	if bw.B.Left < bw.H.Left {
		bw.B.Left = bw.H.Left
	}
	if bw.B.Right < bw.H.Right {
		bw.B.Right = bw.H.Right
	}

	// The conventional fit must be feasible inside H.
	needConv := s.Order + 2
	nl, nr := 0, 0
	for i := range x {
		xc := x[i] - s.Cutoff
		if xc < 0 && kernelWeight(xc, bw.H.Left) > 0 {
			nl++
		} else if xc >= 0 && kernelWeight(xc, bw.H.Right) > 0 {
			nr++
		}
	}
	if nl < needConv || nr < needConv {
		return nil, cellError(ErrInsufficientData, "selected bandwidth (%.4f, %.4f) contains %d left / %d right observations, order %d needs %d per side",
			bw.H.Left, bw.H.Right, nl, nr, s.Order, needConv)
	}

	return bw, nil
}
