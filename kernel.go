package rdd

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// triKernel is the triangular kernel k(u) = max(0, 1-|u|).
func triKernel(u float64) float64 {
	if u < 0 {
		u = -u
	}
	if u >= 1 {
		return 0
	}
	return 1 - u
}

// kernelWeight returns the triangular weight for a running-variable
// value at distance x from the cutoff under bandwidth h.
func kernelWeight(x, h float64) float64 {
	if h <= 0 {
		return 0
	}
	return triKernel(x / h)
}

// One-sided moments of the triangular kernel on [0,1]:
//
//	int_0^1 u^m (1-u)   du = 1/((m+1)(m+2))
//	int_0^1 u^m (1-u)^2 du = 2/((m+1)(m+2)(m+3))
//
// These build the Gamma and Psi matrices of the local polynomial
// asymptotics, from which the bandwidth-rule constants follow.
func triMoment1(m int) float64 {
	fm := float64(m)
	return 1 / ((fm + 1) * (fm + 2))
}

func triMoment2(m int) float64 {
	fm := float64(m)
	return 2 / ((fm + 1) * (fm + 2) * (fm + 3))
}

// kernelConstants holds the kernel-dependent constants of the plug-in
// MSE-optimal bandwidth rule for a one-sided local polynomial fit of a
// given order: the leading bias constant e0' Gamma^-1 gamma_{p+1} and
// the variance constant (Gamma^-1 Psi Gamma^-1)[0,0].
type kernelConstants struct {
	order  int
	bias   float64
	vconst float64
}

// triConstants computes the bandwidth-rule constants for the triangular
// kernel at the given polynomial order.  The matrices involved are
// (order+1) x (order+1) and always well conditioned for the orders the
// pipeline uses (1 through 4).
func triConstants(order int) kernelConstants {
	k := order + 1

	gamma := mat.NewDense(k, k, nil)
	psi := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		for l := 0; l < k; l++ {
			gamma.Set(j, l, triMoment1(j+l))
			psi.Set(j, l, triMoment2(j+l))
		}
	}

	// gamma_{p+1}: moments of u^{p+1} against the basis.
	gp := mat.NewVecDense(k, nil)
	for j := 0; j < k; j++ {
		gp.SetVec(j, triMoment1(order+1+j))
	}

	var ginv mat.Dense
	if err := ginv.Inverse(gamma); err != nil {
		// Cannot happen for the Hilbert-like moment matrices at the
		// small orders used here.
		panic(err)
	}

	var bv mat.VecDense
	bv.MulVec(&ginv, gp)

	var m1, m2 mat.Dense
	m1.Mul(&ginv, psi)
	m2.Mul(&m1, &ginv)

	return kernelConstants{
		order:  order,
		bias:   bv.AtVec(0),
		vconst: m2.At(0, 0),
	}
}

// silvermanBandwidth is the rule-of-thumb pilot bandwidth used by the
// density machinery: 1.06 min(sd, iqr/1.349) n^(-1/5).
func silvermanBandwidth(sd, iqr float64, n int) float64 {
	s := sd
	if iqr > 0 && iqr/1.349 < s {
		s = iqr / 1.349
	}
	return 1.06 * s * math.Pow(float64(n), -0.2)
}
