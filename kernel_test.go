package rdd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriKernel(t *testing.T) {
	assert.Equal(t, 1.0, triKernel(0))
	assert.Equal(t, 0.5, triKernel(0.5))
	assert.Equal(t, 0.5, triKernel(-0.5))
	assert.Equal(t, 0.0, triKernel(1))
	assert.Equal(t, 0.0, triKernel(-3))

	assert.Equal(t, 0.75, kernelWeight(1, 4))
	assert.Equal(t, 0.0, kernelWeight(1, 0))
}

func TestTriMoments(t *testing.T) {
	// int_0^1 (1-u) du = 1/2, int_0^1 u(1-u) du = 1/6.
	assert.InDelta(t, 0.5, triMoment1(0), 1e-15)
	assert.InDelta(t, 1.0/6, triMoment1(1), 1e-15)

	// int_0^1 (1-u)^2 du = 1/3.
	assert.InDelta(t, 1.0/3, triMoment2(0), 1e-15)
}

func TestTriConstantsLocalLinear(t *testing.T) {
	// Known constants for the triangular kernel at order 1: bias
	// constant -0.1, variance constant 4.8.
	kc := triConstants(1)
	assert.InDelta(t, -0.1, kc.bias, 1e-10)
	assert.InDelta(t, 4.8, kc.vconst, 1e-10)
}

func TestTriConstantsHigherOrders(t *testing.T) {
	for p := 0; p <= 4; p++ {
		kc := triConstants(p)
		assert.Greater(t, kc.vconst, 0.0, "order %d", p)
		assert.NotZero(t, kc.bias, "order %d", p)
	}
}
