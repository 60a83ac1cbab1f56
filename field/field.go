// Package field holds the auxiliary bosonic configuration phi(i,d,k) and
// the optional discrete CDW field l(i,k), together with the cosh/sinh
// caches derived from them.
package field

import (
	"math"

	"github.com/pkg/errors"
)

// Constants from the CDW Hirsch decoupling.
var (
	cdwA = (3 + math.Sqrt(6)) / 6
	cdwB = math.Sqrt(6+2*math.Sqrt(6)) / 6
)

// EtaL returns eta(l) for l in {-2,-1,1,2}.
func EtaL(l int) float64 {
	switch l {
	case 1, -1:
		return math.Sqrt(cdwA - cdwB)
	case 2, -2:
		return math.Sqrt(cdwA + cdwB)
	default:
		panic(errors.Errorf("field: invalid CDW field value %d", l).Error())
	}
}

// GammaL returns the CDW vertex weight gamma(l) used in the local updater's
// acceptance ratio.
func GammaL(l int) float64 {
	switch l {
	case 1, -1:
		return 1 + math.Sqrt(6)/3
	case 2, -2:
		return 1 - math.Sqrt(6)/3
	default:
		panic(errors.Errorf("field: invalid CDW field value %d", l).Error())
	}
}

// Config is the mutable auxiliary field state for one replica. Phi is
// indexed [site][component][slice], L is indexed [site][slice] and is only
// allocated when CdwU != 0. Time index 0 and M are conceptually identified
// (both are stored; callers are responsible for keeping them equal at slice
// boundaries where the model treats them as the same physical point).
type Config struct {
	N, OPDIM, M int
	Lambda      float64
	Dtau        float64
	CdwU        float64

	Phi [][][]float64 // [site][dim][slice]
	L   [][]int        // [site][slice], nil if CdwU == 0

	CoshPhi [][]float64 // [site][slice]
	SinhPhi [][]float64 // [site][slice]: sinh(lambda*dtau*|phi|)/|phi|

	CoshL [][]float64 // [site][slice]
	SinhL [][]float64
}

// New allocates a zeroed Config and its caches.
func New(n, opdim, m int, lambda, dtau, cdwU float64) *Config {
	c := &Config{N: n, OPDIM: opdim, M: m, Lambda: lambda, Dtau: dtau, CdwU: cdwU}
	c.Phi = make([][][]float64, n)
	c.CoshPhi = make([][]float64, n)
	c.SinhPhi = make([][]float64, n)
	for i := 0; i < n; i++ {
		c.Phi[i] = make([][]float64, opdim)
		for d := 0; d < opdim; d++ {
			c.Phi[i][d] = make([]float64, m+1)
		}
		c.CoshPhi[i] = make([]float64, m+1)
		c.SinhPhi[i] = make([]float64, m+1)
		for k := 0; k <= m; k++ {
			c.CoshPhi[i][k] = 1
			c.SinhPhi[i][k] = lambda * dtau // limit of sinh(x)/|phi| as phi->0, times phi cancels: sinh(0)/0 -> lambda*dtau
		}
	}

	if cdwU != 0 {
		c.L = make([][]int, n)
		c.CoshL = make([][]float64, n)
		c.SinhL = make([][]float64, n)
		for i := 0; i < n; i++ {
			c.L[i] = make([]int, m+1)
			c.CoshL[i] = make([]float64, m+1)
			c.SinhL[i] = make([]float64, m+1)
			for k := 0; k <= m; k++ {
				c.L[i][k] = 1
				c.updateCoshSinhL(i, k)
			}
		}
	}
	return c
}

// PhiNorm returns |phi(i,·,k)|.
func (c *Config) PhiNorm(i, k int) float64 {
	var sum float64
	for d := 0; d < c.OPDIM; d++ {
		v := c.Phi[i][d][k]
		sum += v * v
	}
	return math.Sqrt(sum)
}

// SetPhi overwrites phi(i,·,k) and refreshes the cosh/sinh caches at (i,k).
func (c *Config) SetPhi(i, k int, v []float64) {
	for d := 0; d < c.OPDIM; d++ {
		c.Phi[i][d][k] = v[d]
	}
	c.updateCoshSinhPhi(i, k)
}

func (c *Config) updateCoshSinhPhi(i, k int) {
	norm := c.PhiNorm(i, k)
	arg := c.Lambda * c.Dtau * norm
	c.CoshPhi[i][k] = math.Cosh(arg)
	if norm < 1e-12 {
		c.SinhPhi[i][k] = c.Lambda * c.Dtau
	} else {
		c.SinhPhi[i][k] = math.Sinh(arg) / norm
	}
}

// SetL overwrites l(i,k) and refreshes its cosh/sinh caches.
func (c *Config) SetL(i, k, l int) {
	c.L[i][k] = l
	c.updateCoshSinhL(i, k)
}

func (c *Config) updateCoshSinhL(i, k int) {
	eta := EtaL(c.L[i][k])
	arg := math.Sqrt(c.Dtau) * c.CdwU * eta
	c.CoshL[i][k] = math.Cosh(arg)
	c.SinhL[i][k] = math.Sinh(arg)
}

// SyncBoundary copies slice 0 into slice M, keeping the
// identified endpoints consistent after a global move touches only one of
// them.
func (c *Config) SyncBoundary() {
	for i := 0; i < c.N; i++ {
		for d := 0; d < c.OPDIM; d++ {
			c.Phi[i][d][c.M] = c.Phi[i][d][0]
		}
		c.CoshPhi[i][c.M] = c.CoshPhi[i][0]
		c.SinhPhi[i][c.M] = c.SinhPhi[i][0]
		if c.L != nil {
			c.L[i][c.M] = c.L[i][0]
			c.CoshL[i][c.M] = c.CoshL[i][0]
			c.SinhL[i][c.M] = c.SinhL[i][0]
		}
	}
}

// Clone returns a deep copy, used to snapshot state before a global move
// that might be rejected.
func (c *Config) Clone() *Config {
	c2 := New(c.N, c.OPDIM, c.M, c.Lambda, c.Dtau, c.CdwU)
	for i := 0; i < c.N; i++ {
		for d := 0; d < c.OPDIM; d++ {
			copy(c2.Phi[i][d], c.Phi[i][d])
		}
		copy(c2.CoshPhi[i], c.CoshPhi[i])
		copy(c2.SinhPhi[i], c.SinhPhi[i])
		if c.L != nil {
			copy(c2.L[i], c.L[i])
			copy(c2.CoshL[i], c.CoshL[i])
			copy(c2.SinhL[i], c.SinhL[i])
		}
	}
	return c2
}

// Restore overwrites c's contents with snapshot's (same shape), used to roll
// back a rejected global move without reallocating.
func (c *Config) Restore(snapshot *Config) {
	for i := 0; i < c.N; i++ {
		for d := 0; d < c.OPDIM; d++ {
			copy(c.Phi[i][d], snapshot.Phi[i][d])
		}
		copy(c.CoshPhi[i], snapshot.CoshPhi[i])
		copy(c.SinhPhi[i], snapshot.SinhPhi[i])
		if c.L != nil {
			copy(c.L[i], snapshot.L[i])
			copy(c.CoshL[i], snapshot.CoshL[i])
			copy(c.SinhL[i], snapshot.SinhL[i])
		}
	}
}
