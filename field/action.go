package field

import "math"

// Neighbors describes the square-lattice nearest-neighbour structure a
// Config needs for the bosonic action and the Wolff cluster growth: given a
// site index, the site indices reached by moving +x and +y, with periodic
// wraparound. No boundary sign is stored: the bosonic action is always taken
// with periodic wraparound on phi.
type Neighbors struct {
	L    int
	Xp   []int // site + x-hat
	Yp   []int // site + y-hat
}

// NewNeighbors builds the neighbour tables for an L-by-L periodic torus with
// row-major site indexing site = y*L + x.
func NewNeighbors(l int) *Neighbors {
	n := l * l
	nb := &Neighbors{L: l, Xp: make([]int, n), Yp: make([]int, n)}
	for y := 0; y < l; y++ {
		for x := 0; x < l; x++ {
			i := y*l + x
			nb.Xp[i] = y*l + (x+1)%l
			nb.Yp[i] = ((y+1)%l)*l + x
		}
	}
	return nb
}

// Action computes the full bosonic action S_phi. When phi2bosons is set,
// only the mass term is kept.
func (c *Config) Action(nb *Neighbors, r, u, cVel float64, phi2bosons bool) float64 {
	var s float64
	dtau := c.Dtau
	for i := 0; i < c.N; i++ {
		for k := 1; k <= c.M; k++ {
			var phiSq float64
			for d := 0; d < c.OPDIM; d++ {
				phiSq += c.Phi[i][d][k] * c.Phi[i][d][k]
			}
			s += (dtau / 2) * r * phiSq
			if phi2bosons {
				continue
			}

			s += (dtau / 4) * u * phiSq * phiSq

			for d := 0; d < c.OPDIM; d++ {
				dphidtau := (c.Phi[i][d][k] - c.Phi[i][d][k-1]) / dtau
				s += (dtau / (2 * cVel * cVel)) * dphidtau * dphidtau
			}

			for d := 0; d < c.OPDIM; d++ {
				dx := c.Phi[nb.Xp[i]][d][k] - c.Phi[i][d][k]
				dy := c.Phi[nb.Yp[i]][d][k] - c.Phi[i][d][k]
				s += (dtau / 2) * (dx*dx + dy*dy)
			}
		}
	}
	return s
}

// LocalActionDelta returns the change in S_phi caused by replacing
// phi(i,k0,·) with newPhi, using only the closed-form local dependence on
// phi(i,k0±1) and the spatial neighbours of i at k0.
func (c *Config) LocalActionDelta(nb *Neighbors, i, k0 int, newPhi []float64, r, u, cVel float64, phi2bosons bool) float64 {
	oldPhi := make([]float64, c.OPDIM)
	for d := range oldPhi {
		oldPhi[d] = c.Phi[i][d][k0]
	}

	sqNorm := func(v []float64) float64 {
		var s float64
		for _, x := range v {
			s += x * x
		}
		return s
	}

	oldSq, newSq := sqNorm(oldPhi), sqNorm(newPhi)
	delta := (c.Dtau / 2) * r * (newSq - oldSq)
	if phi2bosons {
		return delta
	}
	delta += (c.Dtau / 4) * u * (newSq*newSq - oldSq*oldSq)

	km1, kp1 := k0-1, k0+1
	if km1 < 0 {
		km1 = c.M - 1
	}
	if kp1 > c.M {
		kp1 = 1
	}

	for d := 0; d < c.OPDIM; d++ {
		phiPrev := c.Phi[i][d][km1]
		phiNext := c.Phi[i][d][kp1]

		oldD := (phiNext-oldPhi[d])*(phiNext-oldPhi[d]) + (oldPhi[d]-phiPrev)*(oldPhi[d]-phiPrev)
		newD := (phiNext-newPhi[d])*(phiNext-newPhi[d]) + (newPhi[d]-phiPrev)*(newPhi[d]-phiPrev)
		delta += (1 / (2 * cVel * cVel * c.Dtau)) * (newD - oldD)
	}

	spatialNeighborDelta := func(j int) float64 {
		var oldT, newT float64
		for d := 0; d < c.OPDIM; d++ {
			dOld := c.Phi[j][d][k0] - oldPhi[d]
			dNew := c.Phi[j][d][k0] - newPhi[d]
			oldT += dOld * dOld
			newT += dNew * dNew
		}
		return (c.Dtau / 2) * (newT - oldT)
	}

	xNext := nb.Xp[i]
	yNext := nb.Yp[i]
	xPrev := prevSite(nb, i, true)
	yPrev := prevSite(nb, i, false)

	delta += spatialNeighborDelta(xNext)
	delta += spatialNeighborDelta(yNext)
	delta += spatialNeighborDelta(xPrev)
	delta += spatialNeighborDelta(yPrev)

	return delta
}

func prevSite(nb *Neighbors, i int, xDir bool) int {
	l := nb.L
	y, x := i/l, i%l
	if xDir {
		return y*l + (x-1+l)%l
	}
	return ((y-1+l)%l)*l + x
}

// ExchangeActionContribution returns (dtau/2) * sum_i,k |phi(i,·,k)|^2, the
// r-independent half of the bosonic action a replica-exchange orchestrator
// needs from get_exchange_action_contribution.
func (c *Config) ExchangeActionContribution() float64 {
	var s float64
	for i := 0; i < c.N; i++ {
		for k := 1; k <= c.M; k++ {
			var phiSq float64
			for d := 0; d < c.OPDIM; d++ {
				phiSq += c.Phi[i][d][k] * c.Phi[i][d][k]
			}
			s += phiSq
		}
	}
	return (c.Dtau / 2) * s
}

// MeanAbsPhi returns |mean phi| across all sites and slices, one of the
// bosonic observables an observable subsystem publishes after a completed
// measurement sweep.
func (c *Config) MeanAbsPhi() float64 {
	mean := make([]float64, c.OPDIM)
	count := 0
	for i := 0; i < c.N; i++ {
		for k := 1; k <= c.M; k++ {
			for d := 0; d < c.OPDIM; d++ {
				mean[d] += c.Phi[i][d][k]
			}
			count++
		}
	}
	var normSq float64
	for d := range mean {
		mean[d] /= float64(count)
		normSq += mean[d] * mean[d]
	}
	return math.Sqrt(normSq)
}
