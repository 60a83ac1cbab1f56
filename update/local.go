package update

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/latmat"
	"github.com/latticemc/dqmc/params"
)

// Local runs one Metropolis attempt per site at slice k, mutating cfg and g
// in place on acceptance. How an accepted move's Green's function
// correction gets folded into g is chosen by P.UpdateMethodKind:
// woodbury inverts the small per-site M matrix once and applies the whole
// rank-MSF correction in one shot; iterative applies the same correction as
// MSF sequential rank-1 sweep-operator steps against a working copy of M,
// never forming M^-1 explicitly; delayed batches DelaySteps accepted
// sites' corrections and folds them into g in one pass once the batch
// fills, trading per-site update cost for one larger dense correction.
type Local struct {
	P    *params.ModelParams
	MC   *params.MCParams
	Fac  *bmat.Factory
	Nb   *field.Neighbors
	Rng  RNG
	Adj  *AdjustmentState
	Stat *UpdateStatistics

	// Thermalizing gates whether accept/reject outcomes feed Adj's running
	// acceptance ratio. The sweep driver sets this before thermalization
	// sweeps and clears it before measurement sweeps, so step sizes freeze
	// once thermalization ends instead of continuing to retune.
	Thermalizing bool

	batch *delayedBatch
}

// Run performs one pass over all N sites at timeslice k, repeated
// RepeatUpdateInSlice times, mutating g in place. Under UpdateDelayed, any
// batch still pending is flushed before Run returns so g is fully current
// for the wrap step the caller applies next.
func (l *Local) Run(cfg *field.Config, g *mat.CDense, k int) error {
	if l.P.UpdateMethodKind == params.UpdateDelayed {
		dim, _ := g.Dims()
		l.batch = newDelayedBatch(dim, l.P.DelaySteps*l.P.MSF())
	} else {
		l.batch = nil
	}

	for rep := 0; rep < l.P.RepeatUpdateInSlice; rep++ {
		sites := siteOrder(l.Rng, l.P.N())
		for _, i := range sites {
			if err := l.attempt(cfg, g, i, k); err != nil {
				return errors.Wrapf(err, "update: local attempt site=%d slice=%d", i, k)
			}
		}
	}

	if l.batch != nil && l.batch.count > 0 {
		l.batch.flush(g)
	}
	return nil
}

func siteOrder(rng RNG, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Int(0, i)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func (l *Local) attempt(cfg *field.Config, g *mat.CDense, i, k int) error {
	oldPhi := make([]float64, l.P.OPDIM)
	copy(oldPhi, sliceAt(cfg, i, k))

	var newPhi []float64
	var newL, oldL int
	proposeCDW := l.P.CdwU != 0 && l.Rng.Float64() < 0.5
	if proposeCDW {
		oldL = cfg.L[i][k]
		newL = proposeL(l.Rng, oldL)
		newPhi = oldPhi
	} else {
		newPhi = proposeVector(l.Rng, l.P, l.Adj, oldPhi)
		if cfg.L != nil {
			oldL = cfg.L[i][k]
			newL = oldL
		}
	}

	deltaS := cfg.LocalActionDelta(l.Nb, i, k, newPhi, l.P.R, l.P.U, l.P.C, l.P.Phi2Bosons)
	pPhi := math.Exp(-deltaS)

	delta, err := l.Fac.DeltaForSite(i, k, newPhi, newL)
	if err != nil {
		return errors.Wrap(err, "delta for site")
	}

	msf := l.P.MSF()
	n := l.P.N()
	rows := siteIdx(i, n, msf)
	gii := l.effectiveBlock(g, rows, rows)

	m := mat.NewCDense(msf, msf, nil)
	imGii := mat.NewCDense(msf, msf, nil)
	for a := 0; a < msf; a++ {
		for b := 0; b < msf; b++ {
			v := complex(0, 0)
			if a == b {
				v = 1
			}
			imGii.Set(a, b, v-gii.At(a, b))
		}
	}
	prod := latmat.CMul(nil, imGii, delta)
	for a := 0; a < msf; a++ {
		for b := 0; b < msf; b++ {
			v := complex(0, 0)
			if a == b {
				v = 1
			}
			m.Set(a, b, v+prod.At(a, b))
		}
	}

	det, err := latmat.CDet(m)
	if err != nil {
		return errors.Wrap(err, "det(M)")
	}
	var pFermion float64
	if l.P.OPDIM == 3 {
		pFermion = realOf(det)
	} else {
		pFermion = cmplx.Abs(det) * cmplx.Abs(det)
	}

	pL := 1.0
	if proposeCDW {
		pL = field.GammaL(newL) / field.GammaL(oldL)
	}

	pAccept := pPhi * pFermion * pL
	accepted := pAccept >= 1 || l.Rng.Float64() < pAccept

	if l.Thermalizing && l.MC != nil {
		l.Adj.Record(accepted, l.P, l.MC)
	}
	if l.Stat != nil {
		l.Stat.RecordLocal(accepted)
	}
	if !accepted {
		return nil
	}

	if !proposeCDW {
		cfg.SetPhi(i, k, newPhi)
	} else {
		cfg.SetL(i, k, newL)
	}

	dim, _ := g.Dims()
	gColI := l.effectiveBlock(g, allIdx(dim), rows)
	gRowI := l.effectiveRowMinusI(g, rows, dim)

	switch l.P.UpdateMethodKind {
	case params.UpdateIterative:
		applyIterative(g, delta, m, gColI, gRowI)
	case params.UpdateDelayed:
		if err := l.batch.enqueue(g, delta, m, gColI, gRowI); err != nil {
			return errors.Wrap(err, "delayed: enqueue")
		}
	default: // UpdateWoodbury, and the zero value (Validate defaults it to woodbury)
		minv, err := latmat.CLUSolve(m, latmat.CIdentity(msf))
		if err != nil {
			return errors.Wrap(err, "woodbury: invert M")
		}
		applyWoodbury(g, delta, minv, gColI, gRowI)
	}
	return nil
}

func realOf(z complex128) float64 { return real(z) }

func sliceAt(cfg *field.Config, i, k int) []float64 {
	out := make([]float64, cfg.OPDIM)
	for d := 0; d < cfg.OPDIM; d++ {
		out[d] = cfg.Phi[i][d][k]
	}
	return out
}

// siteIdx returns the MSF row/column indices site i occupies, one per band.
func siteIdx(i, n, msf int) []int {
	rows := make([]int, msf)
	for a := 0; a < msf; a++ {
		rows[a] = a*n + i
	}
	return rows
}

func allIdx(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// effectiveBlock extracts g[rows,cols] and, when a delayed-update batch has
// corrections not yet folded into g, adds the batch's pending contribution
// at the same indices, so acceptance/rejection and every update path see
// the Green's function as it would read after a full (unbatched) flush.
func (l *Local) effectiveBlock(g *mat.CDense, rows, cols []int) *mat.CDense {
	out := mat.NewCDense(len(rows), len(cols), nil)
	for a, r := range rows {
		for b, c := range cols {
			out.Set(a, b, g.At(r, c))
		}
	}
	if l.batch != nil {
		l.batch.addPending(out, rows, cols)
	}
	return out
}

// effectiveRowMinusI is effectiveBlock for the MSF-by-dim row extraction the
// update formulas need, with the identity subtracted at each row's own
// diagonal position.
func (l *Local) effectiveRowMinusI(g *mat.CDense, rows []int, dim int) *mat.CDense {
	out := l.effectiveBlock(g, rows, allIdx(dim))
	for a, r := range rows {
		out.Set(a, r, out.At(a, r)-1)
	}
	return out
}

// applyWoodbury applies the Woodbury update:
// G <- G + (G_{.,i} Delta) M^-1 (G_{i,.} - I_{i,.}).
func applyWoodbury(g *mat.CDense, delta, minv, gColI, gRowI *mat.CDense) {
	dim, _ := g.Dims()
	gColIDelta := latmat.CMul(nil, gColI, delta)
	left := latmat.CMul(nil, gColIDelta, minv)
	correction := latmat.CMul(nil, left, gRowI)

	for r := 0; r < dim; r++ {
		for c := 0; c < dim; c++ {
			g.Set(r, c, g.At(r, c)+correction.At(r, c))
		}
	}
}

// applyIterative applies the same rank-MSF correction as applyWoodbury, but
// as MSF sequential rank-1 sweep-operator steps against a working copy of M
// instead of one explicit M^-1: at each step it pivots on M's current
// diagonal entry, folds the corresponding rank-1 term directly into g,
// eliminates the pivot from A's later columns, then eliminates that pivot's
// row from every other row of M and of the running right-hand side (the
// sweep-operator/Gauss-Jordan construction of A M^-1 B one column of M at a
// time).
func applyIterative(g *mat.CDense, delta, m, gColI, gRowI *mat.CDense) {
	msf, _ := m.Dims()
	dim, _ := g.Dims()

	a := latmat.CMul(nil, gColI, delta) // dim x msf
	mwork := latmat.CCopy(nil, m)
	bwork := latmat.CCopy(nil, gRowI) // msf x dim

	for b := 0; b < msf; b++ {
		piv := mwork.At(b, b)
		if piv == 0 {
			continue
		}
		invPiv := 1 / piv

		for r := 0; r < dim; r++ {
			ar := a.At(r, b)
			if ar == 0 {
				continue
			}
			coeff := ar * invPiv
			for c := 0; c < dim; c++ {
				g.Set(r, c, g.At(r, c)+coeff*bwork.At(b, c))
			}
		}

		for c := b + 1; c < msf; c++ {
			f := mwork.At(b, c) * invPiv
			if f == 0 {
				continue
			}
			for r := 0; r < dim; r++ {
				a.Set(r, c, a.At(r, c)-f*a.At(r, b))
			}
		}

		for row := 0; row < msf; row++ {
			if row == b {
				continue
			}
			factor := mwork.At(row, b) * invPiv
			if factor == 0 {
				continue
			}
			for c := 0; c < msf; c++ {
				mwork.Set(row, c, mwork.At(row, c)-factor*mwork.At(b, c))
			}
			for c := 0; c < dim; c++ {
				bwork.Set(row, c, bwork.At(row, c)-factor*bwork.At(b, c))
			}
		}
	}
}

// delayedBatch accumulates the low-rank correction from up to cap accepted
// local updates as running factors U (dim x cap) and V (cap x dim), so a
// slice's accepted moves can be folded into g in one dense pass instead of
// one Woodbury correction per site.
type delayedBatch struct {
	cap   int
	dim   int
	U     *mat.CDense
	V     *mat.CDense
	count int
}

func newDelayedBatch(dim, cap int) *delayedBatch {
	if cap <= 0 {
		cap = 1
	}
	return &delayedBatch{cap: cap, dim: dim, U: mat.NewCDense(dim, cap, nil), V: mat.NewCDense(cap, dim, nil)}
}

// addPending adds this batch's not-yet-flushed U[rows,:count]*V[:count,cols]
// contribution into dst, which already holds g[rows,cols].
func (b *delayedBatch) addPending(dst *mat.CDense, rows, cols []int) {
	for a, r := range rows {
		for c := 0; c < b.count; c++ {
			u := b.U.At(r, c)
			if u == 0 {
				continue
			}
			for bi, cc := range cols {
				dst.Set(a, bi, dst.At(a, bi)+u*b.V.At(c, cc))
			}
		}
	}
}

// enqueue appends one accepted site's rank-MSF correction
// (G_{.,i} Delta) M^-1 as new columns of U and (G_{i,.} - I_{i,.}) as new
// rows of V, flushing into g and resetting once the batch fills.
func (b *delayedBatch) enqueue(g *mat.CDense, delta, m, gColI, gRowI *mat.CDense) error {
	msf, _ := m.Dims()
	minv, err := latmat.CLUSolve(m, latmat.CIdentity(msf))
	if err != nil {
		return errors.Wrap(err, "invert M")
	}
	gColIDelta := latmat.CMul(nil, gColI, delta)
	left := latmat.CMul(nil, gColIDelta, minv)

	for c := 0; c < msf; c++ {
		col := b.count + c
		for r := 0; r < b.dim; r++ {
			b.U.Set(r, col, left.At(r, c))
		}
		for cc := 0; cc < b.dim; cc++ {
			b.V.Set(col, cc, gRowI.At(c, cc))
		}
	}
	b.count += msf

	if b.count >= b.cap {
		b.flush(g)
	}
	return nil
}

// flush folds the accumulated U*V correction into g and resets the batch.
func (b *delayedBatch) flush(g *mat.CDense) {
	for r := 0; r < b.dim; r++ {
		for c := 0; c < b.dim; c++ {
			var acc complex128
			for k := 0; k < b.count; k++ {
				acc += b.U.At(r, k) * b.V.At(k, c)
			}
			if acc != 0 {
				g.Set(r, c, g.At(r, c)+acc)
			}
		}
	}
	b.count = 0
}
