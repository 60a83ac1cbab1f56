// Package udv maintains the stabilized UdV (SVD) chain that holds
// B(ls,0) and B(β,ls) products without letting their exponentially
// separated singular values collapse into a single dense matrix.
package udv

import (
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/latmat"
)

// Triple is one (U, d, V) factorization slot, X = U * diag(d) * V.
type Triple struct {
	U *mat.CDense
	D []float64
	V *mat.CDense
}

// Chain holds storage[0..n], indexed by checkpoint number, in either an
// up-sweep or down-sweep storage layout (the same type serves both; the
// driver picks which invariant it maintains).
type Chain struct {
	Kind    latmat.Kind
	Storage []Triple
	N       int // matrix dimension
}

// NewIdentity builds a length n+1 chain with every slot set to the identity
// triple: storage[0] = (I,1,I) (up-sweep) or storage[n] = (I,1,I)
// (down-sweep start).
func NewIdentity(kind latmat.Kind, n, dim int) *Chain {
	c := &Chain{Kind: kind, Storage: make([]Triple, n+1), N: dim}
	for i := range c.Storage {
		c.Storage[i] = identityTriple(dim)
	}
	return c
}

func identityTriple(dim int) Triple {
	d := make([]float64, dim)
	for i := range d {
		d[i] = 1
	}
	return Triple{U: latmat.CIdentity(dim), D: d, V: latmat.CIdentity(dim)}
}

// svd factors x = u*diag(d)*v via gonum's real SVD (dense element type) or
// via the complex QR stand-in documented in latmat (complex element type):
// gonum has no complex SVD, so the complex path uses a QR decomposition
// with the diagonal of R taken as the scale vector (sorted non-increasing by
// CQR's column pivoting), matching how
// the ASvQRD stabilization scheme this core's numerics are grounded on
// substitutes QR for SVD on the complex path.
func svd(kind latmat.Kind, x *mat.CDense) (Triple, error) {
	dim, _ := x.Dims()
	if kind == latmat.Real {
		real := toReal(x)
		var svdFact mat.SVD
		ok := svdFact.Factorize(real, mat.SVDFull)
		if !ok {
			return Triple{}, errors.New("udv: real SVD factorization failed")
		}
		var u, v mat.Dense
		svdFact.UTo(&u)
		svdFact.VTo(&v)
		d := svdFact.Values(nil)
		return Triple{U: toComplex(&u), D: d, V: toComplex(transposeDense(&v))}, nil
	}

	q, r, perm := latmat.CQR(x)
	d := make([]float64, dim)
	for i := 0; i < dim; i++ {
		d[i] = cabsCDense(r, i, i)
	}
	rNorm := normalizeRowsByDiag(r, d)
	return Triple{U: q, D: d, V: unpermuteColumns(rNorm, perm)}, nil
}

// unpermuteColumns builds v such that v[:,perm[j]] = m[:,j], undoing a
// column-pivoted QR's column permutation so x = U*diag(d)*V still holds
// with the permutation folded into V rather than left dangling on Q/R.
func unpermuteColumns(m *mat.CDense, perm []int) *mat.CDense {
	rows, cols := m.Dims()
	out := mat.NewCDense(rows, cols, nil)
	for j, p := range perm {
		for i := 0; i < rows; i++ {
			out.Set(i, p, m.At(i, j))
		}
	}
	return out
}

func toReal(c *mat.CDense) *mat.Dense {
	r, cc := c.Dims()
	out := mat.NewDense(r, cc, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < cc; j++ {
			out.Set(i, j, real(c.At(i, j)))
		}
	}
	return out
}

func toComplex(d *mat.Dense) *mat.CDense {
	r, c := d.Dims()
	out := mat.NewCDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, complex(d.At(i, j), 0))
		}
	}
	return out
}

func transposeDense(d *mat.Dense) *mat.Dense {
	r, c := d.Dims()
	out := mat.NewDense(c, r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(j, i, d.At(i, j))
		}
	}
	return out
}

func cabsCDense(m *mat.CDense, i, j int) float64 {
	return cmplx.Abs(m.At(i, j))
}

// normalizeRowsByDiag divides each row of r by its diagonal magnitude,
// leaving a matrix whose diagonal has unit magnitude, and folds the
// magnitudes into d.
func normalizeRowsByDiag(r *mat.CDense, d []float64) *mat.CDense {
	dim, cols := r.Dims()
	out := mat.NewCDense(dim, cols, nil)
	for i := 0; i < dim; i++ {
		scale := d[i]
		if scale < 1e-300 {
			scale = 1e-300
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, r.At(i, j)/complex(scale, 0))
		}
	}
	return out
}

// AdvanceUp advances the up-sweep chain: given the hopping slice range
// (kLo, kHi] freshly processed by local updates, refactor storage[l] into
// storage[l+1].
func (c *Chain) AdvanceUp(l int, fac *bmat.Factory, kLo, kHi int) error {
	prev := c.Storage[l]
	dDiag := diagCDense(prev.D)
	x := latmat.CMul(nil, fac.LeftMultiply(prev.U, kHi, kLo), dDiag)
	next, err := svd(c.Kind, x)
	if err != nil {
		return errors.Wrap(err, "udv: AdvanceUp")
	}
	next.V = latmat.CMul(nil, next.V, prev.V)
	c.Storage[l+1] = next
	return nil
}

// AdvanceDown advances the down-sweep chain analogously to AdvanceUp.
func (c *Chain) AdvanceDown(l int, fac *bmat.Factory, kLo, kHi int) error {
	prev := c.Storage[l]
	dDiag := diagCDense(prev.D)
	y := latmat.CMul(nil, dDiag, fac.RightMultiply(prev.V, kHi, kLo))
	next, err := svd(c.Kind, y)
	if err != nil {
		return errors.Wrap(err, "udv: AdvanceDown")
	}
	next.U = latmat.CMul(nil, prev.U, next.U)
	c.Storage[l-1] = next
	return nil
}

// RebuildFromScratch recomputes the whole up-sweep chain from the identity,
// used on restart and after every accepted global update.
func RebuildFromScratch(kind latmat.Kind, fac *bmat.Factory, n, s, m, dim int) (*Chain, error) {
	c := &Chain{Kind: kind, N: dim, Storage: make([]Triple, n+1)}
	c.Storage[0] = identityTriple(dim)
	for l := 0; l < n; l++ {
		kLo := l * s
		kHi := (l + 1) * s
		if kHi > m {
			kHi = m
		}
		if err := c.AdvanceUp(l, fac, kLo, kHi); err != nil {
			return nil, errors.Wrapf(err, "udv: RebuildFromScratch at l=%d", l)
		}
	}
	return c, nil
}

func diagCDense(d []float64) *mat.CDense {
	m := mat.NewCDense(len(d), len(d), nil)
	for i, v := range d {
		m.Set(i, i, complex(v, 0))
	}
	return m
}
