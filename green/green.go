// Package green assembles and maintains the equal-time Green's function
// G(τ) = [I + B(τ,0)B(β,τ)]^{-1} from the stabilized UdV chains.
package green

import (
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/latmat"
	"github.com/latticemc/dqmc/udv"
)

// State is the derived, non-checkpointed Green's function state: it is
// never persisted directly and must be rebuilt from the field configuration
// after a restart.
type State struct {
	G                *mat.CDense
	CurrentTimeslice int
	Kind             latmat.Kind
}

// Assemble computes G(τ) via the numerically stable two-factorization
// formula: given B(β,τ) = V_L d_L U_L and B(τ,0) = U_R d_R V_R, computes
//
//	G(τ) = (U_L V̂)^{-1} diag(1/d̂) (U_R Û)^{-1}
//
// where (Û,d̂,V̂) = SVD((U_L U_R)^{-1} + diag(d_R)(V_R V_L)diag(d_L)).
func Assemble(kind latmat.Kind, left, right udv.Triple) (*mat.CDense, error) {
	dim := len(right.D)

	sumMat, err := assemblySumMatrix(left, right)
	if err != nil {
		return nil, errors.Wrap(err, "green: (U_L U_R)^-1")
	}

	uHat, dHat, vHat, err := factorize(kind, sumMat)
	if err != nil {
		return nil, errors.Wrap(err, "green: SVD of assembly sum")
	}

	ulVhat := latmat.CMul(nil, left.U, vHat)
	ulVhatInv, err := invert(ulVhat)
	if err != nil {
		return nil, errors.Wrap(err, "green: invert U_L*Vhat")
	}
	urUhat := latmat.CMul(nil, right.U, uHat)
	urUhatInv, err := invert(urUhat)
	if err != nil {
		return nil, errors.Wrap(err, "green: invert U_R*Uhat")
	}

	invD := make([]float64, dim)
	for i, v := range dHat {
		if v < 1e-300 {
			v = 1e-300
		}
		invD[i] = 1 / v
	}

	g := latmat.CMul(nil, latmat.CMul(nil, ulVhatInv, diagCDense(invD)), urUhatInv)
	return g, nil
}

// AssembleAtBeta handles the special case τ=β where B(β,τ)=I, which
// simplifies the assembly formula to use only (U_R,d_R,V_R).
func AssembleAtBeta(kind latmat.Kind, right udv.Triple) (*mat.CDense, error) {
	return Assemble(kind, identityTriple(len(right.D)), right)
}

// GInverseSingularValues returns the singular values of G(τ)^{-1} = I +
// B(β,τ)B(τ,0), via the same stabilized SVD-of-the-assembly-sum step
// Assemble uses internally, without forming or inverting G itself: the
// singular values of the freshly factorized sum are exactly the singular
// values of I + B(β,τ)B(τ,0), since U_L, U_R, V_L, V_R are unitary and drop
// out of the singular values under that identity.
func GInverseSingularValues(kind latmat.Kind, left, right udv.Triple) ([]float64, error) {
	sumMat, err := assemblySumMatrix(left, right)
	if err != nil {
		return nil, errors.Wrap(err, "green: (U_L U_R)^-1")
	}
	_, dHat, _, err := factorize(kind, sumMat)
	if err != nil {
		return nil, errors.Wrap(err, "green: SVD of assembly sum")
	}
	return dHat, nil
}

// GInverseSingularValuesAtBeta is GInverseSingularValues specialized to τ=β.
func GInverseSingularValuesAtBeta(kind latmat.Kind, right udv.Triple) ([]float64, error) {
	return GInverseSingularValues(kind, identityTriple(len(right.D)), right)
}

func identityTriple(dim int) udv.Triple {
	return udv.Triple{U: latmat.CIdentity(dim), D: onesVec(dim), V: latmat.CIdentity(dim)}
}

// assemblySumMatrix builds (U_L U_R)^{-1} + diag(d_R)(V_R V_L)diag(d_L), the
// matrix Assemble and GInverseSingularValues both factorize.
func assemblySumMatrix(left, right udv.Triple) (*mat.CDense, error) {
	uLuR, err := invUProduct(left.U, right.U)
	if err != nil {
		return nil, err
	}
	vrVl := latmat.CMul(nil, right.V, left.V)
	dR := diagCDense(right.D)
	dL := diagCDense(left.D)
	middle := latmat.CMul(nil, latmat.CMul(nil, dR, vrVl), dL)
	return latmat.CAdd(nil, uLuR, 1, middle), nil
}

func onesVec(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func invUProduct(uL, uR *mat.CDense) (*mat.CDense, error) {
	prod := latmat.CMul(nil, uL, uR)
	return invert(prod)
}

func invert(a *mat.CDense) (*mat.CDense, error) {
	n, _ := a.Dims()
	return latmat.CLUSolve(a, latmat.CIdentity(n))
}

func diagCDense(d []float64) *mat.CDense {
	m := mat.NewCDense(len(d), len(d), nil)
	for i, v := range d {
		m.Set(i, i, complex(v, 0))
	}
	return m
}

// factorize runs the same real-SVD/complex-QR dispatch udv.svd uses,
// exposed here since the assembly step needs a fresh SVD of a matrix that
// is not itself a UdV chain slot.
func factorize(kind latmat.Kind, x *mat.CDense) (u *mat.CDense, d []float64, v *mat.CDense, err error) {
	dim, _ := x.Dims()
	if kind == latmat.Real {
		real := mat.NewDense(dim, dim, nil)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				real.Set(i, j, float64FromComplex(x.At(i, j)))
			}
		}
		var svdFact mat.SVD
		if !svdFact.Factorize(real, mat.SVDFull) {
			return nil, nil, nil, errors.New("green: real SVD factorization failed")
		}
		var ud, vd mat.Dense
		svdFact.UTo(&ud)
		svdFact.VTo(&vd)
		values := svdFact.Values(nil)
		return toComplex(&ud), values, toComplex(transposeDense(&vd)), nil
	}

	q, r, perm := latmat.CQR(x)
	dvec := make([]float64, dim)
	for i := 0; i < dim; i++ {
		dvec[i] = cmplx.Abs(r.At(i, i))
	}
	rNorm := mat.NewCDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		scale := dvec[i]
		if scale < 1e-300 {
			scale = 1e-300
		}
		for j := 0; j < dim; j++ {
			rNorm.Set(i, j, r.At(i, j)/complex(scale, 0))
		}
	}
	vFinal := mat.NewCDense(dim, dim, nil)
	for j, p := range perm {
		for i := 0; i < dim; i++ {
			vFinal.Set(i, p, rNorm.At(i, j))
		}
	}
	return q, dvec, vFinal, nil
}

func float64FromComplex(z complex128) float64 { return real(z) }

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

// WrapUp implements the fast, precision-accumulating step G(k) -> G(k-1) via
// G(k-1) = B_k^{-1} G(k) B_k, used between UdV chain checkpoints only.
func WrapUp(g *mat.CDense, fac *bmat.Factory, k int) *mat.CDense {
	tmp := fac.LeftMultiplyInv(g, k, k-1)
	return fac.RightMultiply(tmp, k, k-1)
}

// WrapDown implements G(k) -> G(k+1) via G(k+1) = B_{k+1} G(k) B_{k+1}^{-1}.
func WrapDown(g *mat.CDense, fac *bmat.Factory, k int) *mat.CDense {
	tmp := fac.LeftMultiply(g, k+1, k)
	return fac.RightMultiplyInv(tmp, k+1, k)
}

// ConsistencyNorm returns ‖g - ref‖_max, an optional diagnostic used to
// bound wrap-step drift against a freshly assembled reference.
func ConsistencyNorm(g, ref *mat.CDense) float64 {
	return latmat.CMaxAbsDiff(g, ref)
}
