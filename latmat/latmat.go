// Package latmat supplies the small dense-matrix building blocks the DQMC
// core is built from: the real/complex element-type trait selection, a
// block-indexing view over the MSF*N-by-MSF*N Green's function layout, and
// a table of the constant 2x2 Pauli matrices.
package latmat

import "gonum.org/v1/gonum/mat"

// Kind is the element type a replica's dense linear algebra runs in.
type Kind int

const (
	Real Kind = iota
	Complex
)

// SelectKind picks the element-type trait: complex iff OPDIM>=2 or a
// magnetic field is present, real otherwise.
func SelectKind(opdim int, magneticField bool) Kind {
	if opdim >= 2 || magneticField {
		return Complex
	}
	return Real
}

func (k Kind) String() string {
	if k == Complex {
		return "complex"
	}
	return "real"
}

// The Pauli matrices and the 2x2 identity. The potential blocks and
// checkerboard bond factors are built from closed-form entries, not from
// these tables.
var (
	PauliX = [2][2]complex128{{0, 1}, {1, 0}}
	PauliY = [2][2]complex128{{0, -1i}, {1i, 0}}
	PauliZ = [2][2]complex128{{1, 0}, {0, -1}}
	Ident2 = [2][2]complex128{{1, 0}, {0, 1}}
)

// RealBlockView is a mutable view onto the n-by-n block (rowBlock,colBlock)
// of a matrix laid out in MSF-by-MSF blocks of size n. It implements
// mat.Matrix so it can be used directly with gonum operations.
type RealBlockView struct {
	M                  *mat.Dense
	RowBlock, ColBlock int
	N                  int
}

func (v *RealBlockView) Dims() (int, int) { return v.N, v.N }

func (v *RealBlockView) At(i, j int) float64 {
	return v.M.At(v.RowBlock*v.N+i, v.ColBlock*v.N+j)
}

func (v *RealBlockView) Set(i, j int, x float64) {
	v.M.Set(v.RowBlock*v.N+i, v.ColBlock*v.N+j, x)
}

func (v *RealBlockView) T() mat.Matrix { return mat.Transpose{Matrix: v} }

// ComplexBlockView is the complex analogue of RealBlockView, over a
// *mat.CDense.
type ComplexBlockView struct {
	M                  *mat.CDense
	RowBlock, ColBlock int
	N                  int
}

func (v *ComplexBlockView) Dims() (int, int) { return v.N, v.N }

func (v *ComplexBlockView) At(i, j int) complex128 {
	return v.M.At(v.RowBlock*v.N+i, v.ColBlock*v.N+j)
}

func (v *ComplexBlockView) Set(i, j int, x complex128) {
	v.M.Set(v.RowBlock*v.N+i, v.ColBlock*v.N+j, x)
}
