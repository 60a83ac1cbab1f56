package latmat

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// gonum's mat package offers no complex counterpart to SVD/LU. The complex
// element-type path this core needs (OPDIM>=2, or any magnetic field)
// therefore implements its own small numerical kernels below, operating
// through mat.CDense's At/Set so the storage type stays uniform with the
// rest of the package.

// CIdentity returns the n-by-n complex identity matrix.
func CIdentity(n int) *mat.CDense {
	m := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// CZeros returns an r-by-c zero matrix.
func CZeros(r, c int) *mat.CDense {
	return mat.NewCDense(r, c, nil)
}

// CCopy copies src into dst, resizing dst if needed.
func CCopy(dst *mat.CDense, src *mat.CDense) *mat.CDense {
	r, c := src.Dims()
	if dst == nil || !sameDims(dst, r, c) {
		dst = mat.NewCDense(r, c, nil)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, src.At(i, j))
		}
	}
	return dst
}

func sameDims(m *mat.CDense, r, c int) bool {
	mr, mc := m.Dims()
	return mr == r && mc == c
}

// CMul computes dst = a*b. dst must not alias a or b.
func CMul(dst *mat.CDense, a, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		panic(errors.Errorf("latmat: mul dimension mismatch %dx%d * %dx%d", ar, ac, br, bc).Error())
	}
	if dst == nil || !sameDims(dst, ar, bc) {
		dst = mat.NewCDense(ar, bc, nil)
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < bc; j++ {
			var sum complex128
			for k := 0; k < ac; k++ {
				sum += a.At(i, k) * b.At(k, j)
			}
			dst.Set(i, j, sum)
		}
	}
	return dst
}

// CAdd computes dst = a + alpha*b.
func CAdd(dst *mat.CDense, a *mat.CDense, alpha complex128, b *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	if dst == nil || !sameDims(dst, r, c) {
		dst = mat.NewCDense(r, c, nil)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, a.At(i, j)+alpha*b.At(i, j))
		}
	}
	return dst
}

// CScale computes dst = alpha*a.
func CScale(dst *mat.CDense, alpha complex128, a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	if dst == nil || !sameDims(dst, r, c) {
		dst = mat.NewCDense(r, c, nil)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(i, j, alpha*a.At(i, j))
		}
	}
	return dst
}

// CConjTranspose returns a new matrix holding a^H.
func CConjTranspose(a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	dst := mat.NewCDense(c, r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(j, i, cmplx.Conj(a.At(i, j)))
		}
	}
	return dst
}

// CMaxAbsDiff returns max_ij |a_ij - b_ij|, used by the Green's function
// consistency diagnostic.
func CMaxAbsDiff(a, b *mat.CDense) float64 {
	r, c := a.Dims()
	var m float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := cmplx.Abs(a.At(i, j) - b.At(i, j))
			if d > m {
				m = d
			}
		}
	}
	return m
}

// CQR computes a column-pivoted Householder QR factorization a*P = q*r,
// with q unitary and r upper triangular. perm records the pivoting: column
// j of a*P is column perm[j] of a. This implements the "UdV"-style
// stabilization on the complex path in place of gonum's real-only SVD (see
// package doc). Pivoting on the largest remaining column norm at each step
// is what keeps r's diagonal magnitudes sorted non-increasing, the same
// role SVD's singular values play on the real path; without it the scale
// vector a caller derives from diag(r) would not be sorted.
func CQR(a *mat.CDense) (q, r *mat.CDense, perm []int) {
	n, m := a.Dims()
	q = CIdentity(n)
	r = CCopy(nil, a)
	perm = make([]int, m)
	for j := range perm {
		perm[j] = j
	}

	colNormSq := make([]float64, m)
	for j := 0; j < m; j++ {
		var s float64
		for i := 0; i < n; i++ {
			s += cmplx.Abs(r.At(i, j)) * cmplx.Abs(r.At(i, j))
		}
		colNormSq[j] = s
	}

	for k := 0; k < m && k < n-1; k++ {
		piv := k
		for j := k + 1; j < m; j++ {
			if colNormSq[j] > colNormSq[piv] {
				piv = j
			}
		}
		if piv != k {
			swapCols(r, piv, k)
			perm[piv], perm[k] = perm[k], perm[piv]
			colNormSq[piv], colNormSq[k] = colNormSq[k], colNormSq[piv]
		}

		// Build the Householder vector for column k, rows k..n-1.
		var normSq float64
		for i := k; i < n; i++ {
			normSq += cmplx.Abs(r.At(i, k)) * cmplx.Abs(r.At(i, k))
		}
		norm := math.Sqrt(normSq)
		if norm == 0 {
			continue
		}
		x0 := r.At(k, k)
		var phase complex128 = 1
		if cmplx.Abs(x0) != 0 {
			phase = x0 / complex(cmplx.Abs(x0), 0)
		}
		alpha := -phase * complex(norm, 0)

		v := make([]complex128, n)
		for i := k; i < n; i++ {
			v[i] = r.At(i, k)
		}
		v[k] -= alpha
		var vNormSq float64
		for i := k; i < n; i++ {
			vNormSq += cmplx.Abs(v[i]) * cmplx.Abs(v[i])
		}
		if vNormSq == 0 {
			continue
		}

		// Apply the reflector H = I - 2 v v^H / (v^H v) to R and accumulate
		// into Q: Q <- Q * H (H is Hermitian and unitary, H^H = H).
		applyHouseholderLeft(r, v, vNormSq, k)
		applyHouseholderRight(q, v, vNormSq, k)

		// Downdate the trailing columns' norms from the newly formed row k
		// instead of rescanning rows k+1..n-1 from scratch each step.
		for j := k + 1; j < m; j++ {
			rkj := cmplx.Abs(r.At(k, j))
			colNormSq[j] -= rkj * rkj
			if colNormSq[j] < 0 {
				colNormSq[j] = 0
			}
		}
	}
	return q, r, perm
}

func swapCols(m *mat.CDense, i, j int) {
	rows, _ := m.Dims()
	for k := 0; k < rows; k++ {
		vi, vj := m.At(k, i), m.At(k, j)
		m.Set(k, i, vj)
		m.Set(k, j, vi)
	}
}

func applyHouseholderLeft(m *mat.CDense, v []complex128, vNormSq float64, k int) {
	n, cols := m.Dims()
	for j := 0; j < cols; j++ {
		var dot complex128
		for i := k; i < n; i++ {
			dot += cmplx.Conj(v[i]) * m.At(i, j)
		}
		factor := complex(2, 0) * dot / complex(vNormSq, 0)
		for i := k; i < n; i++ {
			m.Set(i, j, m.At(i, j)-factor*v[i])
		}
	}
}

func applyHouseholderRight(m *mat.CDense, v []complex128, vNormSq float64, k int) {
	rows, n := m.Dims()
	for i := 0; i < rows; i++ {
		var dot complex128
		for j := k; j < n; j++ {
			dot += m.At(i, j) * v[j]
		}
		factor := complex(2, 0) * dot / complex(vNormSq, 0)
		for j := k; j < n; j++ {
			m.Set(i, j, m.At(i, j)-factor*cmplx.Conj(v[j]))
		}
	}
}

// CLUSolve solves a*x = b for x via complex Gaussian elimination with
// partial pivoting. Used by the Woodbury block solve (package update) and
// the Green's function assembly (package green) on both element-type paths.
func CLUSolve(a *mat.CDense, b *mat.CDense) (*mat.CDense, error) {
	n, n2 := a.Dims()
	if n != n2 {
		return nil, errors.Errorf("latmat: CLUSolve: a not square %dx%d", n, n2)
	}
	br, bc := b.Dims()
	if br != n {
		return nil, errors.Errorf("latmat: CLUSolve: dimension mismatch a=%dx%d b=%dx%d", n, n, br, bc)
	}

	aug := CCopy(nil, a)
	x := CCopy(nil, b)

	for col := 0; col < n; col++ {
		pivot, best := col, 0.0
		for i := col; i < n; i++ {
			if v := cmplx.Abs(aug.At(i, col)); v > best {
				pivot, best = i, v
			}
		}
		if best == 0 {
			return nil, errors.Errorf("latmat: CLUSolve: singular matrix at column %d", col)
		}
		if pivot != col {
			swapRows(aug, pivot, col)
			swapRows(x, pivot, col)
		}

		pv := aug.At(col, col)
		for i := col + 1; i < n; i++ {
			factor := aug.At(i, col) / pv
			if factor == 0 {
				continue
			}
			for j := col; j < n; j++ {
				aug.Set(i, j, aug.At(i, j)-factor*aug.At(col, j))
			}
			for j := 0; j < bc; j++ {
				x.Set(i, j, x.At(i, j)-factor*x.At(col, j))
			}
		}
	}

	for row := n - 1; row >= 0; row-- {
		for j := 0; j < bc; j++ {
			sum := x.At(row, j)
			for k := row + 1; k < n; k++ {
				sum -= aug.At(row, k) * x.At(k, j)
			}
			x.Set(row, j, sum/aug.At(row, row))
		}
	}
	return x, nil
}

func swapRows(m *mat.CDense, i, j int) {
	_, c := m.Dims()
	for k := 0; k < c; k++ {
		vi, vj := m.At(i, k), m.At(j, k)
		m.Set(i, k, vj)
		m.Set(j, k, vi)
	}
}

// CDet returns det(a) via the same pivoted elimination as CLUSolve.
func CDet(a *mat.CDense) (complex128, error) {
	n, n2 := a.Dims()
	if n != n2 {
		return 0, errors.Errorf("latmat: CDet: not square %dx%d", n, n2)
	}
	aug := CCopy(nil, a)
	det := complex128(1)
	for col := 0; col < n; col++ {
		pivot, best := col, 0.0
		for i := col; i < n; i++ {
			if v := cmplx.Abs(aug.At(i, col)); v > best {
				pivot, best = i, v
			}
		}
		if best == 0 {
			return 0, nil
		}
		if pivot != col {
			swapRows(aug, pivot, col)
			det = -det
		}
		pv := aug.At(col, col)
		det *= pv
		for i := col + 1; i < n; i++ {
			factor := aug.At(i, col) / pv
			if factor == 0 {
				continue
			}
			for j := col; j < n; j++ {
				aug.Set(i, j, aug.At(i, j)-factor*aug.At(col, j))
			}
		}
	}
	return det, nil
}

// CExpSquaring computes e^{alpha*a} for a small dense complex matrix (used
// for the 4x4 checkerboard plaquette exponential under a magnetic field, and
// for the full-band dense hopping exponential when OPDIM>=2) via scaling and
// squaring with a truncated Taylor series. a is expected to have a small
// operator norm (bounded hopping strength times a Trotter step), so a modest
// number of squarings gives machine-precision accuracy.
func CExpSquaring(a *mat.CDense, alpha complex128) *mat.CDense {
	n, _ := a.Dims()
	scaled := CScale(nil, alpha, a)

	normEst := 0.0
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			rowSum += cmplx.Abs(scaled.At(i, j))
		}
		if rowSum > normEst {
			normEst = rowSum
		}
	}

	squarings := 0
	for normEst > 0.5 {
		normEst /= 2
		squarings++
	}
	s := complex(math.Pow(2, float64(squarings)), 0)
	scaled = CScale(nil, 1/s, scaled)

	const terms = 18
	result := CIdentity(n)
	term := CIdentity(n)
	for k := 1; k <= terms; k++ {
		term = CMul(nil, term, scaled)
		term = CScale(term, complex(1/float64(k), 0), term)
		result = CAdd(nil, result, 1, term)
	}

	for i := 0; i < squarings; i++ {
		result = CMul(nil, result, result)
	}
	return result
}
