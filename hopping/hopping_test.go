package hopping

import (
	"fmt"
	"math"
	"testing"

	"github.com/latticemc/dqmc/params"
)

func baseParams() *params.ModelParams {
	p := &params.ModelParams{
		Specified: map[string]bool{},
		L:         4, D: 2, BC: params.PBC,
		Beta: 4.0, S: 4, OPDIM: 1,
		Dtau:  0.1,
		TxHor: 1.0, TxVer: 1.0, TyHor: 1.0, TyVer: 1.0,
	}
	return p
}

func TestBuildRealPathDims(t *testing.T) {
	t.Parallel()
	p := baseParams()
	c, err := Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if c.Kind.String() != "real" {
		t.Fatalf("kind=%v, want real", c.Kind)
	}
	r, cc := c.PropKReal[BandX].Dims()
	if r != p.N() || cc != p.N() {
		t.Fatalf("dims %dx%d, want %dx%d", r, cc, p.N(), p.N())
	}
}

func TestBuildComplexPathOnMagneticField(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.WeakZFlux = true
	c, err := Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if c.Kind.String() != "complex" {
		t.Fatalf("kind=%v, want complex", c.Kind)
	}
	if c.PropKComplex[BandX] == nil {
		t.Fatal("expected complex propagator")
	}
}

func TestHalfStepSquaresToFullStep(t *testing.T) {
	t.Parallel()
	p := baseParams()
	c, err := Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	n := p.N()
	var prod float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += c.PropKHalfR[BandX].At(i, k) * c.PropKHalfR[BandX].At(k, j)
			}
			prod += math.Abs(sum - c.PropKReal[BandX].At(i, j))
		}
	}
	if prod/float64(n*n) > 1e-8 {
		t.Fatalf("half-step squared mismatch: avg abs diff %e", prod/float64(n*n))
	}
}

func TestNewLatticePartitionsAllSites(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l int
	}{{2}, {4}, {6}}
	for _, test := range tests {
		t.Run(fmt.Sprintf("L=%d", test.l), func(t *testing.T) {
			t.Parallel()
			lat := NewLattice(test.l, params.PBC)
			got := len(lat.Groups[0]) + len(lat.Groups[1])
			want := test.l * test.l / 2
			if got != want {
				t.Fatalf("got %d plaquettes, want %d", got, want)
			}
			seen := map[int]bool{}
			for _, g := range lat.Groups {
				for _, pl := range g {
					for _, s := range []int{pl.I, pl.J, pl.K, pl.L} {
						seen[s] = true
					}
				}
			}
			if len(seen) != test.l*test.l {
				t.Fatalf("plaquettes cover %d sites, want %d", len(seen), test.l*test.l)
			}
		})
	}
}

func TestPlaquetteCacheHasAllFourAlphas(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.Checkerboard = true
	p.WeakZFlux = true
	c, err := Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	pl := c.Lattice.Groups[0][0]
	for ai := 0; ai < 4; ai++ {
		key := plaqKey{band: BandX, group: 0, anchor: pl.Anchor, alpha: ai}
		if _, ok := c.PlaquetteExp[key]; !ok {
			t.Fatalf("missing plaquette exponential for alpha index %d", ai)
		}
	}
}

func TestBondScalarsWithoutMagneticField(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.Checkerboard = true
	c, err := Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := math.Cosh(p.Dtau * p.TxHor)
	if math.Abs(c.HorBonds[BandX].CoshFull-want) > 1e-12 {
		t.Fatalf("coshFull=%v, want %v", c.HorBonds[BandX].CoshFull, want)
	}
}
