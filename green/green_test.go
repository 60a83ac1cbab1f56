package green

import (
	"testing"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/hopping"
	"github.com/latticemc/dqmc/latmat"
	"github.com/latticemc/dqmc/params"
	"github.com/latticemc/dqmc/udv"
)

func setup(t *testing.T) *bmat.Factory {
	t.Helper()
	p := &params.ModelParams{
		Specified: map[string]bool{},
		L:         4, D: 2, BC: params.PBC,
		Beta: 4.0, S: 4, OPDIM: 1, M: 40,
		Dtau:  0.1,
		TxHor: 1.0, TxVer: 1.0, TyHor: 1.0, TyVer: 1.0,
	}
	h, err := hopping.Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	f := field.New(p.N(), p.OPDIM, p.M, p.Lambda, p.Dtau, p.CdwU)
	return bmat.New(p, f, h)
}

func TestAssembleAtBetaProducesSquareMatrix(t *testing.T) {
	t.Parallel()
	fac := setup(t)
	dim := fac.N * fac.MSF
	n := fac.P.M / fac.P.S
	chain, err := udv.RebuildFromScratch(fac.Kind, fac, n, fac.P.S, fac.P.M, dim)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g, err := AssembleAtBeta(fac.Kind, chain.Storage[n])
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r, c := g.Dims()
	if r != dim || c != dim {
		t.Fatalf("dims %dx%d, want %dx%d", r, c, dim, dim)
	}
}

func TestWrapUpThenWrapDownIsApproxIdentity(t *testing.T) {
	t.Parallel()
	fac := setup(t)
	dim := fac.N * fac.MSF
	g := latmat.CScale(nil, complex(0.3, 0), latmat.CIdentity(dim))

	wrapped := WrapUp(g, fac, 5)
	back := WrapDown(wrapped, fac, 4)

	if d := ConsistencyNorm(back, g); d > 1e-6 {
		t.Fatalf("wrap up then down drifted by %e", d)
	}
}
