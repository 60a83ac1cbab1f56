package udv

import (
	"testing"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/hopping"
	"github.com/latticemc/dqmc/latmat"
	"github.com/latticemc/dqmc/params"
)

func setup(t *testing.T) (*bmat.Factory, int, int, int) {
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
	fac := bmat.New(p, f, h)
	return fac, p.S, p.M, p.MSF() * p.N()
}

func TestNewIdentityShape(t *testing.T) {
	t.Parallel()
	c := NewIdentity(latmat.Real, 5, 8)
	if len(c.Storage) != 6 {
		t.Fatalf("len(storage)=%d, want 6", len(c.Storage))
	}
	if c.Storage[0].D[0] != 1 {
		t.Fatalf("d[0]=%v, want 1", c.Storage[0].D[0])
	}
}

func TestRebuildFromScratchProducesSortedScales(t *testing.T) {
	t.Parallel()
	fac, s, m, dim := setup(t)
	n := m / s
	c, err := RebuildFromScratch(fac.Kind, fac, n, s, m, dim)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(c.Storage) != n+1 {
		t.Fatalf("len(storage)=%d, want %d", len(c.Storage), n+1)
	}
	for l := 1; l <= n; l++ {
		d := c.Storage[l].D
		for i := 1; i < len(d); i++ {
			if d[i] > d[i-1]+1e-9 {
				t.Fatalf("storage[%d].D not sorted non-increasing at %d: %v > %v", l, i, d[i], d[i-1])
			}
		}
	}
}

func TestAdvanceUpMatchesRebuildAtCheckpoint(t *testing.T) {
	t.Parallel()
	fac, s, m, dim := setup(t)
	n := m / s
	c := NewIdentity(fac.Kind, n, dim)
	if err := c.AdvanceUp(0, fac, 0, s); err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := RebuildFromScratch(fac.Kind, fac, n, s, m, dim)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Both should reproduce B(s,0) up to the U*d*V factorization ambiguity;
	// check the reconstructed dense products agree.
	got := latmat.CMul(nil, latmat.CMul(nil, c.Storage[1].U, diagCDense(c.Storage[1].D)), c.Storage[1].V)
	want := latmat.CMul(nil, latmat.CMul(nil, full.Storage[1].U, diagCDense(full.Storage[1].D)), full.Storage[1].V)
	if d := latmat.CMaxAbsDiff(got, want); d > 1e-6 {
		t.Fatalf("|got-want|=%e", d)
	}
}
