package field

import (
	"fmt"
	"math"
	"testing"
)

func TestEtaLGammaL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l int
	}{{1}, {-1}, {2}, {-2}}
	for _, test := range tests {
		t.Run(fmt.Sprintf("l=%d", test.l), func(t *testing.T) {
			t.Parallel()
			eta := EtaL(test.l)
			gamma := GammaL(test.l)
			if eta <= 0 {
				t.Fatalf("eta(%d)=%v, want positive", test.l, eta)
			}
			if gamma <= 0 {
				t.Fatalf("gamma(%d)=%v, want positive", test.l, gamma)
			}
			if EtaL(test.l) != EtaL(-test.l) {
				t.Fatalf("eta(%d) != eta(%d)", test.l, -test.l)
			}
		})
	}
}

func TestEtaLInvalidPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid l")
		}
	}()
	EtaL(0)
}

func TestNewInitialCaches(t *testing.T) {
	t.Parallel()
	c := New(4, 1, 8, 1.0, 0.1, 0)
	for i := 0; i < c.N; i++ {
		for k := 0; k <= c.M; k++ {
			if c.CoshPhi[i][k] != 1 {
				t.Fatalf("site %d slice %d: cosh=%v, want 1", i, k, c.CoshPhi[i][k])
			}
			want := c.Lambda * c.Dtau
			if math.Abs(c.SinhPhi[i][k]-want) > 1e-12 {
				t.Fatalf("site %d slice %d: sinh=%v, want %v", i, k, c.SinhPhi[i][k], want)
			}
		}
	}
	if c.L != nil {
		t.Fatal("L should be nil when CdwU == 0")
	}
}

func TestNewWithCDW(t *testing.T) {
	t.Parallel()
	c := New(2, 1, 4, 1.0, 0.1, 0.5)
	if c.L == nil {
		t.Fatal("L should be allocated when CdwU != 0")
	}
	for i := 0; i < c.N; i++ {
		for k := 0; k <= c.M; k++ {
			if c.L[i][k] != 1 {
				t.Fatalf("site %d slice %d: l=%d, want 1", i, k, c.L[i][k])
			}
			wantCosh := math.Cosh(math.Sqrt(c.Dtau) * c.CdwU * EtaL(1))
			if math.Abs(c.CoshL[i][k]-wantCosh) > 1e-12 {
				t.Fatalf("site %d slice %d: coshL=%v, want %v", i, k, c.CoshL[i][k], wantCosh)
			}
		}
	}
}

func TestSetPhiUpdatesCaches(t *testing.T) {
	t.Parallel()
	c := New(1, 2, 4, 1.0, 0.1, 0)
	c.SetPhi(0, 2, []float64{3, 4})
	norm := c.PhiNorm(0, 2)
	if math.Abs(norm-5) > 1e-12 {
		t.Fatalf("norm=%v, want 5", norm)
	}
	wantCosh := math.Cosh(c.Lambda * c.Dtau * 5)
	if math.Abs(c.CoshPhi[0][2]-wantCosh) > 1e-9 {
		t.Fatalf("cosh=%v, want %v", c.CoshPhi[0][2], wantCosh)
	}
	wantSinh := math.Sinh(c.Lambda*c.Dtau*5) / 5
	if math.Abs(c.SinhPhi[0][2]-wantSinh) > 1e-9 {
		t.Fatalf("sinh=%v, want %v", c.SinhPhi[0][2], wantSinh)
	}
}

func TestSetLUpdatesCaches(t *testing.T) {
	t.Parallel()
	c := New(1, 1, 4, 1.0, 0.1, 0.3)
	c.SetL(0, 1, -2)
	if c.L[0][1] != -2 {
		t.Fatalf("l=%d, want -2", c.L[0][1])
	}
	want := math.Cosh(math.Sqrt(c.Dtau) * c.CdwU * EtaL(-2))
	if math.Abs(c.CoshL[0][1]-want) > 1e-12 {
		t.Fatalf("coshL=%v, want %v", c.CoshL[0][1], want)
	}
}

func TestSyncBoundary(t *testing.T) {
	t.Parallel()
	c := New(2, 1, 4, 1.0, 0.1, 0.4)
	c.SetPhi(0, 0, []float64{2})
	c.SetL(0, 0, 2)
	c.SyncBoundary()
	if c.Phi[0][0][c.M] != 2 {
		t.Fatalf("phi at M=%v, want 2", c.Phi[0][0][c.M])
	}
	if c.L[0][c.M] != 2 {
		t.Fatalf("l at M=%d, want 2", c.L[0][c.M])
	}
	if c.CoshPhi[0][c.M] != c.CoshPhi[0][0] {
		t.Fatal("coshPhi boundary mismatch")
	}
}

func TestCloneAndRestore(t *testing.T) {
	t.Parallel()
	c := New(2, 1, 4, 1.0, 0.1, 0.2)
	snap := c.Clone()

	c.SetPhi(0, 1, []float64{9})
	c.SetL(1, 2, -1)

	if snap.Phi[0][0][1] == 9 {
		t.Fatal("clone should not alias the original's storage")
	}

	c.Restore(snap)
	if c.Phi[0][0][1] != snap.Phi[0][0][1] {
		t.Fatal("restore did not roll back phi")
	}
	if c.L[1][2] != snap.L[1][2] {
		t.Fatal("restore did not roll back l")
	}
}

func TestActionPhi2BosonsOnlyMassTerm(t *testing.T) {
	t.Parallel()
	c := New(4, 1, 4, 1.0, 0.1, 0)
	nb := NewNeighbors(2)
	for i := 0; i < c.N; i++ {
		c.SetPhi(i, 1, []float64{1.5})
	}
	full := c.Action(nb, 1.0, 2.0, 1.0, false)
	massOnly := c.Action(nb, 1.0, 2.0, 1.0, true)
	if full <= massOnly {
		t.Fatalf("full action %v should exceed mass-only action %v with nonzero coupling terms", full, massOnly)
	}
}

func TestLocalActionDeltaMatchesFullRecompute(t *testing.T) {
	t.Parallel()
	c := New(4, 1, 6, 1.0, 0.1, 0)
	nb := NewNeighbors(2)
	for i := 0; i < c.N; i++ {
		for k := 1; k <= c.M; k++ {
			c.SetPhi(i, k, []float64{0.1 * float64(i+k)})
		}
	}
	c.SyncBoundary()

	before := c.Action(nb, 0.5, 1.0, 1.0, false)
	oldPhi := []float64{c.Phi[0][0][3]}
	newPhi := []float64{oldPhi[0] + 0.7}

	delta := c.LocalActionDelta(nb, 0, 3, newPhi, 0.5, 1.0, 1.0, false)

	c.SetPhi(0, 3, newPhi)
	after := c.Action(nb, 0.5, 1.0, 1.0, false)

	got := after - before
	if math.Abs(got-delta) > 1e-8 {
		t.Fatalf("local delta %v, full recompute delta %v", delta, got)
	}
}

func TestExchangeActionContributionMatchesDefinition(t *testing.T) {
	t.Parallel()
	c := New(2, 1, 4, 1.0, 0.1, 0)
	c.SetPhi(0, 1, []float64{2})
	c.SetPhi(1, 2, []float64{3})
	got := c.ExchangeActionContribution()
	want := (c.Dtau / 2) * (4 + 9)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("got %v, want %v", got, want)
	}
}
