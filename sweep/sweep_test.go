package sweep

import (
	"testing"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/hopping"
	"github.com/latticemc/dqmc/params"
	"github.com/latticemc/dqmc/update"
)

type stubRNG struct{ calls int }

func (r *stubRNG) Float64() float64 { r.calls++; return 0.999 }
func (r *stubRNG) Range(lo, hi float64) float64 { return (lo + hi) / 2 }
func (r *stubRNG) Int(lo, hi int) int {
	span := hi - lo + 1
	v := lo + r.calls%span
	r.calls++
	return v
}
func (r *stubRNG) Sign() float64             { return 1 }
func (r *stubRNG) Normal() float64           { return 0 }
func (r *stubRNG) PointOnSphere() [3]float64 { return [3]float64{0, 0, 1} }
func (r *stubRNG) PointOnCircle() [2]float64 { return [2]float64{1, 0} }

func setupDriver(t *testing.T) *Driver {
	t.Helper()
	p := &params.ModelParams{
		Specified: map[string]bool{},
		L:         2, D: 2, BC: params.PBC,
		Beta: 0.4, S: 2, OPDIM: 1, M: 4,
		Dtau:                 0.1,
		TxHor:                1.0, TxVer: 1.0, TyHor: 1.0, TyVer: 1.0,
		R: 1.0, U: 1.0, C: 1.0,
		RepeatUpdateInSlice: 1,
	}
	mc := &params.MCParams{
		AccRatioAdjustmentSamples: 1000000,
		TargetAccRatio:            0.5,
		ShrinkFactor:              0.9,
		GrowFactor:                1.1,
		MinPhiDelta:               0.01,
		MaxPhiDelta:               10,
	}
	h, err := hopping.Build(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := field.New(p.N(), p.OPDIM, p.M, p.Lambda, p.Dtau, p.CdwU)
	fac := bmat.New(p, cfg, h)
	nb := field.NewNeighbors(p.L)

	rng := &stubRNG{}
	adj := update.NewAdjustmentState(p, mc)
	local := &update.Local{P: p, MC: mc, Fac: fac, Nb: nb, Rng: rng, Adj: adj, Stat: &update.UpdateStatistics{}}
	global := &update.Global{P: p, Fac: fac, Nb: nb, Rng: rng, Stat: &update.UpdateStatistics{}}

	d, err := New(p, mc, fac, cfg, nb, local, global)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return d
}

func TestDownThenUpSweepRuns(t *testing.T) {
	t.Parallel()
	d := setupDriver(t)
	if d.LastSweepDir != Up {
		t.Fatalf("initial LastSweepDir=%v, want Up", d.LastSweepDir)
	}
	if err := d.DownSweep(nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if d.LastSweepDir != Down {
		t.Fatalf("after DownSweep, LastSweepDir=%v, want Down", d.LastSweepDir)
	}
	if err := d.UpSweep(nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if d.LastSweepDir != Up {
		t.Fatalf("after UpSweep, LastSweepDir=%v, want Up", d.LastSweepDir)
	}
}

func TestRunOneSweepAlternatesDirection(t *testing.T) {
	t.Parallel()
	d := setupDriver(t)
	if _, err := d.RunOneSweep(1, nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if d.LastSweepDir != Down {
		t.Fatalf("LastSweepDir=%v, want Down", d.LastSweepDir)
	}
	if _, err := d.RunOneSweep(2, nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if d.LastSweepDir != Up {
		t.Fatalf("LastSweepDir=%v, want Up", d.LastSweepDir)
	}
}
