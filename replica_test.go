package dqmc

import (
	"testing"

	"github.com/latticemc/dqmc/params"
)

func baseParams() (*params.ModelParams, *params.MCParams) {
	p := &params.ModelParams{
		Specified: map[string]bool{"L": true, "D": true, "BC": true, "Beta": true, "OPDIM": true, "S": true, "M": true},
		L:         2, D: 2, BC: params.PBC,
		Beta: 0.4, S: 2, OPDIM: 1, M: 4,
		TxHor: 1.0, TxVer: 1.0, TyHor: 1.0, TyVer: 1.0,
		R: 1.0, U: 1.0, C: 1.0, Lambda: 1.0,
	}
	mc := &params.MCParams{
		Specified:                 map[string]bool{"ThermalizationSweeps": true},
		ThermalizationSweeps:      2,
		MeasurementSweeps:         2,
		AccRatioAdjustmentSamples: 1000000,
		TargetAccRatio:            0.5,
		ShrinkFactor:              0.9,
		GrowFactor:                1.1,
		MinPhiDelta:               0.01,
		MaxPhiDelta:               10,
	}
	return p, mc
}

func TestNewReplicaAndThermalize(t *testing.T) {
	t.Parallel()
	p, mc := baseParams()
	r, err := New(p, mc, 1, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := r.Thermalize(); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := r.Thermalize(); err != nil {
		t.Fatalf("%+v", err)
	}
	therm, meas := r.SweepsDone()
	if therm != 2 || meas != 0 {
		t.Fatalf("SweepsDone=(%d,%d), want (2,0)", therm, meas)
	}
}

func TestExchangeParameterRoundTrip(t *testing.T) {
	t.Parallel()
	p, mc := baseParams()
	r, err := New(p, mc, 1, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := r.GetExchangeParameter(); got != 1.0 {
		t.Fatalf("GetExchangeParameter=%v, want 1.0", got)
	}
	r.SetExchangeParameter(2.5)
	if got := r.GetExchangeParameter(); got != 2.5 {
		t.Fatalf("GetExchangeParameter=%v, want 2.5", got)
	}
}

func TestSwapProbabilityBounds(t *testing.T) {
	t.Parallel()
	if got := SwapProbability(1, 1, 5, 5); got != 1 {
		t.Fatalf("equal replicas should always swap, got %v", got)
	}
	got := SwapProbability(2, 1, 0, 10)
	if got <= 0 || got > 1 {
		t.Fatalf("SwapProbability out of (0,1]: %v", got)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	p, mc := baseParams()
	r, err := New(p, mc, 7, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := r.Thermalize(); err != nil {
		t.Fatalf("%+v", err)
	}
	st := r.Checkpoint("job-x")
	if st.JobID != "job-x" {
		t.Fatalf("JobID=%q", st.JobID)
	}

	r2, err := New(p, mc, 999, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := r2.Restore(st); err != nil {
		t.Fatalf("%+v", err)
	}
	therm, _ := r2.SweepsDone()
	if therm != 1 {
		t.Fatalf("restored SweepsDoneThermalization=%d, want 1", therm)
	}
}
