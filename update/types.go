// Package update implements the local (site-by-site) and global (uniform
// shift, Wolff cluster) Metropolis updaters.
package update

import (
	"math"

	"github.com/latticemc/dqmc/params"
)

// AdjustmentState tracks the running acceptance ratio used to tune proposal
// step sizes during thermalization.
type AdjustmentState struct {
	Samples      int
	Accepted     int
	PhiDelta     float64
	AngleDelta   float64
	ScaleDelta   float64
	AngleLow     float64
	AngleHigh    float64
	ScaleLow     float64
	ScaleHigh    float64
}

// NewAdjustmentState starts PhiDelta at 1, the angle and scale step sizes at
// the midpoints of their MCParams bounds, and the binary-search bounds at
// those MCParams bounds.
func NewAdjustmentState(p *params.ModelParams, mc *params.MCParams) *AdjustmentState {
	return &AdjustmentState{
		PhiDelta:   1.0,
		AngleDelta: (mc.MinAngleDelta + mc.MaxAngleDelta) / 2,
		ScaleDelta: (mc.MinScaleDelta + mc.MaxScaleDelta) / 2,
		AngleLow:   mc.MinAngleDelta,
		AngleHigh:  mc.MaxAngleDelta,
		ScaleLow:   mc.MinScaleDelta,
		ScaleHigh:  mc.MaxScaleDelta,
	}
}

// Record folds one accept/reject outcome into the running sample, and every
// AccRatioAdjustmentSamples calls, retunes the step sizes per the
// BOX/ROTATE/SCALE proposal rules.
func (a *AdjustmentState) Record(accepted bool, p *params.ModelParams, mc *params.MCParams) {
	a.Samples++
	if accepted {
		a.Accepted++
	}
	if a.Samples < mc.AccRatioAdjustmentSamples {
		return
	}
	ratio := float64(a.Accepted) / float64(a.Samples)
	tooLow := ratio < mc.TargetAccRatio

	switch p.Proposal {
	case params.ProposalBox:
		if tooLow {
			a.PhiDelta *= mc.ShrinkFactor
		} else {
			a.PhiDelta *= mc.GrowFactor
		}
		a.PhiDelta = clamp(a.PhiDelta, mc.MinPhiDelta, mc.MaxPhiDelta)
	case params.ProposalRotate:
		// AngleDelta is the cosine of the cone half-angle: a larger value is
		// a smaller step, so its search runs opposite to the other step sizes.
		a.AngleDelta = bisect(&a.AngleLow, &a.AngleHigh, a.AngleDelta, !tooLow)
	case params.ProposalScale:
		if p.AdaptScaleVariance {
			a.ScaleDelta = bisect(&a.ScaleLow, &a.ScaleHigh, a.ScaleDelta, tooLow)
		}
	case params.ProposalRotateThenScale, params.ProposalRotateAndScale:
		a.AngleDelta = bisect(&a.AngleLow, &a.AngleHigh, a.AngleDelta, !tooLow)
		if p.AdaptScaleVariance {
			a.ScaleDelta = bisect(&a.ScaleLow, &a.ScaleHigh, a.ScaleDelta, tooLow)
		}
	}
	a.Samples, a.Accepted = 0, 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bisect halves the search interval toward the side implied by tooLow: a
// low acceptance ratio means the step was too aggressive, so we move the
// high bound down; a high ratio means the step was too timid, so we move
// the low bound up.
func bisect(low, high *float64, current float64, tooLow bool) float64 {
	if tooLow {
		*high = current
	} else {
		*low = current
	}
	return (*low + *high) / 2
}

// UpdateStatistics accumulates acceptance counts over the whole run (it is
// never reset) for reporting, separate from AdjustmentState's tuning window.
type UpdateStatistics struct {
	LocalProposed, LocalAccepted   int64
	GlobalProposed, GlobalAccepted int64
}

func (s *UpdateStatistics) RecordLocal(accepted bool) {
	s.LocalProposed++
	if accepted {
		s.LocalAccepted++
	}
}

func (s *UpdateStatistics) RecordGlobal(accepted bool) {
	s.GlobalProposed++
	if accepted {
		s.GlobalAccepted++
	}
}

func (s *UpdateStatistics) LocalAccRatio() float64 {
	if s.LocalProposed == 0 {
		return 0
	}
	return float64(s.LocalAccepted) / float64(s.LocalProposed)
}

// GlobalMoveResult reports the outcome of one global-move attempt: the
// bosonic and fermionic weight ratios evaluated and whether the move was
// accepted, kept for logging and for the exchange-parameter bookkeeping a
// replica-exchange orchestrator needs (GetExchangeActionContribution's
// caller uses this to decide whether to also attempt a replica-exchange
// swap).
type GlobalMoveResult struct {
	Kind          string
	Accepted      bool
	BosonicLogP   float64
	FermionLogP   float64
	CombinedLogP  float64
}

// proposeVector draws a new field vector for site i, slice k, given the
// configured proposal method and current step sizes.
func proposeVector(rng RNG, p *params.ModelParams, adj *AdjustmentState, old []float64) []float64 {
	switch p.Proposal {
	case params.ProposalBox:
		out := make([]float64, len(old))
		for d := range out {
			out[d] = old[d] + rng.Range(-adj.PhiDelta, adj.PhiDelta)
		}
		return out
	case params.ProposalRotate:
		return proposeRotate(rng, adj, old)
	case params.ProposalScale:
		return proposeScale(rng, adj, old)
	case params.ProposalRotateThenScale:
		if rng.Sign() > 0 {
			return proposeRotate(rng, adj, old)
		}
		return proposeScale(rng, adj, old)
	case params.ProposalRotateAndScale:
		return proposeScale(rng, adj, proposeRotate(rng, adj, old))
	default:
		out := make([]float64, len(old))
		copy(out, old)
		return out
	}
}

func proposeRotate(rng RNG, adj *AdjustmentState, old []float64) []float64 {
	r := norm(old)
	if r < 1e-12 {
		return append([]float64{}, old...)
	}
	cosHalfAngle := adj.AngleDelta
	axis := rng.PointOnSphere()
	// Rotate old/|old| toward a random axis within the cone bound by
	// acos(cosHalfAngle); a simple construction that mixes the old
	// direction with a random one and renormalizes, biased toward small
	// deviations as cosHalfAngle -> 1.
	dir := [3]float64{old[0] / r, old[1] / r, old[2] / r}
	mix := 1 - cosHalfAngle
	newDir := [3]float64{
		dir[0]*(1-mix) + axis[0]*mix,
		dir[1]*(1-mix) + axis[1]*mix,
		dir[2]*(1-mix) + axis[2]*mix,
	}
	n := math.Sqrt(newDir[0]*newDir[0] + newDir[1]*newDir[1] + newDir[2]*newDir[2])
	if n < 1e-12 {
		return append([]float64{}, old...)
	}
	return []float64{newDir[0] / n * r, newDir[1] / n * r, newDir[2] / n * r}
}

func proposeScale(rng RNG, adj *AdjustmentState, old []float64) []float64 {
	r := norm(old)
	cubed := r * r * r
	newCubed := cubed + rng.Normal()*adj.ScaleDelta
	if newCubed <= 0 {
		return append([]float64{}, old...)
	}
	newR := math.Cbrt(newCubed)
	if r < 1e-12 {
		return append([]float64{}, old...)
	}
	scale := newR / r
	out := make([]float64, len(old))
	for d := range old {
		out[d] = old[d] * scale
	}
	return out
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// RNG is the subset of rng.Wrapper's surface the updaters need, kept as an
// interface here so update can be tested with a deterministic stub.
type RNG interface {
	Float64() float64
	Range(lo, hi float64) float64
	Int(lo, hi int) int
	Sign() float64
	Normal() float64
	PointOnSphere() [3]float64
	PointOnCircle() [2]float64
}

// proposeL resamples the discrete CDW field uniformly from {-2,-1,1,2}.
func proposeL(rng RNG, old int) int {
	vals := [4]int{-2, -1, 1, 2}
	for {
		candidate := vals[rng.Int(0, 3)]
		if candidate != old {
			return candidate
		}
	}
}
