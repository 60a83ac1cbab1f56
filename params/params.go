// Package params holds the typed, validated configuration of a DQMC
// replica: the lattice/model constants (ModelParams) and the outer
// Monte Carlo loop's controls (MCParams).
package params

import (
	"github.com/pkg/errors"
)

// BC is a lattice boundary condition.
type BC string

const (
	PBC     BC = "pbc"
	APBCX   BC = "apbc-x"
	APBCY   BC = "apbc-y"
	APBCXY  BC = "apbc-xy"
	bcEmpty BC = ""
)

func (bc BC) valid() bool {
	switch bc {
	case PBC, APBCX, APBCY, APBCXY:
		return true
	default:
		return false
	}
}

// ProposalMethod selects the local update proposal kind for the continuous
// auxiliary field.
type ProposalMethod string

const (
	ProposalBox             ProposalMethod = "box"
	ProposalRotate          ProposalMethod = "rotate"
	ProposalScale           ProposalMethod = "scale"
	ProposalRotateThenScale ProposalMethod = "rotate_then_scale"
	ProposalRotateAndScale  ProposalMethod = "rotate_and_scale"
)

// UpdateMethod selects how the local updater applies an accepted Green's
// function change.
type UpdateMethod string

const (
	UpdateIterative UpdateMethod = "iterative" // Sherman-Morrison
	UpdateWoodbury  UpdateMethod = "woodbury"
	UpdateDelayed   UpdateMethod = "delayed"
)

// ModelParams is the model's physical and lattice configuration. It is
// immutable after Validate succeeds. Specified records, by field name,
// which options the caller actually set, so Validate can reject ambiguous
// or incomplete input.
type ModelParams struct {
	Specified map[string]bool

	// Lattice.
	L  int // linear extent
	D  int // dimension, must be 2
	BC BC

	// Time discretization: exactly one of M, Dtau must be specified;
	// Beta must always be specified. Beta = float64(M) * Dtau.
	Beta float64
	M    int
	Dtau float64
	S    int // stabilization interval; N = ceil(M/S) checkpoints

	// OPDIM in {1,2,3}: number of real components of the auxiliary field.
	OPDIM int

	// Interaction strengths.
	R      float64
	U      float64
	Lambda float64
	C      float64
	CdwU   float64 // 0 disables the CDW channel

	// Anisotropic hoppings.
	TxHor, TxVer, TyHor, TyVer float64
	MuX, MuY                   float64

	// Flags.
	Checkerboard            bool
	WeakZFlux               bool
	TurnoffFermions         bool
	Phi2Bosons              bool
	PhiFixed                bool
	GlobalShift             bool
	WolffClusterUpdate      bool
	WolffClusterShiftUpdate bool
	OverRelaxation          bool

	// Update tuning.
	Proposal             ProposalMethod
	UpdateMethodKind     UpdateMethod
	AdaptScaleVariance   bool
	DelaySteps           int
	AccRatio             float64
	RepeatUpdateInSlice  int
	RepeatWolffPerSweep  int
	GlobalUpdateInterval int
}

// N returns the number of lattice sites.
func (p ModelParams) N() int {
	n := 1
	for i := 0; i < p.D; i++ {
		n *= p.L
	}
	return n
}

// NCheckpoints returns n = ceil(m/s), the number of UdV chain checkpoints.
func (p ModelParams) NCheckpoints() int {
	if p.S == 0 {
		return 0
	}
	return (p.M + p.S - 1) / p.S
}

// MSF returns the matrix-size factor: 2 for OPDIM in {1,2}, 4 for OPDIM==3.
func (p ModelParams) MSF() int {
	if p.OPDIM == 3 {
		return 4
	}
	return 2
}

// ComplexGreen reports whether the Green's function element type must be
// complex: true iff OPDIM>=2 or a magnetic field is present.
func (p ModelParams) ComplexGreen() bool {
	return p.OPDIM >= 2 || p.WeakZFlux
}

func has(specified map[string]bool, name string) bool {
	return specified != nil && specified[name]
}

// Validate rejects the three fatal-at-initialization error kinds: missing
// parameter, inconsistent parameter, invalid parameter value.
func (p *ModelParams) Validate() error {
	spec := p.Specified
	required := []string{"L", "D", "BC", "Beta", "OPDIM", "S"}
	for _, name := range required {
		if !has(spec, name) {
			return errors.Errorf("params: missing required parameter %q", name)
		}
	}

	mSpecified, dtauSpecified := has(spec, "M"), has(spec, "Dtau")
	switch {
	case mSpecified && dtauSpecified:
		return errors.Errorf("params: inconsistent parameters: both M and Dtau specified")
	case !mSpecified && !dtauSpecified:
		return errors.Errorf("params: missing parameter: neither M nor Dtau specified")
	case mSpecified:
		if p.M <= 0 {
			return errors.Errorf("params: invalid M %d", p.M)
		}
		p.Dtau = p.Beta / float64(p.M)
	default:
		if p.Dtau <= 0 {
			return errors.Errorf("params: invalid Dtau %f", p.Dtau)
		}
		m := p.Beta / p.Dtau
		p.M = int(m + 0.5)
		if p.M <= 0 {
			return errors.Errorf("params: invalid derived M %d", p.M)
		}
	}

	if p.Beta <= 0 {
		return errors.Errorf("params: invalid Beta %f", p.Beta)
	}
	if p.L <= 0 {
		return errors.Errorf("params: invalid L %d", p.L)
	}
	if p.D != 2 {
		return errors.Errorf("params: invalid D %d, only D=2 lattices are supported", p.D)
	}
	if !p.BC.valid() {
		return errors.Errorf("params: invalid BC %q", p.BC)
	}
	if p.OPDIM < 1 || p.OPDIM > 3 {
		return errors.Errorf("params: invalid OPDIM %d, must be in {1,2,3}", p.OPDIM)
	}
	if p.S <= 0 {
		return errors.Errorf("params: invalid S %d", p.S)
	}
	if p.M%p.S != 0 {
		return errors.Errorf("params: S=%d does not divide M=%d", p.S, p.M)
	}
	if p.M/p.S < 2 {
		return errors.Errorf("params: M/S=%d must be >= 2", p.M/p.S)
	}

	if p.Proposal == "" {
		p.Proposal = ProposalBox
	}
	if p.Proposal == ProposalRotate || p.Proposal == ProposalScale ||
		p.Proposal == ProposalRotateThenScale || p.Proposal == ProposalRotateAndScale {
		if p.OPDIM != 3 {
			return errors.Errorf("params: proposal %q requires OPDIM=3, got %d", p.Proposal, p.OPDIM)
		}
	}
	if p.UpdateMethodKind == "" {
		p.UpdateMethodKind = UpdateWoodbury
	}
	if p.UpdateMethodKind == UpdateDelayed && p.DelaySteps <= 0 {
		return errors.Errorf("params: delayed update requires DelaySteps > 0")
	}
	if p.RepeatUpdateInSlice <= 0 {
		p.RepeatUpdateInSlice = 1
	}
	if p.GlobalUpdateInterval <= 0 {
		p.GlobalUpdateInterval = 1
	}
	if p.RepeatWolffPerSweep <= 0 {
		p.RepeatWolffPerSweep = 1
	}

	return nil
}

// MCParams controls the outer Monte Carlo loop: thermalization/measurement
// sweep counts, wall-time budget, and checkpoint cadence.
type MCParams struct {
	Specified map[string]bool

	ThermalizationSweeps int
	MeasurementSweeps    int
	SweepsBetweenMeasure int // measure every k-th measurement sweep

	AccRatioAdjustmentSamples int
	TargetAccRatio            float64
	MinPhiDelta, MaxPhiDelta  float64
	ShrinkFactor, GrowFactor  float64
	MinAngleDelta             float64
	MaxAngleDelta             float64
	MinScaleDelta             float64
	MaxScaleDelta             float64

	GrantedWalltimeSecs uint32
	WalltimeSafetyMargin uint32
	SaveInterval         uint32 // sweeps between checkpoint saves
	JobID                string

	StateFilePath  string
	AbortFilePath  string
}

// Validate checks MCParams for missing/invalid values.
func (p *MCParams) Validate() error {
	if !has(p.Specified, "ThermalizationSweeps") && !has(p.Specified, "MeasurementSweeps") {
		return errors.Errorf("mcparams: missing sweep counts")
	}
	if p.ThermalizationSweeps < 0 || p.MeasurementSweeps < 0 {
		return errors.Errorf("mcparams: negative sweep count")
	}
	if p.SweepsBetweenMeasure <= 0 {
		p.SweepsBetweenMeasure = 1
	}
	if p.AccRatioAdjustmentSamples <= 0 {
		p.AccRatioAdjustmentSamples = 100
	}
	if p.TargetAccRatio <= 0 || p.TargetAccRatio >= 1 {
		p.TargetAccRatio = 0.5
	}
	if p.ShrinkFactor <= 0 || p.ShrinkFactor >= 1 {
		p.ShrinkFactor = 0.95
	}
	if p.GrowFactor <= 1 {
		p.GrowFactor = 1.05
	}
	if p.JobID == "" {
		p.JobID = "nojobid"
	}
	return nil
}
