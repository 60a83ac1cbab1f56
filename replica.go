// Package dqmc assembles one self-contained determinantal QMC replica out
// of the params/field/hopping/bmat/udv/green/update/sweep/checkpoint
// packages and exposes the thin surface an outer orchestrator (a
// replica-exchange loop, cmd/run) drives: Thermalize, Sweep, checkpoint
// save/restore, and the exchange-parameter hooks parallel tempering across
// replicas needs.
package dqmc

import (
	"math"

	"github.com/pkg/errors"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/checkpoint"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/hopping"
	"github.com/latticemc/dqmc/params"
	"github.com/latticemc/dqmc/rng"
	"github.com/latticemc/dqmc/sweep"
	"github.com/latticemc/dqmc/update"
)

// Replica owns every piece of a single DQMC walker's state. No package
// level singleton exists: each Replica carries its own RNG, its own field
// configuration, its own Green's function and UdV chain.
type Replica struct {
	P  *params.ModelParams
	MC *params.MCParams

	RNG *rng.Wrapper

	Field   *field.Config
	Nb      *field.Neighbors
	Hopping *hopping.Cache
	Fac     *bmat.Factory

	LocalAdj    *update.AdjustmentState
	LocalStat   *update.UpdateStatistics
	GlobalStat  *update.UpdateStatistics
	LocalUpdate *update.Local
	Global      *update.Global

	Driver *sweep.Driver

	sweepsDoneThermalization int
	sweepsDoneMeasurement    int
}

// New validates p and mc, builds every component and the initial UdV
// chain/Green's function, and returns a ready-to-run Replica.
func New(p *params.ModelParams, mc *params.MCParams, seed uint64, processIndex uint32) (*Replica, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "dqmc: invalid model params")
	}
	if err := mc.Validate(); err != nil {
		return nil, errors.Wrap(err, "dqmc: invalid mc params")
	}

	h, err := hopping.Build(p)
	if err != nil {
		return nil, errors.Wrap(err, "dqmc: build hopping cache")
	}
	cfg := field.New(p.N(), p.OPDIM, p.M, p.Lambda, p.Dtau, p.CdwU)
	fac := bmat.New(p, cfg, h)
	nb := field.NewNeighbors(p.L)

	rw := rng.New(seed, processIndex)

	localAdj := update.NewAdjustmentState(p, mc)
	localStat := &update.UpdateStatistics{}
	globalStat := &update.UpdateStatistics{}

	localUpdate := &update.Local{P: p, MC: mc, Fac: fac, Nb: nb, Rng: rw, Adj: localAdj, Stat: localStat}
	global := &update.Global{P: p, Fac: fac, Nb: nb, Rng: rw, Adj: localAdj, Stat: globalStat}

	driver, err := sweep.New(p, mc, fac, cfg, nb, localUpdate, global)
	if err != nil {
		return nil, errors.Wrap(err, "dqmc: build sweep driver")
	}

	return &Replica{
		P: p, MC: mc, RNG: rw,
		Field: cfg, Nb: nb, Hopping: h, Fac: fac,
		LocalAdj: localAdj, LocalStat: localStat, GlobalStat: globalStat,
		LocalUpdate: localUpdate, Global: global,
		Driver: driver,
	}, nil
}

// Thermalize runs one thermalization sweep and returns the global-move
// results attempted at this sweep's cadence.
func (r *Replica) Thermalize() ([]update.GlobalMoveResult, error) {
	r.sweepsDoneThermalization++
	return r.Driver.RunThermalizationSweep(r.sweepsDoneThermalization)
}

// Sweep runs one measurement sweep, invoking meas at each timeslice
// (nil to skip measurement, e.g. for burn-in between recorded samples).
func (r *Replica) Sweep(meas sweep.Measurer) ([]update.GlobalMoveResult, error) {
	r.sweepsDoneMeasurement++
	return r.Driver.RunOneSweep(r.sweepsDoneMeasurement, meas)
}

// SweepsDone reports the thermalization and measurement sweep counters,
// the pair persisted in checkpoint.State.
func (r *Replica) SweepsDone() (thermalization, measurement int) {
	return r.sweepsDoneThermalization, r.sweepsDoneMeasurement
}

// GetExchangeParameter returns the replica's current mass-term coupling r,
// the parameter tempering exchanges are performed over.
func (r *Replica) GetExchangeParameter() float64 {
	return r.P.R
}

// SetExchangeParameter installs a new r following an accepted replica
// exchange. Only the bosonic action depends on r; no cached propagator or
// UdV/Green state depends on it, so no rebuild is required.
func (r *Replica) SetExchangeParameter(rNew float64) {
	r.P.R = rNew
}

// GetExchangeActionContribution returns (dτ/2) Σ|φ|², the r-independent
// half of the bosonic action a replica-exchange orchestrator needs to
// compute the swap probability p_swap = min(1, exp(-(r_A-r_B)(S_B-S_A))).
func (r *Replica) GetExchangeActionContribution() float64 {
	return r.Field.ExchangeActionContribution()
}

// SwapProbability computes the Metropolis acceptance probability for
// exchanging replicas a and b's exchange parameters.
func SwapProbability(rA, rB, sA, sB float64) float64 {
	logP := -(rA - rB) * (sB - sA)
	if logP >= 0 {
		return 1
	}
	return math.Exp(logP)
}

// Checkpoint captures everything checkpoint.State needs to resume this
// replica later.
func (r *Replica) Checkpoint(jobID string) *checkpoint.State {
	rngBytes, err := r.RNG.MarshalBinary()
	if err != nil {
		rngBytes = nil
	}
	return &checkpoint.State{
		JobID:                    jobID,
		SweepsDoneThermalization: r.sweepsDoneThermalization,
		SweepsDoneMeasurement:    r.sweepsDoneMeasurement,
		LastSweepDir:             r.Driver.LastSweepDir,
		Field:                    r.Field.Clone(),
		RNG:                      rngBytes,
		Adjustment:               r.LocalAdj,
		LocalStat:                r.LocalStat,
		GlobalStat:               r.GlobalStat,
	}
}

// Restore installs a previously saved checkpoint.State back into the
// replica. HoppingCache and the UdV chain/Green state are never trusted
// from a checkpoint: they are rebuilt from the restored FieldConfig via a
// fresh sweep.Driver.
func (r *Replica) Restore(st *checkpoint.State) error {
	if err := r.RNG.UnmarshalBinary(st.RNG); err != nil {
		return errors.Wrap(err, "dqmc: restore rng state")
	}
	r.Field.Restore(st.Field)
	if st.Adjustment != nil {
		*r.LocalAdj = *st.Adjustment
	}
	if st.LocalStat != nil {
		*r.LocalStat = *st.LocalStat
	}
	if st.GlobalStat != nil {
		*r.GlobalStat = *st.GlobalStat
	}
	r.sweepsDoneThermalization = st.SweepsDoneThermalization
	r.sweepsDoneMeasurement = st.SweepsDoneMeasurement

	driver, err := sweep.New(r.P, r.MC, r.Fac, r.Field, r.Nb, r.LocalUpdate, r.Global)
	if err != nil {
		return errors.Wrap(err, "dqmc: rebuild sweep state after restore")
	}
	driver.LastSweepDir = st.LastSweepDir
	r.Driver = driver
	return nil
}
