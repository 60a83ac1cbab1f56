// Package sweep drives the up/down sweep state machine over imaginary time,
// coordinating the B-matrix factory, the UdV chain, the Green's function
// state and the local/global updaters.
package sweep

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/green"
	"github.com/latticemc/dqmc/params"
	"github.com/latticemc/dqmc/udv"
	"github.com/latticemc/dqmc/update"
)

// Direction is the last-completed sweep direction.
type Direction int

const (
	Up Direction = iota
	Down
)

// Measurer is the pure-observer hook called at each slice during a
// measurement sweep.
type Measurer interface {
	InitMeasurements()
	Measure(k int, g *mat.CDense, cfg *field.Config)
	FinishMeasurements()
}

// Driver owns the per-replica sweep state machine.
type Driver struct {
	P    *params.ModelParams
	MC   *params.MCParams
	Fac  *bmat.Factory
	Cfg  *field.Config
	Nb   *field.Neighbors
	Local  *update.Local
	Global *update.Global

	G     *mat.CDense
	Chain *udv.Chain

	LastSweepDir Direction

	dim int
	n   int
}

// New builds a Driver with a freshly rebuilt UdV chain and G(0), both
// computed from cfg's current field, since Green's function state must never
// be trusted after a restart until rebuilt. fac (and its hopping cache) is
// used as given.
func New(p *params.ModelParams, mc *params.MCParams, fac *bmat.Factory, cfg *field.Config, nb *field.Neighbors, local *update.Local, global *update.Global) (*Driver, error) {
	dim := p.N() * p.MSF()
	n := p.NCheckpoints()
	chain, err := udv.RebuildFromScratch(fac.Kind, fac, n, p.S, p.M, dim)
	if err != nil {
		return nil, errors.Wrap(err, "sweep: initial chain rebuild")
	}
	g, err := green.AssembleAtBeta(fac.Kind, chain.Storage[n])
	if err != nil {
		return nil, errors.Wrap(err, "sweep: initial G assembly")
	}
	return &Driver{
		P: p, MC: mc, Fac: fac, Cfg: cfg, Nb: nb, Local: local, Global: global,
		G: g, Chain: chain, LastSweepDir: Up, dim: dim, n: n,
	}, nil
}

// DownSweep processes k=m,...,1. meas is optional; pass nil outside
// measurement sweeps.
func (d *Driver) DownSweep(meas Measurer) error {
	if meas != nil {
		meas.InitMeasurements()
	}
	down := udv.NewIdentity(d.Fac.Kind, d.n, d.dim)

	for k := d.P.M; k > (d.n-1)*d.P.S; k-- {
		if err := d.Local.Run(d.Cfg, d.G, k); err != nil {
			return errors.Wrapf(err, "sweep: down-sweep local update at k=%d", k)
		}
		d.G = green.WrapUp(d.G, d.Fac, k)
		if meas != nil {
			meas.Measure(k, d.G, d.Cfg)
		}
	}

	for l := d.n - 1; l >= 1; l-- {
		if err := down.AdvanceDown(l+1, d.Fac, l*d.P.S, (l+1)*d.P.S); err != nil {
			return errors.Wrapf(err, "sweep: advance-down at l=%d", l)
		}
		for k := l * d.P.S; k > (l-1)*d.P.S; k-- {
			if err := d.Local.Run(d.Cfg, d.G, k); err != nil {
				return errors.Wrapf(err, "sweep: down-sweep local update at k=%d", k)
			}
			d.G = green.WrapUp(d.G, d.Fac, k)
			if meas != nil {
				meas.Measure(k, d.G, d.Cfg)
			}
		}
	}
	if err := down.AdvanceDown(1, d.Fac, 0, d.P.S); err != nil {
		return errors.Wrap(err, "sweep: final advance-down to l=0")
	}

	d.Chain = down
	freshG, err := green.AssembleAtBeta(d.Fac.Kind, down.Storage[0])
	if err != nil {
		return errors.Wrap(err, "sweep: final G(0) assembly")
	}
	d.G = freshG
	d.LastSweepDir = Down
	if meas != nil {
		meas.FinishMeasurements()
	}
	return nil
}

// UpSweep processes k=1,...,m.
func (d *Driver) UpSweep(meas Measurer) error {
	if meas != nil {
		meas.InitMeasurements()
	}
	up := udv.NewIdentity(d.Fac.Kind, d.n, d.dim)

	for l := 0; l <= d.n-2; l++ {
		for k := l*d.P.S + 1; k <= (l+1)*d.P.S; k++ {
			d.G = green.WrapDown(d.G, d.Fac, k-1)
			if err := d.Local.Run(d.Cfg, d.G, k); err != nil {
				return errors.Wrapf(err, "sweep: up-sweep local update at k=%d", k)
			}
			if meas != nil {
				meas.Measure(k, d.G, d.Cfg)
			}
		}
		if err := up.AdvanceUp(l, d.Fac, l*d.P.S, (l+1)*d.P.S); err != nil {
			return errors.Wrapf(err, "sweep: advance-up at l=%d", l)
		}
	}

	for k := (d.n-1)*d.P.S + 1; k <= d.P.M; k++ {
		d.G = green.WrapDown(d.G, d.Fac, k-1)
		if err := d.Local.Run(d.Cfg, d.G, k); err != nil {
			return errors.Wrapf(err, "sweep: up-sweep final local update at k=%d", k)
		}
		if meas != nil {
			meas.Measure(k, d.G, d.Cfg)
		}
	}
	if err := up.AdvanceUp(d.n-1, d.Fac, (d.n-1)*d.P.S, d.P.M); err != nil {
		return errors.Wrap(err, "sweep: final advance-up")
	}

	d.Chain = up
	d.LastSweepDir = Up
	if meas != nil {
		meas.FinishMeasurements()
	}
	return nil
}

// RunOneSweep runs a down- or up-sweep depending on LastSweepDir, then
// attempts the configured global moves at the configured cadence.
// sweepIndex is the 1-based count of sweeps run so far, used against
// GlobalUpdateInterval.
func (d *Driver) RunOneSweep(sweepIndex int, meas Measurer) ([]update.GlobalMoveResult, error) {
	d.Local.Thermalizing = false
	return d.runSweep(sweepIndex, meas)
}

func (d *Driver) runSweep(sweepIndex int, meas Measurer) ([]update.GlobalMoveResult, error) {
	var err error
	if d.LastSweepDir == Up {
		err = d.DownSweep(meas)
	} else {
		err = d.UpSweep(meas)
	}
	if err != nil {
		return nil, err
	}

	var results []update.GlobalMoveResult
	if d.Global == nil || d.P.GlobalUpdateInterval <= 0 || sweepIndex%d.P.GlobalUpdateInterval != 0 {
		return results, nil
	}

	// Global moves read B(beta,0) from the last slot of an up-sweep chain; a
	// down sweep leaves it in slot 0 instead, so rebuild an up chain first.
	if d.LastSweepDir == Down && (d.P.GlobalShift || d.P.WolffClusterUpdate || d.P.WolffClusterShiftUpdate) {
		up, err := udv.RebuildFromScratch(d.Fac.Kind, d.Fac, d.n, d.P.S, d.P.M, d.dim)
		if err != nil {
			return results, errors.Wrap(err, "sweep: up chain for global moves")
		}
		d.Chain = up
	}

	if d.P.GlobalShift {
		res, err := d.Global.UniformShift(d.Cfg, &d.G, &d.Chain, d.n, d.P.S, d.P.M, d.dim)
		if err != nil {
			return results, errors.Wrap(err, "sweep: uniform shift")
		}
		results = append(results, res)
	}
	if d.P.WolffClusterUpdate {
		for i := 0; i < d.P.RepeatWolffPerSweep; i++ {
			res, err := d.Global.WolffCluster(d.Cfg, &d.G, &d.Chain, d.n, d.P.S, d.P.M, d.dim)
			if err != nil {
				return results, errors.Wrap(err, "sweep: wolff cluster")
			}
			results = append(results, res)
		}
	}
	if d.P.WolffClusterShiftUpdate {
		res, err := d.Global.CombinedClusterShift(d.Cfg, &d.G, &d.Chain, d.n, d.P.S, d.P.M, d.dim)
		if err != nil {
			return results, errors.Wrap(err, "sweep: combined cluster+shift")
		}
		results = append(results, res)
	}
	return results, nil
}

// RunThermalizationSweep is identical to RunOneSweep but marks the local
// updater as thermalizing first, so each local update's acceptance folds
// into d.Local.Adj's running ratio and retunes the proposal step sizes;
// RunOneSweep clears the flag so measurement sweeps run with step sizes
// frozen at whatever thermalization last settled on.
func (d *Driver) RunThermalizationSweep(sweepIndex int) ([]update.GlobalMoveResult, error) {
	d.Local.Thermalizing = true
	return d.runSweep(sweepIndex, nil)
}
