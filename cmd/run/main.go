// Command run drives a single DQMC replica: it parses ModelParams/MCParams
// from flags, thermalizes, measures, and periodically checkpoints.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/latticemc/dqmc"
	"github.com/latticemc/dqmc/checkpoint"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/params"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "dqmc"), "run directory")

	fL     = flag.Int("L", 4, "linear lattice extent")
	fBC    = flag.String("bc", "pbc", "boundary condition: pbc, apbc-x, apbc-y, apbc-xy")
	fBeta  = flag.Float64("beta", 4, "inverse temperature")
	fM     = flag.Int("m", 0, "number of imaginary-time slices (0: derive from dtau)")
	fDtau  = flag.Float64("dtau", 0.1, "imaginary-time step (ignored if -m is set)")
	fS     = flag.Int("s", 10, "stabilization interval")
	fOPDIM = flag.Int("opdim", 1, "order-parameter dimension, in {1,2,3}")

	fR      = flag.Float64("r", 1, "bosonic mass coupling")
	fU      = flag.Float64("u", 1, "bosonic quartic coupling")
	fLambda = flag.Float64("lambda", 1, "fermion-boson coupling")
	fC      = flag.Float64("c", 1, "boson temporal-derivative velocity")
	fCdwU   = flag.Float64("cdwu", 0, "CDW channel coupling, 0 disables it")

	fTxHor = flag.Float64("txhor", 1, "horizontal hopping, band x")
	fTxVer = flag.Float64("txver", 1, "vertical hopping, band x")
	fTyHor = flag.Float64("tyhor", 1, "horizontal hopping, band y")
	fTyVer = flag.Float64("tyver", 1, "vertical hopping, band y")
	fMuX   = flag.Float64("mux", 0, "chemical potential, band x")
	fMuY   = flag.Float64("muy", 0, "chemical potential, band y")

	fCheckerboard = flag.Bool("checkerboard", false, "use checkerboard hopping decomposition")
	fWeakZFlux    = flag.Bool("weakzflux", false, "apply a weak orbital magnetic field")

	fThermSweeps = flag.Int("therm", 100, "thermalization sweeps")
	fMeasSweeps  = flag.Int("meas", 1000, "measurement sweeps")
	fSeed        = flag.Uint64("seed", 5555, "RNG seed")

	fGrantedWalltime = flag.Uint("walltime", 0, "granted wall-time budget in seconds, 0 disables the check")
	fSaveInterval    = flag.Uint("saveinterval", 100, "sweeps between checkpoint saves")
	fJobID           = flag.String("jobid", "", "job identifier recorded in the checkpoint")
	fAbortFile       = flag.String("abortfile", "", "path polled for cooperative early shutdown")

	fConfigStream       = flag.Bool("configstream", false, "append phi to a text configuration-stream file during measurement")
	fConfigStreamBinary = flag.Bool("configstreambinary", false, "also append phi to a binary configuration-stream file")
)

func buildParams() (*params.ModelParams, *params.MCParams) {
	specified := map[string]bool{"L": true, "D": true, "BC": true, "Beta": true, "OPDIM": true, "S": true}
	if *fM > 0 {
		specified["M"] = true
	} else {
		specified["Dtau"] = true
	}
	p := &params.ModelParams{
		Specified: specified,
		L:         *fL, D: 2, BC: params.BC(*fBC),
		Beta: *fBeta, M: *fM, Dtau: *fDtau, S: *fS, OPDIM: *fOPDIM,
		R: *fR, U: *fU, Lambda: *fLambda, C: *fC, CdwU: *fCdwU,
		TxHor: *fTxHor, TxVer: *fTxVer, TyHor: *fTyHor, TyVer: *fTyVer,
		MuX: *fMuX, MuY: *fMuY,
		Checkerboard: *fCheckerboard, WeakZFlux: *fWeakZFlux,
	}

	jobID := *fJobID
	if jobID == "" {
		jobID = "nojobid"
	}
	mc := &params.MCParams{
		Specified:            map[string]bool{"ThermalizationSweeps": true, "MeasurementSweeps": true},
		ThermalizationSweeps: *fThermSweeps,
		MeasurementSweeps:    *fMeasSweeps,
		GrantedWalltimeSecs:  uint32(*fGrantedWalltime),
		WalltimeSafetyMargin: 5,
		SaveInterval:         uint32(*fSaveInterval),
		JobID:                jobID,
		AbortFilePath:        *fAbortFile,
	}
	return p, mc
}

// configStreamWriter appends phi to a text file, one scalar per line,
// iterating site outer, dim middle, slice innermost.
type configStreamWriter struct {
	text   *os.File
	binary *os.File
	buf    [8]byte
	err    error
}

func newConfigStreamWriter(dir string, p *params.ModelParams, wantBinary bool) (*configStreamWriter, error) {
	textPath := filepath.Join(dir, "phi.stream")
	text, err := os.Create(textPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	header := filepath.Join(dir, "phi.stream.infoheader")
	meta := fmt.Sprintf("L=%d\nOPDIM=%d\nM=%d\norder=site,dim,slice\n", p.L, p.OPDIM, p.M)
	if err := os.WriteFile(header, []byte(meta), 0644); err != nil {
		text.Close()
		return nil, errors.Wrap(err, "")
	}

	w := &configStreamWriter{text: text}
	if wantBinary {
		binPath := filepath.Join(dir, "phi.stream.bin")
		w.binary, err = os.Create(binPath)
		if err != nil {
			text.Close()
			return nil, errors.Wrap(err, "")
		}
		binHeader := filepath.Join(dir, "phi.stream.bin.infoheader")
		binMeta := fmt.Sprintf("L=%d\nOPDIM=%d\nM=%d\norder=site,dim,slice\nencoding=float64le\n", p.L, p.OPDIM, p.M)
		if err := os.WriteFile(binHeader, []byte(binMeta), 0644); err != nil {
			text.Close()
			w.binary.Close()
			return nil, errors.Wrap(err, "")
		}
	}
	return w, nil
}

// appendPhi writes the current phi snapshot across every slice, called once
// per completed measurement sweep rather than per-slice, since phi at a
// given slice only stabilizes once the sweep has passed through it twice
// (once per direction).
func (w *configStreamWriter) appendPhi(cfg *field.Config) {
	if w.err != nil {
		return
	}
	for i := 0; i < cfg.N; i++ {
		for d := 0; d < cfg.OPDIM; d++ {
			for k := 0; k <= cfg.M; k++ {
				v := cfg.Phi[i][d][k]
				if _, err := fmt.Fprintf(w.text, "%.17g\n", v); err != nil {
					w.err = errors.Wrap(err, "")
					return
				}
				if w.binary != nil {
					binary.LittleEndian.PutUint64(w.buf[:], math.Float64bits(v))
					if _, err := w.binary.Write(w.buf[:]); err != nil {
						w.err = errors.Wrap(err, "")
						return
					}
				}
			}
		}
	}
}

func (w *configStreamWriter) Close() error {
	if err := w.text.Close(); err != nil && w.err == nil {
		w.err = errors.Wrap(err, "")
	}
	if w.binary != nil {
		if err := w.binary.Close(); err != nil && w.err == nil {
			w.err = errors.Wrap(err, "")
		}
	}
	return w.err
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	p, mc := buildParams()

	store, err := checkpoint.Open(filepath.Join(*runDir, "checkpoint.db"))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer store.Close()

	replica, err := dqmc.New(p, mc, *fSeed, 0)
	if err != nil {
		return errors.Wrap(err, "")
	}

	if st, loadErr := store.Load(); loadErr == nil {
		if err := replica.Restore(st); err != nil {
			return errors.Wrap(err, "")
		}
		log.Printf("resumed from checkpoint: therm=%d meas=%d", st.SweepsDoneThermalization, st.SweepsDoneMeasurement)
	}

	clock := checkpoint.NewClock(float64(mc.GrantedWalltimeSecs), float64(mc.WalltimeSafetyMargin)/100, mc.AbortFilePath)

	var streamWriter *configStreamWriter
	if *fConfigStream {
		streamWriter, err = newConfigStreamWriter(*runDir, p, *fConfigStreamBinary)
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer streamWriter.Close()
	}

	thermDone, measDone := replica.SweepsDone()
	for sweepIdx := thermDone; sweepIdx < mc.ThermalizationSweeps; sweepIdx++ {
		if _, err := replica.Thermalize(); err != nil {
			return errors.Wrap(err, "sweep driver: thermalization")
		}
		if (sweepIdx+1)%2 == 0 {
			if err := maybeSave(replica, store, mc, sweepIdx+1); err != nil {
				return err
			}
			if clock.ShouldStop() {
				log.Printf("wall-time budget reached during thermalization at sweep %d", sweepIdx)
				return finalSave(replica, store, mc)
			}
		}
	}

	for sweepIdx := measDone; sweepIdx < mc.MeasurementSweeps; sweepIdx++ {
		if _, err := replica.Sweep(nil); err != nil {
			return errors.Wrap(err, "sweep driver: measurement")
		}
		if streamWriter != nil && sweepIdx%mc.SweepsBetweenMeasure == 0 {
			streamWriter.appendPhi(replica.Field)
		}
		if (sweepIdx+1)%2 == 0 {
			if err := maybeSave(replica, store, mc, sweepIdx+1); err != nil {
				return err
			}
			if clock.ShouldStop() {
				log.Printf("wall-time budget reached during measurement at sweep %d", sweepIdx)
				return finalSave(replica, store, mc)
			}
		}
	}

	log.Printf("run complete: therm=%d meas=%d", mc.ThermalizationSweeps, mc.MeasurementSweeps)
	return finalSave(replica, store, mc)
}

func maybeSave(replica *dqmc.Replica, store *checkpoint.Store, mc *params.MCParams, sweepIdx int) error {
	if mc.SaveInterval == 0 || sweepIdx%int(mc.SaveInterval) != 0 {
		return nil
	}
	return finalSave(replica, store, mc)
}

func finalSave(replica *dqmc.Replica, store *checkpoint.Store, mc *params.MCParams) error {
	st := replica.Checkpoint(mc.JobID)
	if err := store.Save(st); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
