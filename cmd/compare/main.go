// Command compare builds two replicas that differ only in whether they use
// the checkerboard hopping decomposition, runs them through the same
// sequence of thermalization sweeps from the same RNG seed, and reports how
// far their Green's functions diverge.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/latticemc/dqmc"
	"github.com/latticemc/dqmc/params"
)

var (
	fL    = flag.Int("L", 4, "linear lattice extent")
	fBeta = flag.Float64("beta", 10, "inverse temperature")
	fSeed = flag.Uint64("seed", 5555, "RNG seed shared by both replicas")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func setupParams(checkerboard bool, dtau float64, s int, bc params.BC, l int, beta float64) *params.ModelParams {
	return &params.ModelParams{
		Specified:    map[string]bool{"L": true, "D": true, "BC": true, "Beta": true, "OPDIM": true, "S": true, "Dtau": true},
		L:            l,
		D:            2,
		BC:           bc,
		Beta:         beta,
		Dtau:         dtau,
		S:            s,
		OPDIM:        1,
		R:            1.0,
		TxHor:        -1.0,
		TxVer:        -0.5,
		TyHor:        0.5,
		TyVer:        1.0,
		MuX:          0.5,
		MuY:          0.5,
		Checkerboard: checkerboard,
	}
}

type diffStats struct {
	dtau                                                     float64
	minAbs, maxAbs, meanAbs, minRel, maxRel, meanRel float64
}

func compare(l int, beta, dtau float64, s int, bc params.BC) (diffStats, error) {
	mc := &params.MCParams{Specified: map[string]bool{"ThermalizationSweeps": true}, ThermalizationSweeps: 2, MeasurementSweeps: 0,
		AccRatioAdjustmentSamples: 1000000, TargetAccRatio: 0.5, ShrinkFactor: 0.9, GrowFactor: 1.1, MinPhiDelta: 0.01, MaxPhiDelta: 10}

	pCb := setupParams(true, dtau, s, bc, l, beta)
	rCb, err := dqmc.New(pCb, mc, *fSeed, 0)
	if err != nil {
		return diffStats{}, errors.Wrap(err, "checkerboard replica")
	}

	pReg := setupParams(false, dtau, s, bc, l, beta)
	rReg, err := dqmc.New(pReg, mc, *fSeed, 0)
	if err != nil {
		return diffStats{}, errors.Wrap(err, "dense replica")
	}

	for i := 0; i < 2; i++ {
		if _, err := rCb.Thermalize(); err != nil {
			return diffStats{}, errors.Wrap(err, "checkerboard sweep")
		}
		if _, err := rReg.Thermalize(); err != nil {
			return diffStats{}, errors.Wrap(err, "dense sweep")
		}
	}

	gCb, gReg := rCb.Driver.G, rReg.Driver.G
	rows, cols := gReg.Dims()

	stats := diffStats{dtau: dtau}
	stats.minAbs, stats.minRel = 1e300, 1e300
	n := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			reg := gReg.At(i, j)
			cb := gCb.At(i, j)
			absDiff := cmplx.Abs(reg - cb)
			relDiff := absDiff / cmplx.Abs(reg)

			if absDiff < stats.minAbs {
				stats.minAbs = absDiff
			}
			if absDiff > stats.maxAbs {
				stats.maxAbs = absDiff
			}
			if relDiff < stats.minRel {
				stats.minRel = relDiff
			}
			if relDiff > stats.maxRel {
				stats.maxRel = relDiff
			}
			stats.meanAbs += absDiff
			stats.meanRel += relDiff
			n++
		}
	}
	if n > 0 {
		stats.meanAbs /= float64(n)
		stats.meanRel /= float64(n)
	}
	return stats, nil
}

func mainWithErr() error {
	bcValues := []params.BC{params.APBCX, params.PBC}
	dtauValues := []float64{0.1}
	sValues := []int{10, 1}

	for _, bc := range bcValues {
		for _, s := range sValues {
			fmt.Printf("%s, s = %d\n", bc, s)
			fmt.Println("dtau\tAbsMin\tAbsMax\tAbsMean\tRelMin\tRelMax\tRelMean")
			for _, dtau := range dtauValues {
				stats, err := compare(*fL, *fBeta, dtau, s, bc)
				if err != nil {
					return errors.Wrap(err, "")
				}
				fmt.Printf("%g\t%g\t%g\t%g\t%g\t%g\t%g\n",
					stats.dtau, stats.minAbs, stats.maxAbs, stats.meanAbs, stats.minRel, stats.maxRel, stats.meanRel)
			}
			fmt.Println()
		}
	}
	return nil
}
