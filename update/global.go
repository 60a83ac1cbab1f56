package update

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/latticemc/dqmc/bmat"
	"github.com/latticemc/dqmc/field"
	"github.com/latticemc/dqmc/green"
	"github.com/latticemc/dqmc/latmat"
	"github.com/latticemc/dqmc/params"
	"github.com/latticemc/dqmc/udv"
)

// Global runs the uniform-shift, Wolff single-cluster, and combined global
// moves.
type Global struct {
	P    *params.ModelParams
	Fac  *bmat.Factory
	Nb   *field.Neighbors
	Rng  RNG
	Adj  *AdjustmentState
	Stat *UpdateStatistics
}

// fermionLogRatio takes the up-sweep chains of the old and the proposed
// configuration and returns log(det(G_old)/det(G_new)) via a singular
// value ratio, without ever forming a full determinant directly.
func (gl *Global) fermionLogRatio(oldChain, newChain *udv.Chain) (float64, error) {
	oldVals, err := gInverseSingularValues(gl.Fac.Kind, oldChain)
	if err != nil {
		return 0, errors.Wrap(err, "update: old G^-1 singular values")
	}
	newVals, err := gInverseSingularValues(gl.Fac.Kind, newChain)
	if err != nil {
		return 0, errors.Wrap(err, "update: new G^-1 singular values")
	}
	if len(oldVals) != len(newVals) {
		return 0, errors.New("update: mismatched singular value counts")
	}
	var logRatio float64
	for j := range oldVals {
		logRatio += math.Log(newVals[j]) - math.Log(oldVals[j])
	}
	if gl.P.OPDIM == 1 || gl.P.OPDIM == 2 {
		logRatio *= 2
	}
	return logRatio, nil
}

// gInverseSingularValues returns the singular values of G(beta)^{-1} = I +
// B(beta,0) at the fully advanced up-sweep chain's final slot, via a fresh
// factorization of I+B(beta,0) rather than the chain's own d-values: in
// general chain.Storage[n] = U*diag(d)*V with non-trivial unitary U, V, so
// the singular values of I+U*diag(d)*V are not simply 1+d.
func gInverseSingularValues(kind latmat.Kind, chain *udv.Chain) ([]float64, error) {
	last := chain.Storage[len(chain.Storage)-1]
	return green.GInverseSingularValuesAtBeta(kind, last)
}

// rebuildChainAndG rebuilds the full up-sweep chain from cfg's current
// field configuration and assembles G(0).
func rebuildChainAndG(kind latmat.Kind, fac *bmat.Factory, n, s, m, dim int) (*udv.Chain, *mat.CDense, error) {
	chain, err := udv.RebuildFromScratch(kind, fac, n, s, m, dim)
	if err != nil {
		return nil, nil, err
	}
	g, err := green.AssembleAtBeta(kind, chain.Storage[n])
	if err != nil {
		return nil, nil, err
	}
	return chain, g, nil
}

// UniformShift shifts every site's phi by the same random delta. On
// acceptance it mutates cfg, g and chain in place; on rejection it leaves them
// unchanged (the caller is expected to have already snapshotted them if it
// wants a true rollback across a combined move).
func (gl *Global) UniformShift(cfg *field.Config, g **mat.CDense, chain **udv.Chain, n, s, m, dim int) (GlobalMoveResult, error) {
	phiDelta := gl.Adj.PhiDelta
	delta := make([]float64, gl.P.OPDIM)
	for d := range delta {
		delta[d] = gl.Rng.Range(-phiDelta, phiDelta)
	}

	before := cfg.Action(gl.Nb, gl.P.R, gl.P.U, gl.P.C, gl.P.Phi2Bosons)
	snapshot := cfg.Clone()
	for i := 0; i < gl.P.N(); i++ {
		for k := 1; k <= gl.P.M; k++ {
			v := sliceAt(cfg, i, k)
			for d := range v {
				v[d] += delta[d]
			}
			cfg.SetPhi(i, k, v)
		}
	}
	cfg.SyncBoundary()
	after := cfg.Action(gl.Nb, gl.P.R, gl.P.U, gl.P.C, gl.P.Phi2Bosons)
	bosonicLogP := -(after - before)

	newChain, newG, err := rebuildChainAndG(gl.Fac.Kind, gl.Fac, n, s, m, dim)
	if err != nil {
		cfg.Restore(snapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: uniform shift rebuild")
	}
	fermionLogP, err := gl.fermionLogRatio(*chain, newChain)
	if err != nil {
		cfg.Restore(snapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: uniform shift fermion ratio")
	}

	combined := bosonicLogP + fermionLogP
	accepted := combined >= 0 || gl.Rng.Float64() < math.Exp(combined)
	if gl.Stat != nil {
		gl.Stat.RecordGlobal(accepted)
	}
	result := GlobalMoveResult{Kind: "uniform_shift", Accepted: accepted, BosonicLogP: bosonicLogP, FermionLogP: fermionLogP, CombinedLogP: combined}
	if !accepted {
		cfg.Restore(snapshot)
		return result, nil
	}
	*g, *chain = newG, newChain
	return result, nil
}

// clusterSite identifies one space-time lattice point.
type clusterSite struct {
	site, slice int
}

// WolffCluster runs a single Wolff-cluster move: grows a cluster via bond
// activation on the space-time graph, flips the
// r-projected component at every visited site, then accepts purely on the
// fermion ratio.
func (gl *Global) WolffCluster(cfg *field.Config, g **mat.CDense, chain **udv.Chain, n, s, m, dim int) (GlobalMoveResult, error) {
	r := randomDirection(gl.Rng, gl.P.OPDIM)

	seed := clusterSite{site: gl.Rng.Int(0, gl.P.N()-1), slice: gl.Rng.Int(1, gl.P.M)}
	visited := gl.growCluster(cfg, r, seed)

	snapshot := cfg.Clone()
	for cs := range visited {
		v := sliceAt(cfg, cs.site, cs.slice)
		proj := dot(v, r)
		for d := range v {
			v[d] -= 2 * proj * r[d]
		}
		cfg.SetPhi(cs.site, cs.slice, v)
	}
	cfg.SyncBoundary()

	newChain, newG, err := rebuildChainAndG(gl.Fac.Kind, gl.Fac, n, s, m, dim)
	if err != nil {
		cfg.Restore(snapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: wolff cluster rebuild")
	}
	fermionLogP, err := gl.fermionLogRatio(*chain, newChain)
	if err != nil {
		cfg.Restore(snapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: wolff cluster fermion ratio")
	}

	accepted := fermionLogP >= 0 || gl.Rng.Float64() < math.Exp(fermionLogP)
	if gl.Stat != nil {
		gl.Stat.RecordGlobal(accepted)
	}
	result := GlobalMoveResult{Kind: "wolff_cluster", Accepted: accepted, BosonicLogP: 0, FermionLogP: fermionLogP, CombinedLogP: fermionLogP}
	if !accepted {
		cfg.Restore(snapshot)
		return result, nil
	}
	*g, *chain = newG, newChain
	return result, nil
}

// CombinedClusterShift runs a combined move: a Wolff flip followed
// immediately by a uniform shift, tested jointly against the pre-move
// state.
func (gl *Global) CombinedClusterShift(cfg *field.Config, g **mat.CDense, chain **udv.Chain, n, s, m, dim int) (GlobalMoveResult, error) {
	preSnapshot := cfg.Clone()
	preG, preChain := *g, *chain

	r := randomDirection(gl.Rng, gl.P.OPDIM)
	seed := clusterSite{site: gl.Rng.Int(0, gl.P.N()-1), slice: gl.Rng.Int(1, gl.P.M)}
	visited := gl.growCluster(cfg, r, seed)
	for cs := range visited {
		v := sliceAt(cfg, cs.site, cs.slice)
		proj := dot(v, r)
		for d := range v {
			v[d] -= 2 * proj * r[d]
		}
		cfg.SetPhi(cs.site, cs.slice, v)
	}

	phiDelta := gl.Adj.PhiDelta
	delta := make([]float64, gl.P.OPDIM)
	for d := range delta {
		delta[d] = gl.Rng.Range(-phiDelta, phiDelta)
	}
	before := cfg.Action(gl.Nb, gl.P.R, gl.P.U, gl.P.C, gl.P.Phi2Bosons)
	for i := 0; i < gl.P.N(); i++ {
		for k := 1; k <= gl.P.M; k++ {
			v := sliceAt(cfg, i, k)
			for d := range v {
				v[d] += delta[d]
			}
			cfg.SetPhi(i, k, v)
		}
	}
	cfg.SyncBoundary()
	after := cfg.Action(gl.Nb, gl.P.R, gl.P.U, gl.P.C, gl.P.Phi2Bosons)
	bosonicLogP := -(after - before)

	newChain, newG, err := rebuildChainAndG(gl.Fac.Kind, gl.Fac, n, s, m, dim)
	if err != nil {
		cfg.Restore(preSnapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: combined move rebuild")
	}
	fermionLogP, err := gl.fermionLogRatio(preChain, newChain)
	if err != nil {
		cfg.Restore(preSnapshot)
		return GlobalMoveResult{}, errors.Wrap(err, "update: combined move fermion ratio")
	}

	combined := bosonicLogP + fermionLogP
	accepted := combined >= 0 || gl.Rng.Float64() < math.Exp(combined)
	if gl.Stat != nil {
		gl.Stat.RecordGlobal(accepted)
	}
	result := GlobalMoveResult{Kind: "combined_cluster_shift", Accepted: accepted, BosonicLogP: bosonicLogP, FermionLogP: fermionLogP, CombinedLogP: combined}
	if !accepted {
		cfg.Restore(preSnapshot)
		*g, *chain = preG, preChain
		return result, nil
	}
	*g, *chain = newG, newChain
	return result, nil
}

// growCluster runs the bond-activation BFS shared by WolffCluster and
// CombinedClusterShift, returning the visited set without mutating cfg.
func (gl *Global) growCluster(cfg *field.Config, r []float64, seed clusterSite) map[clusterSite]bool {
	visited := map[clusterSite]bool{seed: true}
	stack := []clusterSite{seed}
	dtau := gl.P.Dtau

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		projCur := dot(sliceAt(cfg, cur.site, cur.slice), r)

		spatialNeighbors := []int{gl.Nb.Xp[cur.site], gl.Nb.Yp[cur.site], prevXSite(gl.Nb, cur.site), prevYSite(gl.Nb, cur.site)}
		for _, j := range spatialNeighbors {
			cand := clusterSite{site: j, slice: cur.slice}
			if visited[cand] {
				continue
			}
			projJ := dot(sliceAt(cfg, j, cur.slice), r)
			p := 1 - math.Exp(math.Min(0, 2*dtau*projCur*projJ))
			if gl.Rng.Float64() < p {
				visited[cand] = true
				stack = append(stack, cand)
			}
		}

		for _, kp := range temporalNeighbors(cur.slice, gl.P.M) {
			cand := clusterSite{site: cur.site, slice: kp}
			if visited[cand] {
				continue
			}
			projKp := dot(sliceAt(cfg, cur.site, kp), r)
			p := 1 - math.Exp(math.Min(0, (2/dtau)*projCur*projKp))
			if gl.Rng.Float64() < p {
				visited[cand] = true
				stack = append(stack, cand)
			}
		}
	}
	return visited
}

func temporalNeighbors(k, m int) []int {
	prev, next := k-1, k+1
	if prev < 1 {
		prev = m
	}
	if next > m {
		next = 1
	}
	return []int{prev, next}
}

func prevXSite(nb *field.Neighbors, i int) int {
	l := nb.L
	y, x := i/l, i%l
	return y*l + (x-1+l)%l
}

func prevYSite(nb *field.Neighbors, i int) int {
	l := nb.L
	y, x := i/l, i%l
	return ((y-1+l)%l)*l + x
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// randomDirection draws a uniform unit vector of dimension opdim: ±1 for
// OPDIM=1, on the circle for OPDIM=2, on the sphere for OPDIM=3.
func randomDirection(rng RNG, opdim int) []float64 {
	switch opdim {
	case 1:
		return []float64{rng.Sign()}
	case 2:
		p := rng.PointOnCircle()
		return []float64{p[0], p[1]}
	default:
		p := rng.PointOnSphere()
		return []float64{p[0], p[1], p[2]}
	}
}
