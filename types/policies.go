package types

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Policy produces the actions fed to a batch of environments, one row per environment
type Policy interface {
	UpdateIteration(int, []*Trace)
	NextAction(int, *mat.Dense) (*mat.Dense, error)
	Reset()
}

// ZeroPolicy always returns a zero action. Under the residual wrapper the
// environments are driven by the base policy alone.
type ZeroPolicy struct {
	actionDim int
}

var _ Policy = &ZeroPolicy{}

func NewZeroPolicy(actionDim int) *ZeroPolicy {
	return &ZeroPolicy{actionDim: actionDim}
}

func (z *ZeroPolicy) Reset() {}

func (z *ZeroPolicy) UpdateIteration(_ int, _ []*Trace) {}

func (z *ZeroPolicy) NextAction(_ int, obs *mat.Dense) (*mat.Dense, error) {
	r, _ := obs.Dims()
	return mat.NewDense(r, z.actionDim, nil), nil
}

// GaussianPolicy samples every action component from N(0, std)
type GaussianPolicy struct {
	actionDim int
	seed      uint64
	dist      distuv.Normal
}

var _ Policy = &GaussianPolicy{}

func NewGaussianPolicy(actionDim int, std float64, seed uint64) *GaussianPolicy {
	return &GaussianPolicy{
		actionDim: actionDim,
		seed:      seed,
		dist:      distuv.Normal{Mu: 0, Sigma: std, Src: rand.NewSource(seed)},
	}
}

// Reset restarts the noise sequence
func (g *GaussianPolicy) Reset() {
	g.dist.Src = rand.NewSource(g.seed)
}

func (g *GaussianPolicy) UpdateIteration(_ int, _ []*Trace) {}

func (g *GaussianPolicy) NextAction(_ int, obs *mat.Dense) (*mat.Dense, error) {
	r, _ := obs.Dims()
	action := mat.NewDense(r, g.actionDim, nil)
	action.Apply(func(_, _ int, _ float64) float64 {
		return g.dist.Rand()
	}, action)
	return action, nil
}
