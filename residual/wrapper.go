// Package residual composes the action of a frozen base policy with a residual
// action over a batch of environments.
//
// The base policy is recurrent. Its hidden state is kept per environment and the
// continuation masks computed by StepWait are consumed by the following StepAsync,
// so an environment that just finished an episode starts the next one with a
// cleared memory contribution.
package residual

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/zeu5/dishrack-rl/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Observation components overwritten on reset with the home position values the
// base policy was trained against.
var resetSentinels = map[int]float64{
	7: 0.5000000397364298,
	8: 0.5,
	9: 0.15789473997919184,
}

// BasePolicy is the frozen policy the residual is added to
type BasePolicy interface {
	RecurrentHiddenStateSize() int
	// Act returns one action row and one hidden state row per observation row.
	// masks[i] is 0 when the episode of environment i just ended, 1 otherwise.
	Act(obs, hidden *mat.Dense, masks []float64, deterministic bool) (*mat.Dense, *mat.Dense, error)
}

// ObsStats is a running estimate of the observation mean and variance
type ObsStats interface {
	Mean() []float64
	Var() []float64
}

type Config struct {
	// Clip bounds every normalised component to [-Clip, Clip]
	Clip float64
	// Epsilon is added to the variance before the square root
	Epsilon float64
}

func DefaultConfig() Config {
	return Config{Clip: 10.0, Epsilon: 1e-8}
}

var ErrNotReset = errors.New("residual wrapper used before reset")

// Wrapper is a types.VecEnv whose actions are residuals on top of the base policy
type Wrapper struct {
	venv   types.VecEnv
	base   BasePolicy
	stats  ObsStats
	config Config

	lastObs  *mat.Dense
	hidden   *mat.Dense
	masks    []float64
	inFlight bool
}

var _ types.VecEnv = &Wrapper{}

// New wraps venv. stats may be nil, in which case observations reach the base
// policy unnormalised. Zero config values take their defaults.
func New(venv types.VecEnv, base BasePolicy, stats ObsStats, config Config) (*Wrapper, error) {
	d := DefaultConfig()
	if config.Clip <= 0 {
		config.Clip = d.Clip
	}
	if config.Epsilon <= 0 {
		config.Epsilon = d.Epsilon
	}
	if stats != nil {
		dim := venv.ObservationSpace().Dim()
		if len(stats.Mean()) != dim || len(stats.Var()) != dim {
			return nil, fmt.Errorf("observation statistics of size %d/%d, observations of size %d",
				len(stats.Mean()), len(stats.Var()), dim)
		}
	}
	n := venv.NumEnvs()
	hiddenSize := base.RecurrentHiddenStateSize()
	if hiddenSize < 1 {
		hiddenSize = 1
	}
	return &Wrapper{
		venv:   venv,
		base:   base,
		stats:  stats,
		config: config,
		hidden: mat.NewDense(n, hiddenSize, nil),
		masks:  make([]float64, n),
	}, nil
}

func (w *Wrapper) NumEnvs() int {
	return w.venv.NumEnvs()
}

func (w *Wrapper) ObservationSpace() types.Box {
	return w.venv.ObservationSpace()
}

func (w *Wrapper) ActionDim() int {
	return w.venv.ActionDim()
}

func (w *Wrapper) Close() error {
	return w.venv.Close()
}

// Masks returns the continuation masks the next StepAsync will use
func (w *Wrapper) Masks() []float64 {
	out := make([]float64, len(w.masks))
	copy(out, w.masks)
	return out
}

// Hidden returns a copy of the recurrent hidden state, one row per environment
func (w *Wrapper) Hidden() *mat.Dense {
	return mat.DenseCopyOf(w.hidden)
}

// NormalizeObs returns clip((obs - mean) / sqrt(var + eps), -clip, clip) row by row,
// or a copy of obs when there are no statistics.
func (w *Wrapper) NormalizeObs(obs *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(obs)
	if w.stats == nil {
		return out
	}
	mean, variance := w.stats.Mean(), w.stats.Var()
	scale := make([]float64, len(variance))
	for j, v := range variance {
		scale[j] = math.Sqrt(v + w.config.Epsilon)
	}
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		floats.Sub(row, mean)
		floats.Div(row, scale)
		for j, v := range row {
			row[j] = math.Max(-w.config.Clip, math.Min(w.config.Clip, v))
		}
	}
	return out
}

// Reset resets the wrapped environments, overwrites the home position components
// and clears the recurrent state. The returned observations are not normalised.
func (w *Wrapper) Reset(ctx context.Context) (*mat.Dense, error) {
	obs, err := w.venv.Reset(ctx)
	if err != nil {
		return nil, err
	}
	r, c := obs.Dims()
	if c <= 9 {
		return nil, fmt.Errorf("observations of size %d have no home position components", c)
	}
	for i := 0; i < r; i++ {
		for j, v := range resetSentinels {
			obs.Set(i, j, v)
		}
	}
	w.lastObs = w.NormalizeObs(obs)
	w.hidden.Zero()
	for i := range w.masks {
		w.masks[i] = 0
	}
	w.inFlight = false
	return obs, nil
}

// StepAsync evaluates the base policy on the last normalised observations and
// forwards base action + residual to the wrapped environments.
func (w *Wrapper) StepAsync(ctx context.Context, residual *mat.Dense) error {
	if w.lastObs == nil {
		return ErrNotReset
	}
	if w.inFlight {
		return types.ErrStepInFlight
	}
	action, hidden, err := w.base.Act(w.lastObs, w.hidden, w.masks, true)
	if err != nil {
		return fmt.Errorf("base policy: %w", err)
	}
	ar, ac := action.Dims()
	rr, rc := residual.Dims()
	if ar != rr || ac != rc {
		return fmt.Errorf("residual of shape (%d, %d), base action of shape (%d, %d)", rr, rc, ar, ac)
	}

	var whole mat.Dense
	whole.Add(action, residual)
	if err := w.venv.StepAsync(ctx, &whole); err != nil {
		return err
	}
	w.hidden = hidden
	w.inFlight = true
	return nil
}

// StepWait collects the step results, computes the masks for the next step and
// caches the normalised observations. The returned step is not normalised.
func (w *Wrapper) StepWait(ctx context.Context) (*types.VecStep, error) {
	if !w.inFlight {
		return nil, types.ErrNoStepInFlight
	}
	w.inFlight = false
	step, err := w.venv.StepWait(ctx)
	if err != nil {
		return nil, err
	}
	for i, done := range step.Dones {
		if done {
			w.masks[i] = 0
		} else {
			w.masks[i] = 1
		}
	}
	w.lastObs = w.NormalizeObs(step.Obs)
	return step, nil
}
