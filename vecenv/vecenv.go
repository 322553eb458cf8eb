// Package vecenv batches single environments behind the two phase types.VecEnv protocol.
// Environments that finish an episode are reset right away and the first observation
// of the new episode is returned in their row.
package vecenv

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeu5/dishrack-rl/types"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// runner calls f once for every environment index
type runner func(ctx context.Context, n int, f func(context.Context, int) error) error

func sequential(ctx context.Context, n int, f func(context.Context, int) error) error {
	for i := 0; i < n; i++ {
		if err := f(ctx, i); err != nil {
			return fmt.Errorf("env %d: %w", i, err)
		}
	}
	return nil
}

func concurrent(ctx context.Context, n int, f func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := f(gctx, i); err != nil {
				return fmt.Errorf("env %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type batch struct {
	envs      []types.Env
	space     types.Box
	actionDim int
	run       runner

	// pending holds the actions of the step in flight
	pending *mat.Dense
}

func newBatch(envs []types.Env, run runner) (batch, error) {
	if len(envs) == 0 {
		return batch{}, errors.New("no environments to batch")
	}
	space := envs[0].ObservationSpace()
	actionDim := envs[0].ActionDim()
	for i, e := range envs[1:] {
		if e.ObservationSpace().Dim() != space.Dim() || e.ActionDim() != actionDim {
			return batch{}, fmt.Errorf("env %d: shape (%d, %d) differs from env 0 (%d, %d)",
				i+1, e.ObservationSpace().Dim(), e.ActionDim(), space.Dim(), actionDim)
		}
	}
	return batch{envs: envs, space: space, actionDim: actionDim, run: run}, nil
}

func (b *batch) NumEnvs() int {
	return len(b.envs)
}

func (b *batch) ObservationSpace() types.Box {
	return b.space
}

func (b *batch) ActionDim() int {
	return b.actionDim
}

// Reset resets every environment and returns the observations, one row per environment
func (b *batch) Reset(ctx context.Context) (*mat.Dense, error) {
	b.pending = nil
	obs := mat.NewDense(len(b.envs), b.space.Dim(), nil)
	err := b.run(ctx, len(b.envs), func(ctx context.Context, i int) error {
		o, err := b.envs[i].Reset(ctx)
		if err != nil {
			return err
		}
		return b.setRow(obs, i, o)
	})
	if err != nil {
		return nil, err
	}
	return obs, nil
}

// StepAsync stores the actions of the next step. Only one step can be in flight.
func (b *batch) StepAsync(_ context.Context, actions *mat.Dense) error {
	if b.pending != nil {
		return types.ErrStepInFlight
	}
	r, c := actions.Dims()
	if r != len(b.envs) || c != b.actionDim {
		return fmt.Errorf("actions of shape (%d, %d), expected (%d, %d)", r, c, len(b.envs), b.actionDim)
	}
	b.pending = mat.DenseCopyOf(actions)
	return nil
}

// StepWait steps every environment with the pending actions
func (b *batch) StepWait(ctx context.Context) (*types.VecStep, error) {
	if b.pending == nil {
		return nil, types.ErrNoStepInFlight
	}
	actions := b.pending
	b.pending = nil

	n := len(b.envs)
	out := &types.VecStep{
		Obs:     mat.NewDense(n, b.space.Dim(), nil),
		Rewards: make([]float64, n),
		Dones:   make([]bool, n),
		Infos:   make([]types.Info, n),
	}
	err := b.run(ctx, n, func(ctx context.Context, i int) error {
		env := b.envs[i]
		obs, rew, done, info, err := env.Step(ctx, mat.Row(nil, i, actions))
		if err != nil {
			return err
		}
		if done {
			if obs, err = env.Reset(ctx); err != nil {
				return err
			}
		}
		out.Rewards[i] = rew
		out.Dones[i] = done
		out.Infos[i] = info
		return b.setRow(out.Obs, i, obs)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes every environment and reports all failures
func (b *batch) Close() error {
	errs := make([]error, 0)
	for i, e := range b.envs {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("env %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (b *batch) setRow(m *mat.Dense, i int, obs []float64) error {
	if len(obs) != b.space.Dim() {
		return fmt.Errorf("observation of length %d, expected %d", len(obs), b.space.Dim())
	}
	m.SetRow(i, obs)
	return nil
}

// Sync steps the environments one after the other on the calling goroutine
type Sync struct {
	batch
}

var _ types.VecEnv = &Sync{}

func NewSync(envs []types.Env) (*Sync, error) {
	b, err := newBatch(envs, sequential)
	if err != nil {
		return nil, err
	}
	return &Sync{batch: b}, nil
}

// Parallel steps every environment on its own goroutine. The environments must not
// share a simulator connection. The first failure cancels the context of the others.
type Parallel struct {
	batch
}

var _ types.VecEnv = &Parallel{}

func NewParallel(envs []types.Env) (*Parallel, error) {
	b, err := newBatch(envs, concurrent)
	if err != nil {
		return nil, err
	}
	return &Parallel{batch: b}, nil
}
