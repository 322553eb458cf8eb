package types

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Info carries the per-step diagnostics of an environment, one scalar per key
type Info map[string]float64

// Copy returns an independent copy of the info
func (i Info) Copy() Info {
	out := make(Info, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Env is a single episodic environment following the reset/step protocol.
// Step is only valid after Reset and until it reports done.
type Env interface {
	// Reset starts a new episode and returns the first observation
	Reset(context.Context) ([]float64, error)
	// Step applies the action and returns observation, reward, done and diagnostics
	Step(context.Context, []float64) ([]float64, float64, bool, Info, error)
	ObservationSpace() Box
	ActionDim() int
	Close() error
}

// VecStep is the result of stepping a batch of environments.
// Row i of Obs belongs to environment i.
type VecStep struct {
	Obs     *mat.Dense
	Rewards []float64
	Dones   []bool
	Infos   []Info
}

// VecEnv is a batch of environments stepped together in two phases.
// StepWait must be called exactly once after every StepAsync.
type VecEnv interface {
	NumEnvs() int
	ObservationSpace() Box
	ActionDim() int
	Reset(context.Context) (*mat.Dense, error)
	StepAsync(context.Context, *mat.Dense) error
	StepWait(context.Context) (*VecStep, error)
	Close() error
}

var (
	ErrStepInFlight   = errors.New("a step is already in flight")
	ErrNoStepInFlight = errors.New("no step in flight")
)

// Box is a bounded continuous space
type Box struct {
	Low  []float64
	High []float64
}

// NewBox creates a box, low and high must have the same length and low <= high
func NewBox(low, high []float64) (Box, error) {
	if len(low) != len(high) {
		return Box{}, fmt.Errorf("box bounds differ in length: %d != %d", len(low), len(high))
	}
	for i := range low {
		if low[i] > high[i] {
			return Box{}, fmt.Errorf("box bound %d: low %v above high %v", i, low[i], high[i])
		}
	}
	l := make([]float64, len(low))
	h := make([]float64, len(high))
	copy(l, low)
	copy(h, high)
	return Box{Low: l, High: h}, nil
}

// Dim returns the number of components of the space
func (b Box) Dim() int {
	return len(b.Low)
}

// Contains checks that x has the right length and lies within the bounds
func (b Box) Contains(x []float64) bool {
	if len(x) != len(b.Low) {
		return false
	}
	for i, v := range x {
		if v < b.Low[i] || v > b.High[i] {
			return false
		}
	}
	return true
}
