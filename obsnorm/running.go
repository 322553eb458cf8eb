// Package obsnorm keeps running observation statistics and shares them between
// rollout workers.
package obsnorm

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeu5/dishrack-rl/types"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// initialCount keeps the first update from dividing by zero
const initialCount = 1e-4

// Snapshot is a serialisable copy of running statistics
type Snapshot struct {
	Mean  []float64 `json:"mean"`
	Var   []float64 `json:"var"`
	Count float64   `json:"count"`
}

// RunningMeanStd tracks the per component mean and variance of a stream of
// observation batches. It is safe for concurrent use.
type RunningMeanStd struct {
	lock     *sync.Mutex
	mean     []float64
	variance []float64
	count    float64
}

// NewRunningMeanStd starts with zero mean and unit variance
func NewRunningMeanStd(dim int) *RunningMeanStd {
	variance := make([]float64, dim)
	for i := range variance {
		variance[i] = 1
	}
	return &RunningMeanStd{
		lock:     new(sync.Mutex),
		mean:     make([]float64, dim),
		variance: variance,
		count:    initialCount,
	}
}

func (r *RunningMeanStd) Dim() int {
	return len(r.mean)
}

func (r *RunningMeanStd) Mean() []float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]float64{}, r.mean...)
}

func (r *RunningMeanStd) Var() []float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]float64{}, r.variance...)
}

func (r *RunningMeanStd) Count() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.count
}

// Update merges a batch of observations, one per row, using the parallel variance formula
func (r *RunningMeanStd) Update(batch mat.Matrix) error {
	rows, cols := batch.Dims()
	if cols != len(r.mean) {
		return fmt.Errorf("batch of width %d, statistics of size %d", cols, len(r.mean))
	}
	if rows == 0 {
		return nil
	}
	batchMean := make([]float64, cols)
	batchVar := make([]float64, cols)
	for j := 0; j < cols; j++ {
		batchMean[j], batchVar[j] = stat.PopMeanVariance(mat.Col(nil, j, batch), nil)
	}
	batchCount := float64(rows)

	r.lock.Lock()
	defer r.lock.Unlock()
	total := r.count + batchCount
	for j := range r.mean {
		delta := batchMean[j] - r.mean[j]
		m2 := r.variance[j]*r.count + batchVar[j]*batchCount + delta*delta*r.count*batchCount/total
		r.mean[j] += delta * batchCount / total
		r.variance[j] = m2 / total
	}
	r.count = total
	return nil
}

func (r *RunningMeanStd) Snapshot() Snapshot {
	r.lock.Lock()
	defer r.lock.Unlock()
	return Snapshot{
		Mean:  append([]float64{}, r.mean...),
		Var:   append([]float64{}, r.variance...),
		Count: r.count,
	}
}

// Restore replaces the statistics with a snapshot of the same size
func (r *RunningMeanStd) Restore(s Snapshot) error {
	if len(s.Mean) != len(r.mean) || len(s.Var) != len(r.mean) {
		return fmt.Errorf("snapshot of size %d/%d, statistics of size %d", len(s.Mean), len(s.Var), len(r.mean))
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	copy(r.mean, s.Mean)
	copy(r.variance, s.Var)
	r.count = s.Count
	return nil
}

// FromSnapshot creates statistics initialised from s
func FromSnapshot(s Snapshot) (*RunningMeanStd, error) {
	r := NewRunningMeanStd(len(s.Mean))
	if err := r.Restore(s); err != nil {
		return nil, err
	}
	return r, nil
}

// Watcher is a types.VecEnv that feeds every observation batch it sees into the statistics
type Watcher struct {
	types.VecEnv
	stats *RunningMeanStd
}

// Watch returns venv with the observations of Reset and StepWait recorded in stats
func Watch(venv types.VecEnv, stats *RunningMeanStd) *Watcher {
	return &Watcher{VecEnv: venv, stats: stats}
}

func (w *Watcher) Reset(ctx context.Context) (*mat.Dense, error) {
	obs, err := w.VecEnv.Reset(ctx)
	if err != nil {
		return nil, err
	}
	return obs, w.stats.Update(obs)
}

func (w *Watcher) StepWait(ctx context.Context) (*types.VecStep, error) {
	step, err := w.VecEnv.StepWait(ctx)
	if err != nil {
		return nil, err
	}
	return step, w.stats.Update(step.Obs)
}
