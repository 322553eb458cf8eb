// Package policy contains the frozen base policies used under the residual wrapper
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Weights of a recurrent policy as stored on disk. Matrices are row major.
type Weights struct {
	Wx     [][]float64 `json:"wx"`
	Wh     [][]float64 `json:"wh"`
	Bh     []float64   `json:"bh"`
	Wa     [][]float64 `json:"wa"`
	Ba     []float64   `json:"ba"`
	LogStd []float64   `json:"log_std"`
}

// Recurrent is an Elman policy:
//
//	h' = tanh(Wx obs + Wh (mask h) + Bh)
//	a  = Wa h' + Ba (+ exp(LogStd) noise when sampling)
type Recurrent struct {
	wx  *mat.Dense
	wh  *mat.Dense
	bh  []float64
	wa  *mat.Dense
	ba  []float64
	std []float64

	noise distuv.Normal
}

func toDense(name string, rows [][]float64, r, c int) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, fmt.Errorf("%s has %d rows, expected %d", name, len(rows), r)
	}
	m := mat.NewDense(r, c, nil)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%s row %d has %d columns, expected %d", name, i, len(row), c)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// New validates the weight shapes. seed drives the sampling noise.
func New(w Weights, seed uint64) (*Recurrent, error) {
	hidden := len(w.Bh)
	actions := len(w.Ba)
	if hidden == 0 || actions == 0 || len(w.Wx) == 0 {
		return nil, errors.New("policy weights are empty")
	}
	obsDim := len(w.Wx[0])
	if len(w.LogStd) != actions {
		return nil, fmt.Errorf("log_std of size %d, expected %d", len(w.LogStd), actions)
	}

	p := &Recurrent{
		bh:    append([]float64{}, w.Bh...),
		ba:    append([]float64{}, w.Ba...),
		std:   make([]float64, actions),
		noise: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
	}
	var err error
	if p.wx, err = toDense("wx", w.Wx, hidden, obsDim); err != nil {
		return nil, err
	}
	if p.wh, err = toDense("wh", w.Wh, hidden, hidden); err != nil {
		return nil, err
	}
	if p.wa, err = toDense("wa", w.Wa, actions, hidden); err != nil {
		return nil, err
	}
	for i, s := range w.LogStd {
		p.std[i] = math.Exp(s)
	}
	return p, nil
}

// Load reads JSON weights from path
func Load(path string, seed uint64) (*Recurrent, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w := Weights{}
	if err := json.Unmarshal(bs, &w); err != nil {
		return nil, fmt.Errorf("decoding policy %s: %w", path, err)
	}
	return New(w, seed)
}

func (p *Recurrent) RecurrentHiddenStateSize() int {
	return len(p.bh)
}

func (p *Recurrent) ObservationDim() int {
	_, c := p.wx.Dims()
	return c
}

func (p *Recurrent) ActionDim() int {
	return len(p.ba)
}

// Act computes one action and next hidden state per observation row. A zero mask
// drops the hidden state of that row before it is used.
func (p *Recurrent) Act(obs, hidden *mat.Dense, masks []float64, deterministic bool) (*mat.Dense, *mat.Dense, error) {
	n, d := obs.Dims()
	hn, hd := hidden.Dims()
	if d != p.ObservationDim() {
		return nil, nil, fmt.Errorf("observations of size %d, policy expects %d", d, p.ObservationDim())
	}
	if hn != n || hd != len(p.bh) {
		return nil, nil, fmt.Errorf("hidden state of shape (%d, %d), expected (%d, %d)", hn, hd, n, len(p.bh))
	}
	if len(masks) != n {
		return nil, nil, fmt.Errorf("%d masks for %d observations", len(masks), n)
	}

	masked := mat.DenseCopyOf(hidden)
	for i, m := range masks {
		row := masked.RawRowView(i)
		for j := range row {
			row[j] *= m
		}
	}

	var next, recurrent mat.Dense
	next.Mul(obs, p.wx.T())
	recurrent.Mul(masked, p.wh.T())
	next.Add(&next, &recurrent)
	next.Apply(func(_, j int, v float64) float64 {
		return math.Tanh(v + p.bh[j])
	}, &next)

	var action mat.Dense
	action.Mul(&next, p.wa.T())
	action.Apply(func(_, j int, v float64) float64 {
		v += p.ba[j]
		if !deterministic {
			v += p.std[j] * p.noise.Rand()
		}
		return v
	}, &action)
	return &action, &next, nil
}
