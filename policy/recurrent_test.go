package policy

import (
	"encoding/json"
	"math"
	"os"
	"path"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

const tol = 1e-12

// twoByTwo has an identity input layer, a recurrent weight of 0.5 and an action
// layer that copies the hidden state
func twoByTwo() Weights {
	return Weights{
		Wx:     [][]float64{{1, 0}, {0, 1}},
		Wh:     [][]float64{{0.5, 0}, {0, 0.5}},
		Bh:     []float64{0, 0},
		Wa:     [][]float64{{1, 0}, {0, 1}},
		Ba:     []float64{0.1, -0.1},
		LogStd: []float64{0, 0},
	}
}

func TestActDeterministic(t *testing.T) {
	p, err := New(twoByTwo(), 1)
	if err != nil {
		t.Fatal(err)
	}
	obs := mat.NewDense(1, 2, []float64{0.2, -0.4})
	hidden := mat.NewDense(1, 2, []float64{1, 1})
	action, next, err := p.Act(obs, hidden, []float64{1}, true)
	if err != nil {
		t.Fatal(err)
	}
	h0, h1 := math.Tanh(0.2+0.5), math.Tanh(-0.4+0.5)
	if !floats.EqualApprox(mat.Row(nil, 0, next), []float64{h0, h1}, tol) {
		t.Errorf("hidden %v, want [%v %v]", mat.Row(nil, 0, next), h0, h1)
	}
	if !floats.EqualApprox(mat.Row(nil, 0, action), []float64{h0 + 0.1, h1 - 0.1}, tol) {
		t.Errorf("action %v", mat.Row(nil, 0, action))
	}

	again, _, _ := p.Act(obs, hidden, []float64{1}, true)
	if !mat.Equal(action, again) {
		t.Errorf("deterministic actions differ")
	}
}

func TestMaskDropsHiddenState(t *testing.T) {
	p, _ := New(twoByTwo(), 1)
	obs := mat.NewDense(2, 2, []float64{0.3, 0.3, 0.3, 0.3})
	hidden := mat.NewDense(2, 2, []float64{5, 5, 5, 5})
	_, next, err := p.Act(obs, hidden, []float64{0, 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !scalar.EqualWithinAbs(next.At(0, 0), math.Tanh(0.3), tol) {
		t.Errorf("masked row should ignore its hidden state: %v", next.At(0, 0))
	}
	if !scalar.EqualWithinAbs(next.At(1, 0), math.Tanh(0.3+2.5), tol) {
		t.Errorf("unmasked row should keep its hidden state: %v", next.At(1, 0))
	}
	if hidden.At(0, 0) != 5 {
		t.Errorf("Act should not modify the hidden state argument")
	}
}

func TestSampledActionsVary(t *testing.T) {
	p, _ := New(twoByTwo(), 1)
	obs := mat.NewDense(1, 2, nil)
	hidden := mat.NewDense(1, 2, nil)
	mean, _, _ := p.Act(obs, hidden, []float64{1}, true)
	sample, _, _ := p.Act(obs, hidden, []float64{1}, false)
	if mat.Equal(mean, sample) {
		t.Errorf("sampled action should differ from the mean")
	}
}

func TestShapeValidation(t *testing.T) {
	w := twoByTwo()
	w.Wh = [][]float64{{1}}
	if _, err := New(w, 0); err == nil {
		t.Errorf("expected an error for a malformed recurrent matrix")
	}
	w = twoByTwo()
	w.LogStd = []float64{0}
	if _, err := New(w, 0); err == nil {
		t.Errorf("expected an error for a malformed log_std")
	}
	if _, err := New(Weights{}, 0); err == nil {
		t.Errorf("expected an error for empty weights")
	}

	p, _ := New(twoByTwo(), 0)
	if _, _, err := p.Act(mat.NewDense(1, 3, nil), mat.NewDense(1, 2, nil), []float64{1}, true); err == nil {
		t.Errorf("expected an observation size error")
	}
	if _, _, err := p.Act(mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil), []float64{1}, true); err == nil {
		t.Errorf("expected a mask count error")
	}
}

func TestLoad(t *testing.T) {
	bs, _ := json.Marshal(twoByTwo())
	p := path.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(p, bs, 0644); err != nil {
		t.Fatal(err)
	}
	policy, err := Load(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	if policy.RecurrentHiddenStateSize() != 2 || policy.ActionDim() != 2 || policy.ObservationDim() != 2 {
		t.Errorf("loaded policy has the wrong shape")
	}
}
