package types

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestBox(t *testing.T) {
	if _, err := NewBox([]float64{0, 1}, []float64{1}); err == nil {
		t.Errorf("expected a length error")
	}
	if _, err := NewBox([]float64{2}, []float64{1}); err == nil {
		t.Errorf("expected an ordering error")
	}
	b, err := NewBox([]float64{-1, 0}, []float64{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		x    []float64
		want bool
	}{
		{[]float64{0, 0}, true},
		{[]float64{-1, 0}, true},
		{[]float64{1.01, 0}, false},
		{[]float64{0}, false},
	}
	for _, c := range cases {
		if b.Contains(c.x) != c.want {
			t.Errorf("Contains(%v) != %v", c.x, c.want)
		}
	}
}

// scriptedVec is a batch whose environments end their episode after length steps
type scriptedVec struct {
	n, length int
	t         int
	failStep  int
}

func (v *scriptedVec) NumEnvs() int { return v.n }
func (v *scriptedVec) ObservationSpace() Box { return Box{Low: []float64{0}, High: []float64{100}} }
func (v *scriptedVec) ActionDim() int { return 2 }
func (v *scriptedVec) Close() error { return nil }
func (v *scriptedVec) StepAsync(context.Context, *mat.Dense) error { return nil }

func (v *scriptedVec) Reset(context.Context) (*mat.Dense, error) {
	v.t = 0
	return mat.NewDense(v.n, 1, nil), nil
}

func (v *scriptedVec) StepWait(context.Context) (*VecStep, error) {
	v.t++
	if v.failStep > 0 && v.t == v.failStep {
		return nil, errors.New("connection reset")
	}
	step := &VecStep{
		Obs:     mat.NewDense(v.n, 1, nil),
		Rewards: make([]float64, v.n),
		Dones:   make([]bool, v.n),
		Infos:   make([]Info, v.n),
	}
	for i := 0; i < v.n; i++ {
		step.Obs.Set(i, 0, float64(v.t))
		step.Rewards[i] = float64(i + 1)
		step.Dones[i] = v.t == v.length
		step.Infos[i] = Info{"rew_dist": -1, "rew_success": float64(i)}
	}
	return step, nil
}

func TestAgentRunEpisode(t *testing.T) {
	vec := &scriptedVec{n: 2, length: 4}
	agent := NewAgent(&AgentConfig{Episodes: 1, Horizon: 10, Policy: NewZeroPolicy(2), Environment: vec})
	eCtx := NewEpisodeContext(context.Background(), 0, "zero", 0)
	defer eCtx.Cancel()
	agent.RunEpisode(eCtx)

	if eCtx.Err != nil {
		t.Fatal(eCtx.Err)
	}
	if eCtx.Timesteps != 4 {
		t.Errorf("episode should stop when every env is done, took %d steps", eCtx.Timesteps)
	}
	if len(eCtx.Traces) != 2 || eCtx.Traces[1].Len() != 4 {
		t.Fatalf("unexpected traces")
	}
	if eCtx.Traces[1].Return() != 8 || !eCtx.Traces[1].Done() {
		t.Errorf("trace return %v", eCtx.Traces[1].Return())
	}
	if eCtx.Return() != 6 {
		t.Errorf("mean return %v", eCtx.Return())
	}
	obs, action, _, _, _, _ := eCtx.Traces[0].Get(2)
	if obs[0] != 2 || len(action) != 2 {
		t.Errorf("trace should hold the observation the action was taken in: %v %v", obs, action)
	}
}

func TestAgentStopsAtHorizon(t *testing.T) {
	vec := &scriptedVec{n: 1, length: 100}
	agent := NewAgent(&AgentConfig{Horizon: 3, Policy: NewZeroPolicy(2), Environment: vec})
	eCtx := NewEpisodeContext(context.Background(), 0, "zero", 0)
	agent.RunEpisode(eCtx)
	if eCtx.Timesteps != 3 || eCtx.Traces[0].Done() {
		t.Errorf("expected the horizon to cut the episode, %d steps", eCtx.Timesteps)
	}
}

func TestAgentRecordsErrors(t *testing.T) {
	vec := &scriptedVec{n: 1, length: 5, failStep: 2}
	agent := NewAgent(&AgentConfig{Horizon: 5, Policy: NewZeroPolicy(2), Environment: vec})
	eCtx := NewEpisodeContext(context.Background(), 0, "zero", 0)
	agent.RunEpisode(eCtx)
	if eCtx.Err == nil || !strings.Contains(eCtx.Err.Error(), "connection reset") {
		t.Errorf("expected the step error, got %v", eCtx.Err)
	}
	if _, ok := eCtx.Report.Logs["error"]; !ok {
		t.Errorf("error should be logged in the report")
	}
}

func TestGaussianPolicyReset(t *testing.T) {
	p := NewGaussianPolicy(3, 0.1, 42)
	obs := mat.NewDense(2, 1, nil)
	first, _ := p.NextAction(0, obs)
	p.Reset()
	again, _ := p.NextAction(0, obs)
	if !mat.Equal(first, again) {
		t.Errorf("reset should restart the noise sequence")
	}
	if r, c := first.Dims(); r != 2 || c != 3 {
		t.Errorf("action shape (%d, %d)", r, c)
	}
}

func TestTraceJSON(t *testing.T) {
	trace := NewTrace(3, 1)
	trace.Append([]float64{1}, []float64{0.5}, -0.1, true, Info{"rew_dist": -0.1})
	bs, err := json.Marshal(trace)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]interface{})
	json.Unmarshal(bs, &out)
	if out["episode"] != 3.0 || out["env"] != 1.0 {
		t.Errorf("unexpected json %s", bs)
	}
	if sliced := trace.Slice(0, 1); sliced.Len() != 1 {
		t.Errorf("slice length %d", sliced.Len())
	}
}

func TestAnalyzers(t *testing.T) {
	vec := &scriptedVec{n: 2, length: 2}
	agent := NewAgent(&AgentConfig{Horizon: 5, Policy: NewZeroPolicy(2), Environment: vec})
	returns := NewReturnAnalyzer()
	terms := NewRewardTermsAnalyzer()
	success := NewSuccessAnalyzer()
	for ep := 0; ep < 3; ep++ {
		eCtx := NewEpisodeContext(context.Background(), ep, "zero", 0)
		agent.RunEpisode(eCtx)
		for _, a := range []Analyzer{returns, terms, success} {
			a.Analyze(0, ep, "zero", eCtx.Traces)
		}
	}
	r := returns.DataSet().([]float64)
	if len(r) != 3 || r[0] != 3 {
		t.Errorf("returns %v", r)
	}
	tm := terms.DataSet().(map[string][]float64)
	if len(tm["rew_dist"]) != 3 || tm["rew_dist"][0] != -1 || tm["rew_success"][0] != 0.5 {
		t.Errorf("terms %v", tm)
	}
	s := success.DataSet().([]float64)
	if s[0] != 0.5 {
		t.Errorf("success rate %v", s)
	}
	returns.Reset()
	if len(returns.DataSet().([]float64)) != 0 {
		t.Errorf("reset should clear the analyzer")
	}
}

func TestRewardTermsStayAlignedWithEpisodes(t *testing.T) {
	a := NewRewardTermsAnalyzer()
	step := func(info Info) []*Trace {
		tr := NewTrace(0, 0)
		tr.Append([]float64{0}, []float64{0}, 0, true, info)
		return []*Trace{tr}
	}
	a.Analyze(0, 0, "exp", step(Info{"rew_dist": -1, "rew_collision": -1}))
	a.Analyze(0, 1, "exp", step(Info{"rew_dist": -2}))
	a.Analyze(0, 2, "exp", step(Info{"rew_dist": -3, "rew_ctrl": -0.5}))

	tm := a.DataSet().(map[string][]float64)
	want := map[string][]float64{
		"rew_dist":      {-1, -2, -3},
		"rew_collision": {-1, 0, 0},
		"rew_ctrl":      {0, 0, -0.5},
	}
	for k, w := range want {
		got := tm[k]
		if len(got) != len(w) {
			t.Errorf("%s: %v, want %v", k, got, w)
			continue
		}
		for i := range w {
			if got[i] != w[i] {
				t.Errorf("%s: %v, want %v", k, got, w)
				break
			}
		}
	}
}

func TestComparisonRun(t *testing.T) {
	dir := path.Join(t.TempDir(), "results")
	for _, parallel := range []bool{false, true} {
		c := NewComparison(&ComparisonConfig{
			Runs:         1,
			Episodes:     2,
			Horizon:      5,
			RecordPath:   dir,
			RecordTraces: true,
			Parallel:     parallel,
		})
		c.AddExperiment(NewExperiment("zero", NewZeroPolicy(2), &scriptedVec{n: 2, length: 3}))
		c.AddExperiment(NewExperiment("gaussian", NewGaussianPolicy(2, 0.1, 1), &scriptedVec{n: 2, length: 3}))

		var got [][]float64
		c.AddAnalysis("returns", NewReturnAnalyzer, func(_ int, names []string, ds []DataSet) {
			for _, d := range ds {
				got = append(got, d.([]float64))
			}
		})
		if err := c.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || len(got[0]) != 2 || math.Abs(got[1][1]-4.5) > 1e-12 {
			t.Errorf("parallel %v: datasets %v", parallel, got)
		}
		if _, err := os.Stat(path.Join(dir, "traces", "zero_0.jsonl")); err != nil {
			t.Errorf("traces not recorded: %v", err)
		}
		if _, err := os.Stat(path.Join(dir, "comparison_config.json")); err != nil {
			t.Errorf("config not recorded: %v", err)
		}
	}
}

func TestComparisonAbortsOnErrors(t *testing.T) {
	c := NewComparison(&ComparisonConfig{
		Runs:                   1,
		Episodes:               5,
		Horizon:                5,
		RecordPath:             path.Join(t.TempDir(), "results"),
		ConsecutiveErrorsAbort: 2,
	})
	c.AddExperiment(NewExperiment("failing", NewZeroPolicy(2), &scriptedVec{n: 1, length: 3, failStep: 1}))
	if err := c.Run(context.Background()); err == nil {
		t.Errorf("expected the comparison to abort")
	}
}
