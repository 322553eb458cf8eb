package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Trace of one environment during an episode as (observation, action, reward, done, info) steps
type Trace struct {
	Episode int
	Env     int

	observations [][]float64
	actions      [][]float64
	rewards      []float64
	dones        []bool
	infos        []Info
}

func NewTrace(episode, env int) *Trace {
	return &Trace{
		Episode:      episode,
		Env:          env,
		observations: make([][]float64, 0),
		actions:      make([][]float64, 0),
		rewards:      make([]float64, 0),
		dones:        make([]bool, 0),
		infos:        make([]Info, 0),
	}
}

// Append records the observation the action was taken in and the outcome
func (t *Trace) Append(obs, action []float64, reward float64, done bool, info Info) {
	t.observations = append(t.observations, obs)
	t.actions = append(t.actions, action)
	t.rewards = append(t.rewards, reward)
	t.dones = append(t.dones, done)
	t.infos = append(t.infos, info)
}

func (t *Trace) Len() int {
	return len(t.observations)
}

func (t *Trace) Get(i int) ([]float64, []float64, float64, bool, Info, bool) {
	if i >= len(t.observations) {
		return nil, nil, 0, false, nil, false
	}
	return t.observations[i], t.actions[i], t.rewards[i], t.dones[i], t.infos[i], true
}

func (t *Trace) Last() ([]float64, []float64, float64, bool, Info, bool) {
	return t.Get(len(t.observations) - 1)
}

func (t *Trace) Slice(from, to int) *Trace {
	sliced := NewTrace(t.Episode, t.Env)
	for i := from; i < to; i++ {
		sliced.Append(t.observations[i], t.actions[i], t.rewards[i], t.dones[i], t.infos[i])
	}
	return sliced
}

// Return is the undiscounted sum of rewards
func (t *Trace) Return() float64 {
	sum := 0.0
	for _, r := range t.rewards {
		sum += r
	}
	return sum
}

// Done reports whether the environment finished its episode in this trace
func (t *Trace) Done() bool {
	for _, d := range t.dones {
		if d {
			return true
		}
	}
	return false
}

// jsonFloat encodes NaN and infinities as the strings "NaN", "+Inf" and "-Inf",
// which encoding/json rejects as numbers
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func jsonFloats(values []float64) []jsonFloat {
	out := make([]jsonFloat, len(values))
	for i, v := range values {
		out[i] = jsonFloat(v)
	}
	return out
}

func (t *Trace) MarshalJSON() ([]byte, error) {
	observations := make([][]jsonFloat, len(t.observations))
	actions := make([][]jsonFloat, len(t.actions))
	infos := make([]map[string]jsonFloat, len(t.infos))
	for i := range t.observations {
		observations[i] = jsonFloats(t.observations[i])
		actions[i] = jsonFloats(t.actions[i])
		infos[i] = make(map[string]jsonFloat, len(t.infos[i]))
		for k, v := range t.infos[i] {
			infos[i][k] = jsonFloat(v)
		}
	}
	return json.Marshal(map[string]interface{}{
		"episode":      t.Episode,
		"env":          t.Env,
		"observations": observations,
		"actions":      actions,
		"rewards":      jsonFloats(t.rewards),
		"dones":        t.dones,
		"infos":        infos,
	})
}
