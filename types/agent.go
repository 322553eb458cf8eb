package types

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

type AgentConfig struct {
	Episodes    int
	Horizon     int
	Policy      Policy
	Environment VecEnv
}

// Agent drives a batch of environments with a policy
type Agent struct {
	config      *AgentConfig
	policy      Policy
	environment VecEnv
}

func NewAgent(config *AgentConfig) *Agent {
	return &Agent{
		config:      config,
		policy:      config.Policy,
		environment: config.Environment,
	}
}

// RunEpisode resets the environments and steps them until every environment has
// finished an episode or the horizon is reached. The traces, step count and any
// error are stored in eCtx.
func (a *Agent) RunEpisode(eCtx *EpisodeContext) {
	ctx := eCtx.Context
	n := a.environment.NumEnvs()
	traces := make([]*Trace, n)
	for i := range traces {
		traces[i] = NewTrace(eCtx.Episode, i)
	}
	eCtx.Traces = traces

	start := time.Now()
	obs, err := a.environment.Reset(ctx)
	if err != nil {
		eCtx.SetError(fmt.Errorf("reset: %w", err))
		return
	}
	eCtx.Report.AddTimeEntry(time.Since(start), 0, "reset_time", "agent.RunEpisode")

	finished := make([]bool, n)
	remaining := n
	for step := 0; step < a.config.Horizon && remaining > 0; step++ {
		action, err := a.policy.NextAction(step, obs)
		if err != nil {
			eCtx.SetError(fmt.Errorf("step %d: policy: %w", step, err))
			return
		}

		start = time.Now()
		if err := a.environment.StepAsync(ctx, action); err != nil {
			eCtx.SetError(fmt.Errorf("step %d: %w", step, err))
			return
		}
		result, err := a.environment.StepWait(ctx)
		if err != nil {
			eCtx.SetError(fmt.Errorf("step %d: %w", step, err))
			return
		}
		eCtx.Report.AddTimeEntry(time.Since(start), step, "step_time", "agent.RunEpisode")

		for i := 0; i < n; i++ {
			if finished[i] {
				continue
			}
			traces[i].Append(mat.Row(nil, i, obs), mat.Row(nil, i, action), result.Rewards[i], result.Dones[i], result.Infos[i])
			if result.Dones[i] {
				finished[i] = true
				remaining -= 1
			}
		}
		obs = result.Obs
		eCtx.Timesteps += 1
	}
	a.policy.UpdateIteration(eCtx.Episode, traces)
}
