package benchmarks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/dishrack-rl/dishrack"
	"github.com/zeu5/dishrack-rl/obsnorm"
	"github.com/zeu5/dishrack-rl/policy"
	"github.com/zeu5/dishrack-rl/residual"
	"github.com/zeu5/dishrack-rl/types"
	"github.com/zeu5/dishrack-rl/vecenv"
)

// DishRackConfig configures the environments of every experiment
type DishRackConfig struct {
	Envs      int
	Variant   dishrack.Variant
	EpLen     int
	Host      string
	BasePort  int
	Headless  bool
	ScenePath string

	PolicyPath  string
	StatsPath   string
	RedisAddr   string
	StatsName   string
	UpdateStats bool
}

// environments of one experiment and the statistics they feed
type experimentEnvs struct {
	vec   types.VecEnv
	stats *obsnorm.RunningMeanStd
}

// loadStats reads the observation statistics from file or redis. It returns nil
// when no source is configured.
func loadStats(ctx context.Context, config DishRackConfig, store *obsnorm.RedisStore, dim int) (*obsnorm.RunningMeanStd, error) {
	switch {
	case config.StatsPath != "":
		s, err := obsnorm.LoadFile(config.StatsPath)
		if err != nil {
			return nil, err
		}
		return obsnorm.FromSnapshot(s)
	case store != nil:
		s, err := store.Load(ctx, config.StatsName)
		if errors.Is(err, obsnorm.ErrNotFound) {
			fmt.Printf("No statistics %s in redis, starting fresh\n", config.StatsName)
			return obsnorm.NewRunningMeanStd(dim), nil
		} else if err != nil {
			return nil, err
		}
		return obsnorm.FromSnapshot(s)
	case config.UpdateStats:
		return obsnorm.NewRunningMeanStd(dim), nil
	}
	return nil, nil
}

// buildEnvs dials config.Envs simulators starting at rank firstRank and wraps them
// with the residual wrapper when a base policy is configured
func buildEnvs(ctx context.Context, config DishRackConfig, store *obsnorm.RedisStore, firstRank int) (*experimentEnvs, error) {
	envs := make([]types.Env, 0, config.Envs)
	closeAll := func() {
		for _, e := range envs {
			e.Close()
		}
	}
	for i := 0; i < config.Envs; i++ {
		env, err := dishrack.Dial(ctx, dishrack.Config{
			Seed:          seed,
			Rank:          firstRank + i,
			Headless:      config.Headless,
			EpisodeLength: config.EpLen,
			Variant:       config.Variant,
			ScenePath:     config.ScenePath,
			Host:          config.Host,
			BasePort:      config.BasePort,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		envs = append(envs, env)
	}

	var vec types.VecEnv
	var err error
	if len(envs) == 1 {
		vec, err = vecenv.NewSync(envs)
	} else {
		vec, err = vecenv.NewParallel(envs)
	}
	if err != nil {
		closeAll()
		return nil, err
	}

	stats, err := loadStats(ctx, config, store, vec.ObservationSpace().Dim())
	if err != nil {
		vec.Close()
		return nil, err
	}
	if stats != nil && config.UpdateStats {
		vec = obsnorm.Watch(vec, stats)
	}
	if config.PolicyPath == "" {
		return &experimentEnvs{vec: vec, stats: stats}, nil
	}

	base, err := policy.Load(config.PolicyPath, seed)
	if err != nil {
		vec.Close()
		return nil, err
	}
	var obsStats residual.ObsStats
	if stats != nil {
		obsStats = stats
	}
	wrapper, err := residual.New(vec, base, obsStats, residual.DefaultConfig())
	if err != nil {
		vec.Close()
		return nil, err
	}
	return &experimentEnvs{vec: wrapper, stats: stats}, nil
}

func DishRackExperiment(ctx context.Context, config DishRackConfig, residualStd float64, parallel bool, timeout time.Duration) error {
	var store *obsnorm.RedisStore
	if config.RedisAddr != "" {
		store = obsnorm.DialRedis(config.RedisAddr)
		defer store.Close()
	}

	// parallel experiments need their own simulators
	names := []string{"Zero", "Gaussian"}
	built := make([]*experimentEnvs, len(names))
	defer func() {
		for _, b := range built {
			if b != nil {
				b.vec.Close()
			}
		}
	}()
	for i := range names {
		if i > 0 && !parallel {
			built[i] = built[0]
			continue
		}
		b, err := buildEnvs(ctx, config, store, i*config.Envs)
		if err != nil {
			return fmt.Errorf("building environments of %s: %w", names[i], err)
		}
		built[i] = b
	}
	if !parallel {
		// shared by both experiments, close once
		built = built[:1]
	}
	actionDim := built[0].vec.ActionDim()

	c, stopProfiling, err := newProfiledComparison(&types.ComparisonConfig{
		Runs:         runs,
		Episodes:     episodes,
		Horizon:      horizon,
		RecordPath:   saveFile,
		Timeout:      timeout,
		RecordTraces: true,
		RecordTimes:  true,
		Parallel:     parallel,
	})
	if err != nil {
		return err
	}
	defer stopProfiling()
	c.AddAnalysis("returns", types.NewReturnAnalyzer, types.SeriesPlotter(path.Join(saveFile, "plots"), "returns", "Mean return"))
	c.AddAnalysis("returns_summary", types.NewReturnAnalyzer, types.SummaryPrinter("return"))
	c.AddAnalysis("reward_terms", types.NewRewardTermsAnalyzer, types.RewardTermsPlotter(path.Join(saveFile, "plots")))
	if config.Variant == dishrack.Sparse {
		c.AddAnalysis("success", types.NewSuccessAnalyzer, types.SeriesPlotter(path.Join(saveFile, "plots"), "success", "Success rate"))
	}
	events := []types.EventDesc{{Name: "non_finite", Check: types.NonFinite()}}
	if config.Variant == dishrack.Dense {
		events = append(events, types.EventDesc{Name: "collision", Check: types.InfoBelow("rew_collision", 0)})
	}
	c.AddAnalysis("events", types.NewEventAnalyzer(path.Join(saveFile, "events"), events...), types.EventComparator(path.Join(saveFile, "events")))

	c.AddExperiment(types.NewExperiment(names[0], types.NewZeroPolicy(actionDim), built[0].vec))
	gaussianEnvs := built[0]
	if parallel {
		gaussianEnvs = built[1]
	}
	c.AddExperiment(types.NewExperiment(names[1], types.NewGaussianPolicy(actionDim, residualStd, seed), gaussianEnvs.vec))

	if err := c.Run(ctx); err != nil {
		return err
	}

	if config.UpdateStats && built[0].stats != nil {
		snapshot := built[0].stats.Snapshot()
		if store != nil {
			if err := store.Save(ctx, config.StatsName, snapshot); err != nil {
				return fmt.Errorf("saving statistics: %w", err)
			}
		}
		if err := obsnorm.SaveFile(path.Join(saveFile, "obs_stats.json"), snapshot); err != nil {
			return fmt.Errorf("saving statistics: %w", err)
		}
	}
	return nil
}

func DishRackCommand() *cobra.Command {
	config := DishRackConfig{}
	var variant string
	var residualStd float64
	var parallel bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "dishrack",
		Short: "Compare residual policies on the dish rack environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := dishrack.ParseVariant(variant)
			if err != nil {
				return err
			}
			config.Variant = v
			if config.Envs < 1 {
				return fmt.Errorf("need at least one environment, got %d", config.Envs)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			doneCh := make(chan struct{})

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-sigCh:
				case <-doneCh:
				}
				cancel()
			}()
			defer close(doneCh)

			return DishRackExperiment(ctx, config, residualStd, parallel, timeout)
		},
	}
	cmd.Flags().IntVar(&config.Envs, "envs", 1, "Number of environments, one simulator each")
	cmd.Flags().StringVar(&variant, "variant", dishrack.Dense.String(), "Reward variant: dense, dense-no-collision or sparse")
	cmd.Flags().IntVar(&config.EpLen, "ep-len", dishrack.DefaultEpisodeLength, "Episode length")
	cmd.Flags().StringVar(&config.Host, "host", "127.0.0.1", "Simulator host")
	cmd.Flags().IntVar(&config.BasePort, "base-port", 19997, "Port of the simulator of rank 0")
	cmd.Flags().BoolVar(&config.Headless, "headless", true, "Run the simulators without a GUI")
	cmd.Flags().StringVar(&config.ScenePath, "scene", "", "Scene file requested from the simulators")
	cmd.Flags().StringVar(&config.PolicyPath, "policy", "", "JSON weights of the base policy, enables the residual wrapper")
	cmd.Flags().StringVar(&config.StatsPath, "stats", "", "JSON observation statistics")
	cmd.Flags().StringVar(&config.RedisAddr, "redis", "", "Redis address to share observation statistics")
	cmd.Flags().StringVar(&config.StatsName, "stats-name", "dishrack", "Name of the statistics in redis")
	cmd.Flags().BoolVar(&config.UpdateStats, "update-stats", false, "Update the observation statistics with the collected observations")
	cmd.Flags().Float64Var(&residualStd, "residual-std", 0.05, "Standard deviation of the Gaussian residual")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Run the experiments concurrently on separate simulators")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Timeout of an episode, none when zero")
	return cmd
}
