package types

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/zeu5/dishrack-rl/util"
	"golang.org/x/sync/errgroup"
)

type experimentRunConfig struct {
	// execution configuration
	CurrentRun int
	Episodes   int
	Horizon    int
	Analyzers  map[string]Analyzer
	Timeout    time.Duration
	Context    context.Context

	// threshold to abort the experiment
	ConsecutiveErrorsAbort int

	// record flags
	RecordTraces bool
	RecordTimes  bool

	ReportSavePath string

	// status line destination, stdout when nil
	Output            *ParallelOutput
	LongestExpNameLen int
}

// Experiment pairs a policy with the batch of environments it drives
type Experiment struct {
	Name        string
	policy      Policy
	environment VecEnv
}

func NewExperiment(name string, policy Policy, environment VecEnv) *Experiment {
	return &Experiment{
		Name:        name,
		policy:      policy,
		environment: environment,
	}
}

func (e *Experiment) recordTraces(rConfig *experimentRunConfig, traces []*Trace) error {
	tracesFile := path.Join(rConfig.ReportSavePath, "traces", e.Name+"_"+strconv.Itoa(rConfig.CurrentRun)+".jsonl")
	lines := make([]string, len(traces))
	for i, t := range traces {
		bs, err := json.Marshal(t)
		if err != nil {
			return err
		}
		lines[i] = string(bs)
	}
	return util.AppendToFile(tracesFile, lines...)
}

// Run the experiment for the configured number of episodes, analysing every
// episode that completes without an error
func (e *Experiment) Run(rConfig *experimentRunConfig) error {
	agent := NewAgent(&AgentConfig{
		Episodes:    rConfig.Episodes,
		Horizon:     rConfig.Horizon,
		Policy:      e.policy,
		Environment: e.environment,
	})

	totalErrors := 0
	totalTimeouts := 0
	consecutiveErrors := 0
	episodeTimes := make([]time.Duration, 0)
	lastReturn := 0.0

	EPPadding := len(strconv.Itoa(rConfig.Episodes))
	status := func(episodes int, stepTime time.Duration) {
		s := fmt.Sprintf("Exp:%*s, Eps:%*d/%d, Err:%*d, TOut:%*d || Return:%9.4f, Step:%6dms",
			rConfig.LongestExpNameLen, e.Name, EPPadding, episodes, rConfig.Episodes, EPPadding, totalErrors,
			EPPadding, totalTimeouts, lastReturn, stepTime.Milliseconds())
		if rConfig.Output != nil {
			rConfig.Output.Set(s)
		} else {
			fmt.Printf("\r%s", s)
		}
	}
	status(0, 0)

	for episode := 0; episode < rConfig.Episodes; episode++ {
		select {
		case <-rConfig.Context.Done():
			return rConfig.Context.Err()
		default:
		}

		eCtx := NewEpisodeContext(rConfig.Context, episode, e.Name, rConfig.Timeout)
		e.runEpisode(eCtx, agent)
		episodeTimes = append(episodeTimes, eCtx.RunDuration)

		if eCtx.Err != nil {
			totalErrors += 1
			consecutiveErrors += 1
			if eCtx.TimedOut {
				totalTimeouts += 1
			}
			e.recordReport(rConfig, eCtx)
		} else {
			consecutiveErrors = 0
			lastReturn = eCtx.Return()
			for _, a := range rConfig.Analyzers {
				a.Analyze(rConfig.CurrentRun, episode, e.Name, eCtx.Traces)
			}
			if rConfig.RecordTraces {
				if err := e.recordTraces(rConfig, eCtx.Traces); err != nil {
					return fmt.Errorf("recording traces: %w", err)
				}
			}
		}

		if len(episodeTimes) == 10 {
			if rConfig.RecordTimes {
				e.printEpTimesMs(episodeTimes, rConfig.ReportSavePath)
			}
			episodeTimes = make([]time.Duration, 0)
		}

		if consecutiveErrors >= rConfig.ConsecutiveErrorsAbort {
			return fmt.Errorf("aborting experiment %s after %d consecutive errors: %w", e.Name, consecutiveErrors, eCtx.Err)
		}
		status(episode+1, eCtx.Report.Mean("step_time"))
	}
	if rConfig.Output == nil {
		fmt.Println("")
	}
	return nil
}

func (e *Experiment) runEpisode(eCtx *EpisodeContext, agent *Agent) {
	defer eCtx.Cancel()
	defer func() {
		if r := recover(); r != nil {
			eCtx.SetError(fmt.Errorf("%v", r))
		}
	}()

	start := time.Now()
	agent.RunEpisode(eCtx)
	eCtx.RunDuration = time.Since(start)
	eCtx.Report.AddTimeEntry(eCtx.RunDuration, eCtx.Timesteps, "return_time", "experiment.runEpisode")

	if eCtx.Err != nil && eCtx.Context.Err() == context.DeadlineExceeded {
		eCtx.TimedOut = true
	}
}

func (e *Experiment) recordReport(rConfig *experimentRunConfig, eCtx *EpisodeContext) {
	filePath := path.Join(rConfig.ReportSavePath, "epReports", e.Name+"_run"+strconv.Itoa(rConfig.CurrentRun)+"_ep"+strconv.Itoa(eCtx.Episode)+".txt")
	util.WriteToFile(filePath, eCtx.Report.StringTimeline())
}

func (e *Experiment) printEpTimesMs(epTimes []time.Duration, basePath string) {
	tMilliseconds := ""
	for _, tm := range epTimes {
		tMilliseconds = fmt.Sprintf("%s%7d, ", tMilliseconds, tm.Milliseconds())
	}
	filePath := path.Join(basePath, "epTimes", e.Name+"_ms.txt")
	util.AppendToFile(filePath, tMilliseconds)
}

// Reset the policy between runs
func (e *Experiment) Reset() {
	e.policy.Reset()
}

// Generic Dataset that contains information after processing the traces
type DataSet interface{}

// Analyzer compresses the traces of every episode of an experiment into a DataSet
type Analyzer interface {
	// run, episode, experiment, traces of the episode
	Analyze(int, int, string, []*Trace)
	DataSet() DataSet
	Reset()
}

// AnalyzerConstructor creates a fresh analyzer for every experiment
type AnalyzerConstructor func() Analyzer

// Comparator differentiates between different datasets with associated names
// run, experiment names, datasets
type Comparator func(int, []string, []DataSet)

func NoopComparator() Comparator {
	return func(_ int, _ []string, _ []DataSet) {}
}

// ComparisonConfig contains the configuration for the comparison
type ComparisonConfig struct {
	Runs     int // number of runs
	Episodes int // number of episodes
	Horizon  int // maximum number of batched steps per episode

	RecordPath string        // path to store the results
	Timeout    time.Duration // timeout for each episode, none when zero

	ConsecutiveErrorsAbort int

	// record flags
	RecordTraces bool
	RecordTimes  bool

	// run the experiments of a run concurrently. Experiments must not share environments.
	Parallel bool
}

// Comparison contains the different experiments to compare
// The traces obtained from the experiments are analyzed
// The analyzed datasets are then compared
type Comparison struct {
	Experiments []*Experiment
	analyzers   map[string]AnalyzerConstructor
	comparators map[string]Comparator
	cConfig     *ComparisonConfig
}

// NewComparison creates a comparison and clears its record path
func NewComparison(config *ComparisonConfig) *Comparison {
	if _, err := os.Stat(config.RecordPath); err == nil {
		RemoveContents(config.RecordPath)
	}
	if config.ConsecutiveErrorsAbort == 0 {
		config.ConsecutiveErrorsAbort = 10
	}

	folders := []string{"epReports"}
	if config.RecordTraces {
		folders = append(folders, "traces")
	}
	if config.RecordTimes {
		folders = append(folders, "epTimes")
	}
	for _, s := range folders {
		os.MkdirAll(path.Join(config.RecordPath, s), 0777)
	}

	return &Comparison{
		Experiments: make([]*Experiment, 0),
		analyzers:   make(map[string]AnalyzerConstructor),
		comparators: make(map[string]Comparator),
		cConfig:     config,
	}
}

// AddAnalysis adds an analyzer and comparator to the comparison
func (c *Comparison) AddAnalysis(name string, analyzer AnalyzerConstructor, comparator Comparator) {
	c.analyzers[name] = analyzer
	c.comparators[name] = comparator
}

// Add experiments to compare
func (c *Comparison) AddExperiment(e *Experiment) {
	c.Experiments = append(c.Experiments, e)
}

// record the configuration of the comparison
func (c *Comparison) recordConfig() error {
	cfg := c.cConfig
	out := make(map[string]interface{})
	out["runs"] = cfg.Runs
	out["episodes"] = cfg.Episodes
	out["horizon"] = cfg.Horizon
	out["record_traces"] = cfg.RecordTraces
	out["record_times"] = cfg.RecordTimes
	out["parallel"] = cfg.Parallel
	if cfg.Timeout != 0 {
		out["timeout"] = cfg.Timeout.String()
	}

	experiments := make([]string, 0)
	for _, e := range c.Experiments {
		experiments = append(experiments, e.Name)
	}
	out["experiments"] = experiments

	analyzers := make([]string, 0)
	for name := range c.analyzers {
		analyzers = append(analyzers, name)
	}
	out["analyzers"] = analyzers

	bs, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(cfg.RecordPath, "comparison_config.json"), bs, 0644)
}

// Run the comparison
func (c *Comparison) Run(ctx context.Context) error {
	if err := c.recordConfig(); err != nil {
		return err
	}

	longestNameLen := 0
	for _, e := range c.Experiments {
		if len(e.Name) > longestNameLen {
			longestNameLen = len(e.Name)
		}
	}

	for run := 0; run < c.cConfig.Runs; run++ {
		fmt.Printf("Run %d\n", run+1)
		analyzers := make([]map[string]Analyzer, len(c.Experiments))
		names := make([]string, len(c.Experiments))
		for i, e := range c.Experiments {
			names[i] = e.Name
			analyzers[i] = make(map[string]Analyzer)
			for name, newAnalyzer := range c.analyzers {
				analyzers[i][name] = newAnalyzer()
			}
		}

		var err error
		if c.cConfig.Parallel {
			err = c.runParallel(ctx, run, longestNameLen, analyzers)
		} else {
			for i, e := range c.Experiments {
				if err = e.Run(c.prepareRunConfig(ctx, run, longestNameLen, analyzers[i], nil)); err != nil {
					break
				}
			}
		}
		if err != nil {
			return fmt.Errorf("run %d: %w", run+1, err)
		}

		for name, comp := range c.comparators {
			datasets := make([]DataSet, len(c.Experiments))
			for i := range c.Experiments {
				datasets[i] = analyzers[i][name].DataSet()
			}
			comp(run, names, datasets)
		}
		for _, e := range c.Experiments {
			e.Reset()
		}
	}
	return nil
}

// runParallel runs every experiment on its own goroutine with a live status line each
func (c *Comparison) runParallel(ctx context.Context, run, longestNameLen int, analyzers []map[string]Analyzer) error {
	outputs := make([]*ParallelOutput, len(c.Experiments))
	for i := range outputs {
		outputs[i] = NewParallelOutput()
	}
	g, gctx := errgroup.WithContext(ctx)
	printer := NewTerminalPrinter(gctx, outputs, time.Second)
	printer.Start()
	defer printer.Stop()

	for i, e := range c.Experiments {
		i, e := i, e
		g.Go(func() error {
			outputs[i].Start()
			defer outputs[i].Finish()
			return e.Run(c.prepareRunConfig(gctx, run, longestNameLen, analyzers[i], outputs[i]))
		})
	}
	return g.Wait()
}

// prepare the run configuration for the experiment
func (c *Comparison) prepareRunConfig(ctx context.Context, run, longestExpNameLen int, analyzers map[string]Analyzer, output *ParallelOutput) *experimentRunConfig {
	return &experimentRunConfig{
		CurrentRun:             run,
		Episodes:               c.cConfig.Episodes,
		Horizon:                c.cConfig.Horizon,
		Analyzers:              analyzers,
		Timeout:                c.cConfig.Timeout,
		Context:                ctx,
		ConsecutiveErrorsAbort: c.cConfig.ConsecutiveErrorsAbort,
		RecordTraces:           c.cConfig.RecordTraces,
		RecordTimes:            c.cConfig.RecordTimes,
		ReportSavePath:         c.cConfig.RecordPath,
		Output:                 output,
		LongestExpNameLen:      longestExpNameLen,
	}
}

// RemoveContents deletes everything inside dir
func RemoveContents(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	names, err := d.Readdirnames(-1)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.RemoveAll(path.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
