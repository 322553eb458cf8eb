package types

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EpisodeContext carries what an episode needs and what it produced
type EpisodeContext struct {
	Context context.Context
	Cancel  context.CancelFunc // cancel function to stop the episode

	Episode    int
	Experiment string

	Traces      []*Trace // one per environment
	Timesteps   int      // batched steps taken
	Err         error
	TimedOut    bool
	RunDuration time.Duration

	Report *EpisodeReport
}

// NewEpisodeContext bounds the episode by timeout when it is positive
func NewEpisodeContext(ctx context.Context, episode int, experiment string, timeout time.Duration) *EpisodeContext {
	var eCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		eCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		eCtx, cancel = context.WithCancel(ctx)
	}
	return &EpisodeContext{
		Context:    eCtx,
		Cancel:     cancel,
		Episode:    episode,
		Experiment: experiment,
		Traces:     make([]*Trace, 0),
		Report:     NewEpisodeReport(episode, experiment),
	}
}

func (e *EpisodeContext) SetError(err error) {
	e.Err = err
	e.Report.AddLog(err.Error(), "error")
}

// Return is the mean return over the environments of the episode
func (e *EpisodeContext) Return() float64 {
	if len(e.Traces) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range e.Traces {
		sum += t.Return()
	}
	return sum / float64(len(e.Traces))
}

// EPISODE REPORT

// Report of an episode
type EpisodeReport struct {
	EpisodeNumber  int
	ExperimentName string

	nextIndex int       // next available index for an entry
	startTime time.Time // start time to compute timestamp of an entry

	lock *sync.Mutex // mutex to control entries updates

	Timeline   []*EpisodeReportEntry // all the entries ordered by index
	TimeValues map[string][]*EpisodeReportEntry
	Logs       map[string]string
}

func NewEpisodeReport(episodeNumber int, experimentName string) *EpisodeReport {
	return &EpisodeReport{
		EpisodeNumber:  episodeNumber,
		ExperimentName: experimentName,

		nextIndex: 0,
		startTime: time.Now(),

		lock: &sync.Mutex{},

		Timeline:   make([]*EpisodeReportEntry, 0),
		TimeValues: make(map[string][]*EpisodeReportEntry),
		Logs:       make(map[string]string),
	}
}

// add a new duration entry to the report
func (e *EpisodeReport) AddTimeEntry(value time.Duration, step int, entryType string, caller string) {
	e.lock.Lock()
	defer e.lock.Unlock()

	entry := EpisodeReportEntry{
		Index:     e.nextIndex,
		Timestamp: time.Since(e.startTime),

		EpisodeStep: step,
		EntryType:   entryType,
		Caller:      caller,
		Value:       value,
	}

	e.nextIndex += 1
	e.Timeline = append(e.Timeline, &entry)
	e.TimeValues[entryType] = append(e.TimeValues[entryType], &entry)
}

func (e *EpisodeReport) AddLog(value string, key string) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.Logs[key] = value
}

// Mean duration of the entries of a type, zero when there are none
func (e *EpisodeReport) Mean(entryType string) time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()

	entries := e.TimeValues[entryType]
	if len(entries) == 0 {
		return 0
	}
	var total time.Duration
	for _, en := range entries {
		total += en.Value
	}
	return total / time.Duration(len(entries))
}

// return a string representation of the report timeline
func (e *EpisodeReport) StringTimeline() string {
	result := fmt.Sprintf("Length: %d\n", len(e.Timeline))
	for _, entry := range e.Timeline {
		result = fmt.Sprintf("%s%s\n", result, entry.String())
	}
	for key, value := range e.Logs {
		result = fmt.Sprintf("%s\n%s :\n%s", result, key, value)
	}
	return result
}

// Entry of the Report
type EpisodeReportEntry struct {
	Index     int           // index of the entry, managed by the report
	Timestamp time.Duration // timestamp of the entry, managed by the report

	EpisodeStep int
	EntryType   string
	Caller      string // the method adding the entry
	Value       time.Duration
}

func (en *EpisodeReportEntry) String() string {
	return fmt.Sprintf("[ %6d | %5d | %3d ] %20s : %12s (%20s)", en.Index, en.Timestamp.Milliseconds(), en.EpisodeStep, en.EntryType, en.Value.String(), en.Caller)
}
