package types

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"strconv"
)

// EventDesc names a condition checked on every trace. Check returns whether the
// event occurred and the step it first occurred at.
type EventDesc struct {
	Name  string
	Check func(*Trace) (bool, int)
}

// InfoBelow fires on the first step whose info value for key is strictly below threshold
func InfoBelow(key string, threshold float64) func(*Trace) (bool, int) {
	return func(t *Trace) (bool, int) {
		for i := 0; i < t.Len(); i++ {
			_, _, _, _, info, _ := t.Get(i)
			if v, ok := info[key]; ok && v < threshold {
				return true, i
			}
		}
		return false, -1
	}
}

// InfoAbove fires on the first step whose info value for key is strictly above threshold
func InfoAbove(key string, threshold float64) func(*Trace) (bool, int) {
	return func(t *Trace) (bool, int) {
		for i := 0; i < t.Len(); i++ {
			_, _, _, _, info, _ := t.Get(i)
			if v, ok := info[key]; ok && v > threshold {
				return true, i
			}
		}
		return false, -1
	}
}

// NonFinite fires on the first step with a NaN or infinite observation, action,
// reward or info value
func NonFinite() func(*Trace) (bool, int) {
	bad := func(values []float64) bool {
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
		return false
	}
	return func(t *Trace) (bool, int) {
		for i := 0; i < t.Len(); i++ {
			obs, action, reward, _, info, _ := t.Get(i)
			if bad(obs) || bad(action) || bad([]float64{reward}) {
				return true, i
			}
			for _, v := range info {
				if bad([]float64{v}) {
					return true, i
				}
			}
		}
		return false, -1
	}
}

// EventOccurrences is the DataSet of an EventAnalyzer
type EventOccurrences struct {
	// First episode the event occurred in
	First map[string]int `json:"first"`
	// Count of episodes the event occurred in
	Count map[string]int `json:"count"`
}

// EventAnalyzer records in which episodes the events occurred and saves the trace
// of every occurrence under savePath
type EventAnalyzer struct {
	savePath string
	events   []EventDesc
	first    map[string]int
	count    map[string]int
}

var _ Analyzer = &EventAnalyzer{}

// NewEventAnalyzer clears savePath and returns a constructor of analyzers
// checking the events
func NewEventAnalyzer(savePath string, events ...EventDesc) AnalyzerConstructor {
	if _, err := os.Stat(savePath); err == nil {
		os.RemoveAll(savePath)
	}
	os.MkdirAll(savePath, 0777)
	return func() Analyzer {
		return &EventAnalyzer{
			savePath: savePath,
			events:   events,
			first:    make(map[string]int),
			count:    make(map[string]int),
		}
	}
}

func (e *EventAnalyzer) Analyze(run int, episode int, experiment string, traces []*Trace) {
	for _, ev := range e.events {
		occurred := false
		for _, t := range traces {
			found, step := ev.Check(t)
			if !found {
				continue
			}
			occurred = true
			name := strconv.Itoa(run) + "_" + experiment + "_" + ev.Name + "_" + strconv.Itoa(episode) +
				"_env" + strconv.Itoa(t.Env) + "_step" + strconv.Itoa(step) + ".json"
			if err := e.save(name, t); err != nil {
				fmt.Printf("could not save trace of event %s: %s\n", ev.Name, err)
			}
		}
		if !occurred {
			continue
		}
		if _, ok := e.first[ev.Name]; !ok {
			e.first[ev.Name] = episode
		}
		e.count[ev.Name]++
	}
}

func (e *EventAnalyzer) save(name string, t *Trace) error {
	bs, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(e.savePath, name), bs, 0644)
}

func (e *EventAnalyzer) DataSet() DataSet {
	out := EventOccurrences{First: make(map[string]int), Count: make(map[string]int)}
	for k, v := range e.first {
		out.First[k] = v
	}
	for k, v := range e.count {
		out.Count[k] = v
	}
	return out
}

func (e *EventAnalyzer) Reset() {
	e.first = make(map[string]int)
	e.count = make(map[string]int)
}

// EventComparator prints the occurrences of every experiment and saves them to savePath
func EventComparator(savePath string) Comparator {
	return func(run int, s []string, ds []DataSet) {
		data := make(map[string]EventOccurrences)
		for i, exp := range s {
			occurrences := ds[i].(EventOccurrences)
			fmt.Printf("For run:%d, experiment: %s\n", run, exp)
			for ev, first := range occurrences.First {
				fmt.Printf("\tEvent: %s, First episode: %d, Episodes: %d\n", ev, first, occurrences.Count[ev])
			}
			data[exp] = occurrences
		}

		bs, err := json.Marshal(data)
		if err == nil {
			os.MkdirAll(savePath, 0777)
			os.WriteFile(path.Join(savePath, strconv.Itoa(run)+"_events.json"), bs, 0644)
		}
	}
}
