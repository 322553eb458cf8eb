package types

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ReturnAnalyzer records the mean return over the environments of every episode
type ReturnAnalyzer struct {
	returns []float64
}

var _ Analyzer = &ReturnAnalyzer{}

func NewReturnAnalyzer() Analyzer {
	return &ReturnAnalyzer{returns: make([]float64, 0)}
}

func (r *ReturnAnalyzer) Analyze(_ int, _ int, _ string, traces []*Trace) {
	returns := make([]float64, len(traces))
	for i, t := range traces {
		returns[i] = t.Return()
	}
	r.returns = append(r.returns, stat.Mean(returns, nil))
}

func (r *ReturnAnalyzer) DataSet() DataSet {
	out := make([]float64, len(r.returns))
	copy(out, r.returns)
	return out
}

func (r *ReturnAnalyzer) Reset() {
	r.returns = make([]float64, 0)
}

// RewardTermsAnalyzer records, per info key, the mean value over all steps of every episode
type RewardTermsAnalyzer struct {
	terms    map[string][]float64
	episodes int
}

var _ Analyzer = &RewardTermsAnalyzer{}

func NewRewardTermsAnalyzer() Analyzer {
	return &RewardTermsAnalyzer{terms: make(map[string][]float64)}
}

func (r *RewardTermsAnalyzer) Analyze(_ int, _ int, _ string, traces []*Trace) {
	values := make(map[string][]float64)
	for _, t := range traces {
		for i := 0; i < t.Len(); i++ {
			_, _, _, _, info, _ := t.Get(i)
			for k, v := range info {
				values[k] = append(values[k], v)
			}
		}
	}
	for k, vs := range values {
		// keys first seen late are padded so every series is indexed by episode
		for len(r.terms[k]) < r.episodes {
			r.terms[k] = append(r.terms[k], 0)
		}
		r.terms[k] = append(r.terms[k], stat.Mean(vs, nil))
	}
	r.episodes += 1
	// keys missing from this episode
	for k := range r.terms {
		for len(r.terms[k]) < r.episodes {
			r.terms[k] = append(r.terms[k], 0)
		}
	}
}

func (r *RewardTermsAnalyzer) DataSet() DataSet {
	out := make(map[string][]float64, len(r.terms))
	for k, v := range r.terms {
		out[k] = append([]float64{}, v...)
	}
	return out
}

func (r *RewardTermsAnalyzer) Reset() {
	r.terms = make(map[string][]float64)
	r.episodes = 0
}

// SuccessAnalyzer records the fraction of environments that earned a success bonus in every episode
type SuccessAnalyzer struct {
	rates []float64
}

var _ Analyzer = &SuccessAnalyzer{}

func NewSuccessAnalyzer() Analyzer {
	return &SuccessAnalyzer{rates: make([]float64, 0)}
}

func (s *SuccessAnalyzer) Analyze(_ int, _ int, _ string, traces []*Trace) {
	if len(traces) == 0 {
		s.rates = append(s.rates, 0)
		return
	}
	successes := 0
	for _, t := range traces {
		for i := 0; i < t.Len(); i++ {
			_, _, _, _, info, _ := t.Get(i)
			if info["rew_success"] > 0 {
				successes += 1
				break
			}
		}
	}
	s.rates = append(s.rates, float64(successes)/float64(len(traces)))
}

func (s *SuccessAnalyzer) DataSet() DataSet {
	return append([]float64{}, s.rates...)
}

func (s *SuccessAnalyzer) Reset() {
	s.rates = make([]float64, 0)
}

func linePoints(values []float64) plotter.XYs {
	points := make(plotter.XYs, len(values))
	for i, v := range values {
		points[i] = plotter.XY{X: float64(i), Y: v}
	}
	return points
}

// SeriesPlotter plots one line per experiment of a []float64 dataset
func SeriesPlotter(plotPath, suffix, yLabel string) Comparator {
	if _, err := os.Stat(plotPath); err != nil {
		os.MkdirAll(plotPath, os.ModePerm)
	}
	return func(run int, names []string, ds []DataSet) {
		p := plot.New()
		p.Title.Text = "Comparison"
		p.X.Label.Text = "Episode"
		p.Y.Label.Text = yLabel
		for i := 0; i < len(names); i++ {
			series := ds[i].([]float64)
			if len(series) == 0 {
				continue
			}
			line, err := plotter.NewLine(linePoints(series))
			if err != nil {
				continue
			}
			line.Color = plotutil.Color(i)
			p.Add(line)
			p.Legend.Add(names[i], line)
		}
		p.Save(8*vg.Inch, 8*vg.Inch, path.Join(plotPath, strconv.Itoa(run)+"_"+suffix+".png"))
	}
}

// RewardTermsPlotter saves one plot per experiment with a line per reward term
func RewardTermsPlotter(plotPath string) Comparator {
	if _, err := os.Stat(plotPath); err != nil {
		os.MkdirAll(plotPath, os.ModePerm)
	}
	return func(run int, names []string, ds []DataSet) {
		for i := 0; i < len(names); i++ {
			terms := ds[i].(map[string][]float64)
			keys := make([]string, 0, len(terms))
			for k := range terms {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			p := plot.New()
			p.Title.Text = names[i]
			p.X.Label.Text = "Episode"
			p.Y.Label.Text = "Mean term value"
			for j, k := range keys {
				line, err := plotter.NewLine(linePoints(terms[k]))
				if err != nil {
					continue
				}
				line.Color = plotutil.Color(j)
				p.Add(line)
				p.Legend.Add(k, line)
			}
			p.Save(8*vg.Inch, 8*vg.Inch, path.Join(plotPath, strconv.Itoa(run)+"_"+names[i]+"_reward_terms.png"))
		}
	}
}

// SummaryPrinter prints the mean and standard deviation of a []float64 dataset per experiment
func SummaryPrinter(label string) Comparator {
	return func(run int, names []string, ds []DataSet) {
		for i, name := range names {
			series := ds[i].([]float64)
			if len(series) == 0 {
				fmt.Printf("Run %d, %s: no completed episodes for %s\n", run+1, name, label)
				continue
			}
			mean, std := stat.MeanStdDev(series, nil)
			fmt.Printf("Run %d, %s: %s %.5f +/- %.5f over %d episodes\n", run+1, name, label, mean, std, len(series))
		}
	}
}
