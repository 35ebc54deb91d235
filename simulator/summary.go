package simulator

import (
	"fmt"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// Moments summarizes one metric across trials.
type Moments struct {
	Mean   float64
	StdDev float64
	P5     float64
	P50    float64
	P95    float64
}

func (m Moments) String() string {
	return fmt.Sprintf("mean %.3g stddev %.3g p5 %.3g p50 %.3g p95 %.3g", m.Mean, m.StdDev, m.P5, m.P50, m.P95)
}

// Summary aggregates the completed trials of an experiment.
type Summary struct {
	Trials    int
	Completed int
	Seconds   Moments // time to completion
	Overhead  Moments // frames decoded per source block
	Damaged   Moments // damaged reads per trial
}

func collectMoments(results []Result, metric func(r Result) float64) Moments {
	s := stats.Sample{}
	for _, r := range results {
		s.Xs = append(s.Xs, metric(r))
	}
	if len(s.Xs) == 0 {
		return Moments{}
	}
	sort.Float64s(s.Xs)
	s.Sorted = true

	m := Moments{
		Mean: s.Mean(),
		P5:   s.Quantile(0.05),
		P50:  s.Quantile(0.50),
		P95:  s.Quantile(0.95),
	}
	// stddev of a single sample is NaN
	if len(s.Xs) > 1 {
		m.StdDev = s.StdDev()
	}
	return m
}

// Summarize computes the moments of the completed trials. Trials that gave up
// only count towards Trials.
func Summarize(results []Result) Summary {
	var done []Result
	for _, r := range results {
		if r.Completed {
			done = append(done, r)
		}
	}
	return Summary{
		Trials:    len(results),
		Completed: len(done),
		Seconds: collectMoments(done, func(r Result) float64 {
			return r.Duration.Seconds()
		}),
		Overhead: collectMoments(done, Result.Overhead),
		Damaged: collectMoments(done, func(r Result) float64 {
			return float64(r.Damaged)
		}),
	}
}

