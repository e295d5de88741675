package domain

import "time"

// Metric is one named numeric observation within a Benchmark.
type Metric struct {
	Name  string
	Value float64
}

// Benchmark groups the metrics produced by a single benchmark execution
// within a Run (a run may cover more than one benchmark in its suite).
type Benchmark struct {
	Name    string
	Metrics []Metric
}

// Run is the immutable record of one completed benchmark (spec §3). RawJSON
// holds the original metrics blob byte-for-byte (up to whitespace); the
// Benchmarks/Hardware fields are derived, normalised projections of it.
type Run struct {
	ID        string
	Model     string
	Engine    string
	Suite     string
	Timestamp time.Time

	OutcomeSucceeded bool
	WallClock        time.Duration

	RawJSON    string
	Benchmarks []Benchmark
	Hardware   Hardware
}

// MetricValue looks up a named metric across all benchmarks on the run,
// returning the first match.
func (r Run) MetricValue(name string) (float64, bool) {
	for _, b := range r.Benchmarks {
		for _, m := range b.Metrics {
			if m.Name == name {
				return m.Value, true
			}
		}
	}
	return 0, false
}

// RunFilter narrows a Query over runs.
type RunFilter struct {
	Model     string
	Engine    string
	Suite     string
	Since     *time.Time
	Until     *time.Time
	Cursor    string // opaque pagination cursor, see storage package
	Limit     int
}

// AggregateStat is one row of an Aggregate() result (spec §4.1).
type AggregateStat struct {
	GroupKey string
	Mean     float64
	Min      float64
	Max      float64
	StdDev   float64
	CV       float64 // coefficient of variation = stddev / mean
	Count    int
}
