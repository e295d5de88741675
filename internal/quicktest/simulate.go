package quicktest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
)

// simulationLogLines are emitted in order, with 0.5-1.5s jitter between
// each, mirroring what a real agent would report while a container starts
// up and the benchmark runs (spec §4.4).
var simulationLogLines = []string{
	"pulling engine image",
	"starting container",
	"waiting for engine health check",
	"engine ready, loading model",
	"model loaded, running benchmark suite",
	"collecting metrics",
}

// simulate drives a test-agent quick test through the same state machine a
// real agent would, entirely within this process: no command is queued
// (spec §4.4 "Test-agent path: no command is queued").
func (d *Dispatcher) simulate(ctx context.Context, qt domain.QuickTest) {
	r := rand.New(rand.NewSource(seedFor(qt.ID)))

	if d.isCancelled(ctx, qt.ID) {
		return
	}
	if err := d.Transition(ctx, qt.ID, domain.QuickTestDispatched, ""); err != nil {
		return
	}

	advancedToRunning := false
	for _, line := range simulationLogLines {
		if d.isCancelled(ctx, qt.ID) {
			return
		}
		d.appendLog(ctx, qt.ID, line)
		if !advancedToRunning {
			if err := d.Transition(ctx, qt.ID, domain.QuickTestRunning, ""); err != nil {
				return
			}
			advancedToRunning = true
		}
		jitter := 500*time.Millisecond + time.Duration(r.Float64()*float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}

	if d.isCancelled(ctx, qt.ID) {
		return
	}

	bench, ok := d.benchmarkFor(qt.Suite)
	run := domain.Run{
		ID:               newID(),
		Model:            qt.ModelPath,
		Engine:           qt.EngineKey,
		Suite:            qt.Suite,
		Timestamp:        time.Now(),
		OutcomeSucceeded: true,
		WallClock:        time.Since(qt.CreatedAt),
	}
	if ok {
		run.Benchmarks = []domain.Benchmark{bench.Simulate(r)}
	}
	if err := d.store.SaveRun(ctx, run); err != nil {
		d.failQuickTest(ctx, qt.ID, fmt.Sprintf("save synthetic run: %v", err))
		return
	}
	if err := d.store.LinkQuickTestResult(ctx, qt.ID, run.ID); err != nil {
		d.failQuickTest(ctx, qt.ID, fmt.Sprintf("link result: %v", err))
		return
	}
	_ = d.Transition(ctx, qt.ID, domain.QuickTestCompleted, "")
}

func (d *Dispatcher) benchmarkFor(suite string) (bench benchmarkSuite, ok bool) {
	if d.benchmarks == nil {
		return benchmarkSuite{}, false
	}
	b, ok := d.benchmarks.Get(suite)
	if !ok {
		return benchmarkSuite{}, false
	}
	return benchmarkSuite{b}, true
}

func (d *Dispatcher) isCancelled(ctx context.Context, id string) bool {
	qt, err := d.store.GetQuickTest(ctx, id)
	if err != nil {
		return true
	}
	return qt.Status == domain.QuickTestCancelled
}

func (d *Dispatcher) appendLog(ctx context.Context, id, line string) {
	_ = d.store.AppendQuickTestLog(ctx, id, line)
	if _, err := d.bus.Publish(ctx, domain.Event{
		Type: domain.EventLog, SourceID: id, Payload: []byte(`{"line":` + quoteJSON(line) + `}`),
	}); err != nil && d.log != nil {
		d.log.WithField("error", err).Warn("quicktest: publish log failed")
	}
}

func (d *Dispatcher) failQuickTest(ctx context.Context, id, msg string) {
	_ = d.Transition(ctx, id, domain.QuickTestFailed, msg)
}

func quoteJSON(s string) string {
	// Minimal quoting sufficient for the plain log lines this package
	// generates itself; arbitrary agent-supplied text goes through
	// encoding/json in the HTTP layer instead.
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	out = append(out, '"')
	return string(out)
}

func seedFor(id string) int64 {
	var h int64 = 1469598103934665603
	for i := 0; i < len(id); i++ {
		h ^= int64(id[i])
		h *= 1099511628211
	}
	return h
}
