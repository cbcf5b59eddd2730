// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package extensions holds the hooks attached to the training loop: the periodic evaluation
// report (written to a log file, printed and plotted), snapshots and learning-rate shifts.
//
// The report is collected through plots.AddTrainAndEvalMetrics, so Reporter implements
// plots.Plotter and turns each sample into one Entry.
package extensions

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// KeyEpoch is the number of completed epochs when the entry was recorded.
	KeyEpoch = "epoch"

	// KeyIteration is the number of training steps done when the entry was recorded.
	KeyIteration = "iteration"

	// KeyElapsedTime is the wall time, in seconds, since the reporter started.
	KeyElapsedTime = "elapsed_time"

	// TrainPrefix is prepended to the metric type of training metrics.
	TrainPrefix = "main/"

	// EvalPrefix is prepended to the metric type of metrics evaluated on the test set.
	EvalPrefix = "validation/main/"

	// Priority of the report hook: it runs after the default priority hooks.
	Priority = train.Priority(100)
)

// Entry is one record of the training report.
type Entry struct {
	Epoch       int
	Iteration   int
	ElapsedTime float64

	// Values maps the metric key (e.g. "main/loss" or "validation/main/accuracy") to its value.
	Values map[string]float64
}

// Get returns the value for key, including the KeyEpoch, KeyIteration and KeyElapsedTime fields.
func (e Entry) Get(key string) (value float64, found bool) {
	switch key {
	case KeyEpoch:
		return float64(e.Epoch), true
	case KeyIteration:
		return float64(e.Iteration), true
	case KeyElapsedTime:
		return e.ElapsedTime, true
	}
	value, found = e.Values[key]
	return
}

// Keys returns the sorted metric keys of the entry.
func (e Entry) Keys() []string {
	return slices.Sorted(maps.Keys(e.Values))
}

// MarshalJSON writes the entry as a flat object.
func (e Entry) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Values)+3)
	for key, value := range e.Values {
		flat[key] = value
	}
	flat[KeyEpoch] = e.Epoch
	flat[KeyIteration] = e.Iteration
	flat[KeyElapsedTime] = e.ElapsedTime
	return json.Marshal(flat)
}

// UnmarshalJSON reads an entry written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return errors.Wrap(err, "failed to parse report entry")
	}
	*e = Entry{Values: make(map[string]float64, len(flat))}
	for key, value := range flat {
		switch key {
		case KeyEpoch:
			e.Epoch = int(value)
		case KeyIteration:
			e.Iteration = int(value)
		case KeyElapsedTime:
			e.ElapsedTime = value
		default:
			e.Values[key] = value
		}
	}
	return nil
}

// MetricKey maps a plot point to the key used in the report:
// training metrics become TrainPrefix+MetricType, metrics evaluated on a dataset
// become EvalPrefix+MetricType. Anything else is keyed by its metric name.
func MetricKey(point plots.Point) string {
	switch {
	case strings.HasPrefix(point.MetricName, "Train: "):
		return TrainPrefix + point.MetricType
	case strings.Contains(point.MetricName, " on "):
		return EvalPrefix + point.MetricType
	}
	return point.MetricName
}

// Sink receives each completed report entry.
type Sink interface {
	WriteEntry(entry Entry) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(entry Entry) error

// WriteEntry implements Sink.
func (fn SinkFunc) WriteEntry(entry Entry) error { return fn(entry) }

// Reporter implements plots.Plotter, collecting the points of each evaluation into one Entry
// and handing it to its sinks in order.
type Reporter struct {
	sinks              []Sink
	now                func() time.Time
	start              time.Time
	iterationsPerEpoch int

	current *Entry
	entries []Entry
	err     error
}

var _ plots.Plotter = (*Reporter)(nil)

// NewReporter creates a Reporter that sends its entries to sinks.
// The elapsed time is counted from this call.
func NewReporter(sinks ...Sink) *Reporter {
	r := &Reporter{sinks: sinks, now: time.Now}
	r.start = r.now()
	return r
}

// WithClock replaces the clock used to measure elapsed time, and restarts it.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	r.start = now()
	return r
}

// IterationsPerEpoch sets the number of training steps in one epoch, used to compute
// the entry's epoch from its iteration. If not set (0), the loop's current epoch is used.
func (r *Reporter) IterationsPerEpoch(n int) *Reporter {
	r.iterationsPerEpoch = n
	return r
}

// AddSink appends a sink.
func (r *Reporter) AddSink(sink Sink) {
	r.sinks = append(r.sinks, sink)
}

// Entries returns the entries reported so far.
func (r *Reporter) Entries() []Entry {
	return r.entries
}

// Begin starts a new entry for the given iteration and epoch.
func (r *Reporter) Begin(epoch, iteration int) {
	if r.iterationsPerEpoch > 0 {
		epoch = iteration / r.iterationsPerEpoch
	}
	r.current = &Entry{
		Epoch:       epoch,
		Iteration:   iteration,
		ElapsedTime: r.now().Sub(r.start).Seconds(),
		Values:      make(map[string]float64),
	}
}

// AddPoint implements plots.Plotter.
func (r *Reporter) AddPoint(point plots.Point) {
	if r.current == nil {
		r.Begin(0, int(point.Step))
	}
	if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) {
		return
	}
	r.current.Values[MetricKey(point)] = point.Value
}

// DynamicSampleDone implements plots.Plotter: it closes the current entry and sends it to the sinks.
// The first sink error is kept and returned by Err (and by the loop hook installed by Attach).
func (r *Reporter) DynamicSampleDone(incomplete bool) {
	if r.current == nil {
		return
	}
	entry := *r.current
	r.current = nil
	if incomplete {
		klog.Warningf("report at iteration %d has NaN or infinite metrics", entry.Iteration)
	}
	r.entries = append(r.entries, entry)
	for _, sink := range r.sinks {
		if err := sink.WriteEntry(entry); err != nil && r.err == nil {
			r.err = err
		}
	}
}

// Err returns the first error returned by a sink, if any.
func (r *Reporter) Err() error {
	return r.err
}

// Report evaluates on evalDatasets and records one entry with them and the training metrics.
// It can be used directly as a loop OnStep hook through Attach.
func (r *Reporter) Report(loop *train.Loop, trainMetrics []*tensors.Tensor, evalDatasets []train.Dataset) error {
	r.Begin(loop.Epoch, loop.LoopStep+1)
	if err := plots.AddTrainAndEvalMetrics(r, loop, trainMetrics, evalDatasets, nil); err != nil {
		r.current = nil
		return errors.WithMessagef(err, "report at iteration %d", loop.LoopStep+1)
	}
	return r.Err()
}

// Attach reports every `every` training steps, evaluating on evalDatasets.
func (r *Reporter) Attach(loop *train.Loop, every int, evalDatasets ...train.Dataset) {
	if every <= 0 {
		return
	}
	train.EveryNSteps(loop, every, "report", Priority,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return r.Report(loop, metrics, evalDatasets)
		})
}
