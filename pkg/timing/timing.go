// Package timing accumulates wall clock durations per pipeline phase.
//
// A Recorder is an explicit value handed to the code being measured; there is
// no process wide state. A nil *Recorder is valid and records nothing.
package timing

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

// Durations are recorded in microseconds up to one hour.
const (
	minMicros = 1
	maxMicros = int64(time.Hour / time.Microsecond)
	sigFigs   = 3
)

// Phase summarizes the calls recorded for one phase.
type Phase struct {
	Name  string
	Count int64
	Total time.Duration
	Mean  time.Duration
	P95   time.Duration
	Max   time.Duration
}

// Recorder collects durations by phase name. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	hists  map[string]*hdrhistogram.Histogram
	totals map[string]time.Duration
	order  []string
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Reset()
	return r
}

// Start begins timing a phase and returns the function that ends it.
//
//	defer rec.Start("eye")()
func (r *Recorder) Start(phase string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() { r.Record(phase, time.Since(start)) }
}

// Record adds one duration to a phase.
func (r *Recorder) Record(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hists[phase]
	if !ok {
		h = hdrhistogram.New(minMicros, maxMicros, sigFigs)
		r.hists[phase] = h
		r.order = append(r.order, phase)
	}
	us := int64(d / time.Microsecond)
	us = min(max(us, minMicros), maxMicros)
	if err := h.RecordValue(us); err != nil {
		return
	}
	r.totals[phase] += d
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists = make(map[string]*hdrhistogram.Histogram)
	r.totals = make(map[string]time.Duration)
	r.order = nil
}

// Phases returns a summary per phase in the order phases were first seen.
func (r *Recorder) Phases() []Phase {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Phase, 0, len(r.order))
	for _, name := range r.order {
		h := r.hists[name]
		out = append(out, Phase{
			Name:  name,
			Count: h.TotalCount(),
			Total: r.totals[name],
			Mean:  time.Duration(h.Mean()) * time.Microsecond,
			P95:   time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
			Max:   time.Duration(h.Max()) * time.Microsecond,
		})
	}
	return out
}

// WriteSummary prints one line per phase.
func (r *Recorder) WriteSummary(w io.Writer) error {
	for _, p := range r.Phases() {
		_, err := fmt.Fprintf(w, "%-16s %4d calls  total %10s  mean %10s  p95 %10s  max %10s\n",
			p.Name, p.Count, p.Total.Round(time.Microsecond), p.Mean, p.P95, p.Max)
		if err != nil {
			return err
		}
	}
	return nil
}
