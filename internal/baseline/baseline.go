// Package baseline maintains rolling per-metric baselines for the
// baseline{} condition source. Each metric keeps a bounded window of
// timestamped samples; conditions compare the live value against the
// window's mean and standard deviation.
package baseline

import (
	"math"
	"sync"
	"time"
)

const (
	// maxSamplesPerMetric caps the retained window per metric.
	maxSamplesPerMetric = 256
	// maxSampleAge evicts samples older than this from the window.
	maxSampleAge = 30 * time.Minute
)

// Comparisons understood by Evaluate.
const (
	Above    = "above"
	Below    = "below"
	Deviates = "deviates"
)

type sample struct {
	value float64
	at    time.Time
}

// Tracker holds rolling sample windows keyed by metric name.
type Tracker struct {
	mu      sync.RWMutex
	windows map[string][]sample
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[string][]sample)}
}

// Record appends a sample and evicts stale entries.
func (t *Tracker) Record(metric string, value float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(t.windows[metric], sample{value: value, at: at})

	cutoff := at.Add(-maxSampleAge)
	start := 0
	for start < len(w) && w[start].at.Before(cutoff) {
		start++
	}
	w = w[start:]
	if len(w) > maxSamplesPerMetric {
		w = w[len(w)-maxSamplesPerMetric:]
	}
	t.windows[metric] = w
}

// Latest returns the most recent sample value for the metric.
func (t *Tracker) Latest(metric string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w := t.windows[metric]
	if len(w) == 0 {
		return 0, false
	}
	return w[len(w)-1].value, true
}

// Evaluate compares the latest sample against the metric's rolling
// baseline. Sensitivity is interpreted per comparison:
//
//   - above:    latest > mean * sensitivity
//   - below:    latest < mean / sensitivity
//   - deviates: |latest - mean| > sensitivity * stddev
//
// Returns (false, false) when the metric has fewer than two samples;
// a baseline needs history before it means anything.
func (t *Tracker) Evaluate(metric, comparison string, sensitivity float64) (result, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w := t.windows[metric]
	if len(w) < 2 {
		return false, false
	}
	latest := w[len(w)-1].value

	// Baseline excludes the live sample so spikes do not mask themselves.
	history := w[:len(w)-1]
	mean, stddev := stats(history)

	switch comparison {
	case Above:
		return latest > mean*sensitivity, true
	case Below:
		return latest < mean/sensitivity, true
	case Deviates:
		return math.Abs(latest-mean) > sensitivity*stddev, true
	default:
		return false, false
	}
}

func stats(w []sample) (mean, stddev float64) {
	var sum float64
	for _, s := range w {
		sum += s.value
	}
	mean = sum / float64(len(w))

	var sq float64
	for _, s := range w {
		d := s.value - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(w)))
	return mean, stddev
}
