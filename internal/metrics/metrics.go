// Package metrics exposes the engine's observability hooks as prometheus
// collectors: rule match/fire counters, evaluation duration, action
// outcomes, timeouts, and causation aborts.
//
// Per-rule labels are opt-in and capped: once maxLabeledRules distinct
// rules have been labelled, further rules fall into the "other" label so
// dynamic rule sets cannot blow up cardinality.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMaxLabeledRules caps distinct per-rule label values.
const DefaultMaxLabeledRules = 100

// overflowLabel absorbs rules beyond the label cap.
const overflowLabel = "other"

// Metrics holds the engine's prometheus collectors. All methods are safe
// for concurrent use.
type Metrics struct {
	perRule    bool
	maxLabeled int

	mu      sync.Mutex
	labeled map[string]bool

	ruleMatched    *prometheus.CounterVec
	ruleFired      *prometheus.CounterVec
	ruleTimeout    *prometheus.CounterVec
	evalDuration   *prometheus.HistogramVec
	actionExecuted *prometheus.CounterVec
	actionFailed   *prometheus.CounterVec
	causationAbort prometheus.Counter
	queueDepth     prometheus.Gauge
}

// Options configures collector registration.
type Options struct {
	// Engine is the engine identifier used as a constant label.
	Engine string

	// Registerer receives the collectors. Nil uses the default registry.
	Registerer prometheus.Registerer

	// PerRuleMetrics enables per-rule label values.
	PerRuleMetrics bool

	// MaxLabeledRules caps distinct rule labels; 0 means the default.
	MaxLabeledRules int
}

// New registers the engine's collectors and returns the handle.
func New(opts Options) *Metrics {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	maxLabeled := opts.MaxLabeledRules
	if maxLabeled <= 0 {
		maxLabeled = DefaultMaxLabeledRules
	}
	constLabels := prometheus.Labels{"engine": opts.Engine}
	factory := promauto.With(reg)

	return &Metrics{
		perRule:    opts.PerRuleMetrics,
		maxLabeled: maxLabeled,
		labeled:    make(map[string]bool),
		ruleMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cinder_rule_matched_total",
			Help:        "Rules whose trigger matched a notification.",
			ConstLabels: constLabels,
		}, []string{"rule"}),
		ruleFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cinder_rule_fired_total",
			Help:        "Rules whose conditions held and actions ran.",
			ConstLabels: constLabels,
		}, []string{"rule"}),
		ruleTimeout: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cinder_rule_timeout_total",
			Help:        "Rule evaluations aborted by the per-rule timeout.",
			ConstLabels: constLabels,
		}, []string{"rule"}),
		evalDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cinder_rule_evaluation_duration_seconds",
			Help:        "Condition evaluation plus action execution time per firing.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"rule"}),
		actionExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cinder_action_executed_total",
			Help:        "Actions executed, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		actionFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "cinder_action_failed_total",
			Help:        "Actions that failed, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		causationAbort: factory.NewCounter(prometheus.CounterOpts{
			Name:        "cinder_causation_depth_exceeded_total",
			Help:        "Dispatch chains aborted by the causation depth guard.",
			ConstLabels: constLabels,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "cinder_dispatch_queue_depth",
			Help:        "Pending notifications in the dispatch queue.",
			ConstLabels: constLabels,
		}),
	}
}

// ruleLabel maps a rule id to its label value under the cardinality cap.
func (m *Metrics) ruleLabel(ruleID string) string {
	if !m.perRule {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.labeled[ruleID] {
		return ruleID
	}
	if len(m.labeled) < m.maxLabeled {
		m.labeled[ruleID] = true
		return ruleID
	}
	return overflowLabel
}

// RuleMatched counts a trigger match.
func (m *Metrics) RuleMatched(ruleID string) {
	m.ruleMatched.WithLabelValues(m.ruleLabel(ruleID)).Inc()
}

// RuleFired counts a completed firing.
func (m *Metrics) RuleFired(ruleID string) {
	m.ruleFired.WithLabelValues(m.ruleLabel(ruleID)).Inc()
}

// RuleTimeout counts an evaluation aborted by timeout.
func (m *Metrics) RuleTimeout(ruleID string) {
	m.ruleTimeout.WithLabelValues(m.ruleLabel(ruleID)).Inc()
}

// ObserveEvaluation records a firing's evaluation duration.
func (m *Metrics) ObserveEvaluation(ruleID string, d time.Duration) {
	m.evalDuration.WithLabelValues(m.ruleLabel(ruleID)).Observe(d.Seconds())
}

// ActionExecuted counts an executed action by kind.
func (m *Metrics) ActionExecuted(kind string) {
	m.actionExecuted.WithLabelValues(kind).Inc()
}

// ActionFailed counts a failed action by kind.
func (m *Metrics) ActionFailed(kind string) {
	m.actionFailed.WithLabelValues(kind).Inc()
}

// CausationExceeded counts a dispatch chain abort.
func (m *Metrics) CausationExceeded() {
	m.causationAbort.Inc()
}

// SetQueueDepth records the dispatch queue length.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
