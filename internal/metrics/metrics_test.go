package metrics

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(opts Options) *Metrics {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	return New(opts)
}

func TestMetrics_Counters(t *testing.T) {
	m := newTestMetrics(Options{Engine: "test"})

	m.RuleMatched("r-1")
	m.RuleFired("r-1")
	m.RuleFired("r-1")
	m.ActionExecuted("log")
	m.ActionFailed("callWebhook")
	m.CausationExceeded()
	m.SetQueueDepth(7)
	m.ObserveEvaluation("r-1", 2*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ruleMatched))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleFired))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.actionExecuted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.actionFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.causationAbort))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_PerRuleLabelsOff(t *testing.T) {
	m := newTestMetrics(Options{Engine: "test"})

	// With per-rule labels off every rule lands on the empty label.
	m.RuleFired("r-1")
	m.RuleFired("r-2")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleFired.WithLabelValues("")))
}

func TestMetrics_PerRuleLabelCap(t *testing.T) {
	m := newTestMetrics(Options{Engine: "test", PerRuleMetrics: true, MaxLabeledRules: 2})

	m.RuleFired("r-1")
	m.RuleFired("r-2")
	m.RuleFired("r-3")
	m.RuleFired("r-4")
	m.RuleFired("r-1") // already labelled, stays distinct

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleFired.WithLabelValues("r-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ruleFired.WithLabelValues("r-2")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleFired.WithLabelValues(overflowLabel)),
		"rules beyond the cap share the overflow label")
}

func TestMetrics_LabelCapScales(t *testing.T) {
	m := newTestMetrics(Options{Engine: "test", PerRuleMetrics: true})

	for i := 0; i < DefaultMaxLabeledRules+10; i++ {
		m.RuleMatched("rule-" + strconv.Itoa(i))
	}
	assert.Equal(t, float64(10), testutil.ToFloat64(m.ruleMatched.WithLabelValues(overflowLabel)))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two engines with their own registries never collide.
	r1 := prometheus.NewRegistry()
	r2 := prometheus.NewRegistry()
	newTestMetrics(Options{Engine: "a", Registerer: r1})
	newTestMetrics(Options{Engine: "b", Registerer: r2})

	families, err := r1.Gather()
	require.NoError(t, err)
	// Counters are lazy; only the gauge registers a sample up front.
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "engine" {
					assert.Equal(t, "a", l.GetValue())
				}
			}
		}
	}
}
