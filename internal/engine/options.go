package engine

import (
	"log/slog"
	"time"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/metrics"
	"github.com/emberfall/cinder/internal/store"
)

// Defaults for engine tunables.
const (
	DefaultMaxCausationDepth       = 32
	DefaultRuleTimeout             = 5 * time.Second
	DefaultTemporalCleanupInterval = time.Second
	DefaultTimerCheckInterval      = time.Second
)

type options struct {
	name string
	log  *slog.Logger
	clk  clock.Clock
	ids  bus.IDGenerator

	persistence      store.Adapter
	timerPersistence store.Adapter

	maxCausationDepth  int
	defaultRuleTimeout time.Duration
	temporalCleanup    time.Duration
	timerCheck         time.Duration
	webhookRetry       WebhookRetry
	metrics            metrics.Options
}

// Option configures an Engine.
type Option func(*options)

// WithName sets the engine identifier used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock substitutes the time source. Tests pass a manual clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithIDGenerator substitutes the event id generator.
func WithIDGenerator(ids bus.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithPersistence enables durable rules and version history.
func WithPersistence(a store.Adapter) Option {
	return func(o *options) { o.persistence = a }
}

// WithTimerPersistence enables durable timers.
func WithTimerPersistence(a store.Adapter) Option {
	return func(o *options) { o.timerPersistence = a }
}

// WithMaxCausationDepth bounds emit chains. A notification whose
// causation depth reaches the limit aborts its chain.
func WithMaxCausationDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCausationDepth = n
		}
	}
}

// WithDefaultRuleTimeout sets the per-rule evaluation deadline applied
// when a rule carries no timeout of its own.
func WithDefaultRuleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultRuleTimeout = d
		}
	}
}

// WithTemporalCleanupInterval sets the window sweep cadence.
func WithTemporalCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.temporalCleanup = d
		}
	}
}

// WithTimerCheckInterval sets the timer wheel sweep cadence.
func WithTimerCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timerCheck = d
		}
	}
}

// WithWebhookRetry sets the webhook delivery policy. Zero fields keep
// their defaults.
func WithWebhookRetry(r WebhookRetry) Option {
	return func(o *options) { o.webhookRetry = r }
}

// WithMetrics configures the Prometheus collectors. The Engine label is
// filled from the engine name.
func WithMetrics(m metrics.Options) Option {
	return func(o *options) { o.metrics = m }
}

func defaultOptions() options {
	return options{
		name:               "cinder",
		log:                slog.Default(),
		clk:                clock.System(),
		ids:                bus.UUIDv7Generator{},
		maxCausationDepth:  DefaultMaxCausationDepth,
		defaultRuleTimeout: DefaultRuleTimeout,
		temporalCleanup:    DefaultTemporalCleanupInterval,
		timerCheck:         DefaultTimerCheckInterval,
		webhookRetry:       DefaultWebhookRetry,
	}
}
