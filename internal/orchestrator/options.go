package orchestrator

import (
	"time"

	"github.com/ShayCichocki/valiloop/internal/criteria"
	"github.com/ShayCichocki/valiloop/internal/metrics"
	"github.com/ShayCichocki/valiloop/internal/prompts"
	"github.com/ShayCichocki/valiloop/internal/state"
)

// RequiredConfig contains the collaborators a Controller cannot run without.
type RequiredConfig struct {
	RunContext *RunContext
	Resolver   ArtifactResolver
	Criteria   criteria.Source
	Deployer   Deployer
	Prober     HealthProber
	Scheduler  CriteriaRunner
}

// Option configures a Controller. Use With* functions to create Options.
type Option func(*controllerOptions)

type controllerOptions struct {
	aggregator      *Aggregator
	newLedger       LedgerFactory
	history         state.AttemptStore
	metrics         *metrics.Metrics
	events          *EventEmitter
	logger          *DebugLogger
	prompts         *prompts.Loader
	warnBeforeLimit int
	teardownTimeout time.Duration
}

func defaultControllerOptions() controllerOptions {
	return controllerOptions{
		warnBeforeLimit: 3,
		teardownTimeout: 2 * time.Minute,
	}
}

// WithAggregator replaces the result aggregator.
func WithAggregator(a *Aggregator) Option {
	return func(o *controllerOptions) { o.aggregator = a }
}

// WithLedgerFactory sets how the ledger is created on the first attempt of
// a session.
func WithLedgerFactory(f LedgerFactory) Option {
	return func(o *controllerOptions) { o.newLedger = f }
}

// WithHistory records every attempt in a state store.
func WithHistory(s state.AttemptStore) Option {
	return func(o *controllerOptions) { o.history = s }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *controllerOptions) { o.metrics = m }
}

// WithEvents sets the event emitter.
func WithEvents(e *EventEmitter) Option {
	return func(o *controllerOptions) { o.events = e }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *controllerOptions) { o.logger = l }
}

// WithPrompts replaces the prompt loader.
func WithPrompts(l *prompts.Loader) Option {
	return func(o *controllerOptions) { o.prompts = l }
}

// WithWarnBeforeLimit sets how many remaining attempts trigger the limit
// warning.
func WithWarnBeforeLimit(n int) Option {
	return func(o *controllerOptions) { o.warnBeforeLimit = n }
}

// WithTeardownTimeout bounds instance teardown.
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *controllerOptions) { o.teardownTimeout = d }
}
