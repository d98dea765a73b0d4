package flow

import "time"

// Options carries the engine's advisory execution parameters. Zero
// values are replaced with the documented defaults at construction.
//
// DefaultTimeout, RetryAttempts and RetryDelay are exposed to executors
// through ExecContext; the engine itself imposes no deadline and no
// retry. MaxParallel is an advisory hint recorded for executors and
// hosts; fan-out tasks are cheap and the engine does not gate them.
type Options struct {
	// DefaultTimeout is the advisory per-node timeout. Default 30s.
	DefaultTimeout time.Duration

	// MaxParallel is the advisory fan-out width hint. Default 10.
	MaxParallel int

	// RetryAttempts is the advisory executor retry count. Default 3.
	RetryAttempts int

	// RetryDelay is the advisory delay between executor retries.
	// Default 1s.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.MaxParallel == 0 {
		o.MaxParallel = 10
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := flow.NewEngine(
//	    workflows, executions, registry, logger,
//	    flow.WithClock(fakeClock),
//	    flow.WithDefaultTimeout(10*time.Second),
//	)
type Option func(*Engine)

// WithClock injects the time source. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithCredentialStore wires the credential resolver exposed to executors
// via ExecContext. Without it, credential lookups fail.
func WithCredentialStore(cs CredentialStore) Option {
	return func(e *Engine) {
		e.credentials = cs
	}
}

// WithStepController replaces the engine's step-debug controller.
// Defaults to a fresh disabled controller.
func WithStepController(sc *StepController) Option {
	return func(e *Engine) {
		e.step = sc
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	engine := flow.NewEngine(ws, es, reg, logger, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDefaultTimeout sets the advisory per-node timeout exposed to
// executors. Default 30s.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.opts.DefaultTimeout = d
	}
}

// WithMaxParallel sets the advisory fan-out width hint. Default 10.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		e.opts.MaxParallel = n
	}
}

// WithRetryAttempts sets the advisory executor retry count. Default 3.
func WithRetryAttempts(n int) Option {
	return func(e *Engine) {
		e.opts.RetryAttempts = n
	}
}

// WithRetryDelay sets the advisory delay between executor retries.
// Default 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.opts.RetryDelay = d
	}
}
