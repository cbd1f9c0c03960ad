package zone

import (
	"log/slog"

	"github.com/sghaida/zoned/async"
	"github.com/sghaida/zoned/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type config struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tp        trace.TracerProvider
	scheduler *async.Scheduler
}

// Option configures a Tracker or an Isolator.
type Option func(*config)

// WithLogger sets the logger used when a context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTracerProvider sets the provider isolation spans are created with.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tp = tp }
}

// WithScheduler selects the scheduler Init installs the tracker on.
func WithScheduler(s *async.Scheduler) Option {
	return func(c *config) { c.scheduler = s }
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.tp == nil {
		c.tp = otel.GetTracerProvider()
	}
	return c
}
