package service

import (
	"log/slog"

	"github.com/sghaida/zoned/metrics"
	"github.com/sghaida/zoned/zone"
	"go.opentelemetry.io/otel/trace"
)

// DirectoryOption configures a Directory.
type DirectoryOption func(*dirConfig)

type dirConfig struct {
	tracker *zone.Tracker
	metrics *metrics.Metrics
	logger  *slog.Logger
	tp      trace.TracerProvider
}

// WithTracker binds the directory to t. Without it the process-wide tracker
// installed by zone.Init is used.
func WithTracker(t *zone.Tracker) DirectoryOption {
	return func(c *dirConfig) { c.tracker = t }
}

// WithMetrics records instantiations, destroys and isolations on m.
func WithMetrics(m *metrics.Metrics) DirectoryOption {
	return func(c *dirConfig) { c.metrics = m }
}

// WithLogger sets the logger used when a ctx carries none.
func WithLogger(l *slog.Logger) DirectoryOption {
	return func(c *dirConfig) { c.logger = l }
}

// WithTracerProvider sets the provider isolation spans are created from.
func WithTracerProvider(tp trace.TracerProvider) DirectoryOption {
	return func(c *dirConfig) { c.tp = tp }
}

// Option configures a Service.
type Option func(*options)

type options struct {
	name string
	dir  *Directory
}

// WithName names the service in logs, metrics and errors. The default is the
// type name of T.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDirectory registers the service's instances in d instead of the
// default directory.
func WithDirectory(d *Directory) Option {
	return func(o *options) { o.dir = d }
}
