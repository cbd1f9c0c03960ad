package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sghaida/zoned/examples/counter"
	"github.com/sghaida/zoned/internal/config"
	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/internal/telemetry"
	"github.com/sghaida/zoned/metrics"
	"github.com/sghaida/zoned/service"
	"github.com/sghaida/zoned/zone"
)

// app holds everything a command needs once the configuration was loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	dir     *service.Directory
	counter *counter.Handle

	shutdown func(context.Context) error
}

// bootstrap sets up logging, tracing, metrics, the process zone tracker and
// a service directory for cfg. The returned ctx carries the logger.
func bootstrap(ctx context.Context, cfg *config.Config) (context.Context, *app, error) {
	logger := slog.New(zone.NewLogHandler(ctxlog.NewHandler(cfg.Logging.Level, cfg.Logging.Format, os.Stderr), nil))
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	tp, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "zonedemo",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tr := zone.Init(ctx,
		zone.WithLogger(logger),
		zone.WithMetrics(m),
		zone.WithTracerProvider(tp),
	)
	dir := service.NewDirectory(
		service.WithTracker(tr),
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithTracerProvider(tp),
	)

	return ctx, &app{
		cfg:      cfg,
		logger:   logger,
		reg:      reg,
		dir:      dir,
		counter:  counter.NewHandle(service.WithDirectory(dir)),
		shutdown: shutdown,
	}, nil
}

// close destroys the root zone's services and flushes pending spans.
func (a *app) close(ctx context.Context) {
	a.dir.DestroyAll(ctx)
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("telemetry shutdown error", "error", err)
	}
}
