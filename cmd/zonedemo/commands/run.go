package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sghaida/zoned/internal/config"
	"github.com/sghaida/zoned/internal/demo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	isolations  int
	workers     int
	ticks       int
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the counter workload under concurrent isolations",
	Long: `Run starts the configured number of isolations. Each one ticks its own
counter, adds its index and reports the value it ends with. The root counter
is left untouched.

Examples:
  # Run with defaults
  zonedemo run

  # 100 isolations, 8 at a time, serving /metrics while running
  zonedemo run --isolations 100 --workers 8 --metrics-addr localhost:9090

  # Override the log level through the environment
  ZONED_LOGGING_LEVEL=DEBUG zonedemo run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&isolations, "isolations", 0, "number of isolations (overrides demo.isolations)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "isolations run at once (overrides demo.workers)")
	runCmd.Flags().IntVar(&ticks, "ticks", 0, "ticks every isolation waits for (overrides demo.ticks)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while running (enables metrics)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("isolations") {
		cfg.Demo.Isolations = isolations
	}
	if flags.Changed("workers") {
		cfg.Demo.Workers = workers
	}
	if flags.Changed("ticks") {
		cfg.Demo.Ticks = ticks
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if cfg.Metrics.Enabled {
		srv := demo.NewServer(cfg.Metrics.Addr, demo.NewRouter(a.dir, a.counter, a.reg))
		g.Go(func() error { return srv.Start(srvCtx) })
	}

	var rep *demo.Report
	g.Go(func() error {
		defer stopServer()
		var err error
		rep, err = demo.Run(gctx, a.dir, a.counter, demo.Workload{
			Isolations:   cfg.Demo.Isolations,
			Workers:      cfg.Demo.Workers,
			Ticks:        cfg.Demo.Ticks,
			TickInterval: cfg.Demo.TickInterval,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d isolations in %s\n", rep.RunID, len(rep.Values), rep.Duration)
	fmt.Fprintf(out, "values: %v\n", rep.Values)
	fmt.Fprintf(out, "root value: %d\n", rep.RootValue)
	fmt.Fprintf(out, "live units: %d, live zones: %d\n", rep.Stats.Units, rep.Stats.Zones)
	return nil
}
