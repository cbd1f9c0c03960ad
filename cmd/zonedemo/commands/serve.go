package commands

import (
	"os/signal"
	"syscall"

	"github.com/sghaida/zoned/internal/config"
	"github.com/sghaida/zoned/internal/demo"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the counter over HTTP, one zone per request",
	Long: `Serve exposes /health, /metrics, /stats and POST /count?n=N. Every
/count request runs in a zone of its own, so it always starts from a fresh
counter.

Examples:
  zonedemo serve --addr localhost:8080
  curl -X POST 'localhost:8080/count?n=3'`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: metrics.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	addr := cfg.Metrics.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	return demo.NewServer(addr, demo.NewRouter(a.dir, a.counter, a.reg)).Start(ctx)
}
