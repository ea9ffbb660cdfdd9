package main

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/internal/daemon"
	"github.com/yairfalse/warden/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and metrics",
	Long: `Serve the HTTP API under /api/v1 and Prometheus metrics on /metrics.

When [materialize] interval is set, every account is re-materialized on that
schedule. The process stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		metrics, err := daemon.NewMetrics()
		if err != nil {
			return err
		}

		api := server.NewWebAPI(log.Logger, server.Config{
			Addr:            a.cfg.Server.Addr,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
			DriftLimit:      a.cfg.Drift.OverviewLimit,
			Middlewares:     []func(next http.Handler) http.Handler{metrics.Middleware},
			Dependencies: server.Dependencies{
				Accounts:     a.relational,
				Frameworks:   a.relational,
				Materializer: a.materializer,
				Posture:      a.posture,
				Drift:        a.drift,
				Compliance:   a.compliance,
			},
		})

		d, err := daemon.NewDaemon(daemon.Config{
			API:            api,
			MetricsAddr:    a.cfg.Server.MetricsAddr,
			MetricsHandler: a.telemetry.MetricsHandler(),
			Interval:       a.cfg.Materialize.Interval,
			Accounts:       a.relational,
			Refresher:      a.materializer,
			Metrics:        metrics,
			Logger:         log.Logger,
		})
		if err != nil {
			return err
		}

		log.Info().
			Str("addr", a.cfg.Server.Addr).
			Str("metrics_addr", a.cfg.Server.MetricsAddr).
			Dur("interval", a.cfg.Materialize.Interval).
			Msg("warden serving")
		return d.Run(cmd.Context())
	})
}
