// Package daemon runs the serving process: the HTTP API, the metrics
// endpoint and an optional periodic materialization loop, stopped together
// on a signal or the first failure.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"

	"github.com/yairfalse/warden/pkg/resource"
)

// APIServer is the HTTP API actor.
type APIServer interface {
	ListenAndServe() error
	Shutdown() error
}

// Refresher re-materializes one account.
type Refresher interface {
	Materialize(ctx context.Context, accountIdentifier string) (resource.MaterializeResult, error)
}

// AccountLister lists the accounts to refresh.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]resource.Account, error)
}

// Config holds daemon configuration
type Config struct {
	API APIServer

	MetricsAddr    string
	MetricsHandler http.Handler

	// Interval between refreshes of every account. Zero disables the loop.
	Interval  time.Duration
	Accounts  AccountLister
	Refresher Refresher
	Metrics   *Metrics

	Logger zerolog.Logger
}

// Daemon manages the serving process
type Daemon struct {
	cfg          Config
	metricsSrv   *http.Server
	startTime    time.Time
	refreshCount atomic.Int64
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config) (*Daemon, error) {
	if cfg.API == nil {
		return nil, errors.New("daemon: api server is required")
	}
	if cfg.Interval > 0 && (cfg.Accounts == nil || cfg.Refresher == nil) {
		return nil, errors.New("daemon: refresh interval set without accounts and refresher")
	}

	d := &Daemon{cfg: cfg, startTime: time.Now()}
	if cfg.MetricsAddr != "" && cfg.MetricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", cfg.MetricsHandler)
		d.metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return d, nil
}

// Run blocks until ctx is cancelled, a termination signal arrives or an
// actor fails. The returned error is nil on a clean stop.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(func() error {
		return d.cfg.API.ListenAndServe()
	}, func(error) {
		if err := d.cfg.API.Shutdown(); err != nil {
			d.cfg.Logger.Error().Err(err).Msg("api shutdown failed")
		}
	})

	if d.metricsSrv != nil {
		g.Add(func() error {
			d.cfg.Logger.Info().Str("addr", d.metricsSrv.Addr).Msg("serving metrics")
			if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			_ = d.metricsSrv.Close()
		})
	}

	if d.cfg.Interval > 0 {
		refreshCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.refreshLoop(refreshCtx)
		}, func(error) {
			cancel()
		})
	}

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) || errors.Is(err, context.Canceled) {
		d.cfg.Logger.Info().Msg("daemon stopped")
		return nil
	}
	return err
}

// refreshLoop returns only when ctx is done so the group keeps serving.
func (d *Daemon) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.refresh(ctx)
		}
	}
}

func (d *Daemon) refresh(ctx context.Context) {
	d.refreshCount.Add(1)

	accounts, err := d.cfg.Accounts.ListAccounts(ctx)
	if err != nil {
		d.cfg.Logger.Error().Err(err).Msg("failed to list accounts for refresh")
		return
	}

	for _, account := range accounts {
		start := time.Now()
		result, err := d.cfg.Refresher.Materialize(ctx, account.Identifier)
		status := "success"
		if err != nil {
			status = "error"
			d.cfg.Logger.Error().Err(err).Str("account", account.Identifier).Msg("refresh failed")
		} else {
			d.cfg.Logger.Debug().
				Str("account", account.Identifier).
				Int("total", result.Total).
				Int("protected", result.Protected).
				Msg("refreshed account")
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.RecordRefresh(ctx, status, time.Since(start).Seconds())
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string
	Uptime int64
}

// RefreshCount returns the number of refresh ticks handled
func (d *Daemon) RefreshCount() int64 {
	return d.refreshCount.Load()
}
