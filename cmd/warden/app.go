package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/warden/analyzer"
	"github.com/yairfalse/warden/compliance"
	"github.com/yairfalse/warden/internal/config"
	"github.com/yairfalse/warden/internal/emitter"
	"github.com/yairfalse/warden/internal/filter"
	itelemetry "github.com/yairfalse/warden/internal/telemetry"
	"github.com/yairfalse/warden/materializer"
	"github.com/yairfalse/warden/policy"
	"github.com/yairfalse/warden/posture"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/storage/sqlstore"
	"github.com/yairfalse/warden/telemetry"
	"github.com/yairfalse/warden/wal"
)

// app holds every component a command may need, built from one config.
type app struct {
	cfg    *config.Config
	logger *telemetry.Logger

	documents  *storage.BoltStore
	relational storage.RelationalStore
	journal    *wal.WAL
	telemetry  *itelemetry.Provider
	emitter    *emitter.MultiEmitter
	policies   *policy.Engine

	materializer *materializer.Materializer
	drift        *analyzer.DriftService
	compliance   *compliance.Runner
	posture      *posture.Aggregator

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: telemetry.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr}, cfg.OTEL.ServiceName),
	}

	if err := a.openStorage(); err != nil {
		a.close()
		return nil, err
	}

	provider, err := itelemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.telemetry = provider
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	})

	prom, err := emitter.NewPrometheusEmitter(provider.Meter())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create emitter: %w", err)
	}
	a.emitter = emitter.NewMultiEmitter(prom)
	a.closers = append(a.closers, a.emitter.Close)

	a.policies = policy.NewEngine(a.logger)
	if dir := cfg.Compliance.RulesDir; dir != "" {
		n, err := a.policies.LoadDir(ctx, dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			a.close()
			return nil, fmt.Errorf("failed to load policy modules: %w", err)
		}
		a.logger.Debug().Int("modules", n).Str("dir", dir).Msg("loaded policy modules")
	}

	validity := filter.New(
		cfg.Materialize.PriorityKinds,
		cfg.Materialize.InvalidIDs,
		cfg.Materialize.IncludeTags,
		cfg.Materialize.ExcludeTags,
	)
	a.materializer = materializer.New(a.documents, a.relational, a.relational, materializer.Options{
		PageSize: cfg.Materialize.PageSize,
		Filter:   validity,
		Journal: a.journal,
		Emitter: a.emitter,
		Logger:  a.logger,
	})

	detector := analyzer.NewDetector(analyzer.Options{
		HighRiskFields:        cfg.Drift.HighRiskFields,
		MediumRiskFields:      cfg.Drift.MediumRiskFields,
		HighChangeThreshold:   cfg.Drift.HighChangeThreshold,
		MediumChangeThreshold: cfg.Drift.MediumChangeThreshold,
	})
	a.drift = analyzer.NewDriftService(a.documents, a.relational, detector, a.logger)

	a.compliance = compliance.NewRunner(a.documents, a.relational, a.relational,
		compliance.NewEvaluator(a.policies, a.logger),
		compliance.RunnerOptions{
			PageSize: cfg.Materialize.PageSize,
			Filter:   validity,
			Journal:  a.journal,
			Logger:   a.logger,
		})

	a.posture = posture.NewAggregator(a.relational, a.relational, a.logger)

	return a, nil
}

// openStorage opens the document file and the relational backend. With
// the bolt backend both live in the same file.
func (a *app) openStorage() error {
	docs, err := storage.NewBoltStore(a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.documents = docs
	a.closers = append(a.closers, docs.Close)

	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := sqlstore.Open(a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.relational = db
		a.closers = append(a.closers, db.Close)
	default:
		a.relational = docs
	}

	journal, err := wal.Open(a.cfg.Storage.JournalDir)
	if err != nil {
		return err
	}
	a.journal = journal
	a.closers = append(a.closers, journal.Close)
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}

// withApp builds the app for one command run.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
