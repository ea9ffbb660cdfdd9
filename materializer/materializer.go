// Package materializer derives the normalized asset table of an account
// from its raw document corpus.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/warden/classifier"
	"github.com/yairfalse/warden/internal/emitter"
	"github.com/yairfalse/warden/internal/filter"
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/protection"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/telemetry"
	"github.com/yairfalse/warden/wal"
)

// ErrScanFailed wraps every failure that aborted a run before commit.
var ErrScanFailed = errors.New("materialization scan failed")

// Options configures a Materializer. Zero values select the defaults.
type Options struct {
	PageSize int
	Filter   *filter.Filter
	Journal  *wal.WAL
	Emitter  emitter.Emitter
	Logger   *telemetry.Logger
	Now      func() time.Time
}

// Materializer rebuilds the asset rows of one account at a time.
type Materializer struct {
	documents storage.DocumentReader
	accounts  storage.AccountStore
	assets    storage.AssetStore

	filter   *filter.Filter
	pageSize int
	journal  *wal.WAL
	emitter  emitter.Emitter
	logger   *telemetry.Logger
	now      func() time.Time
	locks    *keyedLock
}

// New creates a Materializer over the given stores.
func New(documents storage.DocumentReader, accounts storage.AccountStore, assets storage.AssetStore, opts Options) *Materializer {
	m := &Materializer{
		documents: documents,
		accounts:  accounts,
		assets:    assets,
		filter:    opts.Filter,
		pageSize:  opts.PageSize,
		journal:   opts.Journal,
		emitter:   opts.Emitter,
		logger:    opts.Logger,
		now:       opts.Now,
		locks:     newKeyedLock(),
	}
	if m.filter == nil {
		m.filter = filter.Default()
	}
	if m.pageSize <= 0 {
		m.pageSize = storage.DefaultPageSize
	}
	if m.logger == nil {
		m.logger = telemetry.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// runStats is journaled with every run entry.
type runStats struct {
	AccountID   string         `json:"account_id"`
	Total       int            `json:"total"`
	Protected   int            `json:"protected"`
	Unprotected int            `json:"unprotected"`
	Skipped     int            `json:"skipped"`
	Duplicates  int            `json:"duplicates"`
	Rejected    map[string]int `json:"rejected,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// Materialize rebuilds the asset rows of the account named by
// accountIdentifier. An unknown account yields zero counts and no writes.
func (m *Materializer) Materialize(ctx context.Context, accountIdentifier string) (resource.MaterializeResult, error) {
	account, err := m.accounts.GetAccount(ctx, accountIdentifier)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.WithContext(ctx).Info().
			Str("account", accountIdentifier).
			Msg("account not found, nothing to materialize")
		return resource.MaterializeResult{}, nil
	}
	if err != nil {
		return resource.MaterializeResult{}, fmt.Errorf("%w: resolve account %s: %w", ErrScanFailed, accountIdentifier, err)
	}

	unlock, err := m.locks.lock(ctx, account.ID)
	if err != nil {
		return resource.MaterializeResult{}, fmt.Errorf("%w: wait for account %s: %w", ErrScanFailed, account.Identifier, err)
	}
	defer unlock()

	ctx, span := telemetry.StartMaterialize(ctx, account.Identifier)
	defer span.End()

	startedAt := m.now().UTC()
	m.logger.LogRunStart(ctx, "materialize", account.Identifier)
	m.journalAppend(ctx, wal.EntryRunStarted, account, runStats{AccountID: account.ID}, nil)

	assets, stats, err := m.collect(ctx, span, account, startedAt)
	if err == nil {
		err = m.assets.ReplaceAccountAssets(ctx, account.ID, assets)
	}

	duration := m.now().Sub(startedAt)
	stats.DurationMs = duration.Milliseconds()
	result := resource.MaterializeResult{Total: stats.Total, Protected: stats.Protected, Unprotected: stats.Unprotected}

	telemetry.RecordMaterializeRun(ctx, account.Identifier, stats.Total, stats.Skipped, duration, err)
	m.notify(ctx, resource.RunReport{
		AccountID:  account.ID,
		Identifier: account.Identifier,
		Assets:     assets,
		Result:     result,
		Duration:   duration,
		Error:      err,
	})

	if err != nil {
		span.Fail(err)
		m.logger.LogStorageError(ctx, "materialize", err)
		m.journalAppend(ctx, wal.EntryRunFailed, account, stats, err)
		return resource.MaterializeResult{}, fmt.Errorf("%w: account %s: %w", ErrScanFailed, account.Identifier, err)
	}

	span.SetAssetCounts(stats.Total, stats.Protected, stats.Unprotected, stats.Skipped)
	m.logger.LogMaterializeComplete(ctx, account.Identifier, stats.Total, stats.Protected, stats.Unprotected, stats.Skipped, duration)
	m.journalAppend(ctx, wal.EntryRunCompleted, account, stats, nil)

	return result, nil
}

// collect runs both passes over the account corpus and returns the deduped
// asset set. Nothing is written.
func (m *Materializer) collect(ctx context.Context, span *telemetry.RunSpan, account resource.Account, startedAt time.Time) ([]resource.NormalizedAsset, runStats, error) {
	stats := runStats{AccountID: account.ID, Rejected: map[string]int{}}

	index, err := protection.BuildIndex(ctx, m.documents, account.Identifier)
	if err != nil {
		return nil, stats, fmt.Errorf("build protection index: %w", err)
	}

	var assets []resource.NormalizedAsset
	seen := make(map[string]bool)

	err = m.documents.ScanDocuments(ctx, m.pageSize, func(doc document.Document) error {
		if !doc.InAccount(account.Identifier) {
			return nil
		}

		classified, err := classifier.Classify(doc)
		if err != nil {
			var malformed *classifier.MalformedResourceError
			if !errors.As(err, &malformed) {
				return err
			}
			stats.Skipped++
			m.logger.LogDocumentSkipped(ctx, doc.Key, "malformed", err)
			telemetry.RecordDocumentSkippedEvent(span.Span(), doc.Key, "malformed")
			return nil
		}

		if reason := m.filter.Check(classified); reason != filter.Accepted {
			stats.Rejected[string(reason)]++
			return nil
		}

		signal := index.Evaluate(classified, doc)
		asset := newAsset(account, classified, signal, startedAt)

		key := asset.UniqueKey()
		if seen[key] {
			stats.Duplicates++
			m.logger.WithContext(ctx).Debug().
				Str("document_key", doc.Key).
				Str("resource_id", asset.ResourceID).
				Msg("duplicate asset ignored")
			return nil
		}
		seen[key] = true

		assets = append(assets, asset)
		stats.Total++
		if signal.Status == resource.StatusProtected {
			stats.Protected++
		} else {
			stats.Unprotected++
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("scan documents: %w", err)
	}

	return assets, stats, nil
}

func newAsset(account resource.Account, r resource.ClassifiedResource, signal resource.ProtectionSignal, at time.Time) resource.NormalizedAsset {
	tags := r.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return resource.NormalizedAsset{
		AccountID:   account.ID,
		Provider:    r.Provider,
		Service:     r.Service,
		Kind:        r.Kind,
		ResourceID:  r.ResourceID,
		Name:        r.Name,
		TypeLabel:   protection.TypeLabel(r.Kind),
		Status:      signal.Status,
		Region:      r.Region,
		LastBackup:  signal.LastBackup,
		Tags:        tags,
		DocumentKey: r.DocumentKey,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func (m *Materializer) journalAppend(ctx context.Context, entryType wal.EntryType, account resource.Account, stats runStats, runErr error) {
	if m.journal == nil {
		return
	}
	var err error
	if runErr != nil {
		err = m.journal.AppendError(entryType, account.Identifier, stats, runErr)
	} else {
		err = m.journal.Append(entryType, account.Identifier, stats)
	}
	if err != nil {
		m.logger.WithContext(ctx).Warn().Err(err).Str("entry", string(entryType)).Msg("failed to journal run")
	}
}

func (m *Materializer) notify(ctx context.Context, report resource.RunReport) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.Emit(ctx, report); err != nil {
		m.logger.WithContext(ctx).Warn().Err(err).Str("account", report.Identifier).Msg("failed to emit run report")
	}
}
