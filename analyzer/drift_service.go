package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yairfalse/warden/classifier"
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/telemetry"
)

// maxConfigFields caps the expected/current config carried by an item.
const maxConfigFields = 5

// Corpus is the document view drift needs.
type Corpus interface {
	storage.DocumentReader
	storage.HistoryReader
}

// DriftService implements DriftAnalyzer over a document corpus.
type DriftService struct {
	corpus   Corpus
	accounts storage.AccountStore
	detector *Detector
	logger   *telemetry.Logger
	pageSize int
	now      func() time.Time
}

// NewDriftService creates a drift service. A nil detector uses the default
// severity policy.
func NewDriftService(corpus Corpus, accounts storage.AccountStore, detector *Detector, logger *telemetry.Logger) *DriftService {
	if detector == nil {
		detector = DefaultDetector()
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &DriftService{
		corpus:   corpus,
		accounts: accounts,
		detector: detector,
		logger:   logger,
		pageSize: storage.DefaultPageSize,
		now:      time.Now,
	}
}

// Overview streams the account corpus and compares each document with its
// earliest revision. Items are sorted by severity then id and capped at
// limit; limit <= 0 returns every item.
func (s *DriftService) Overview(ctx context.Context, accountIdentifier string, limit int) (Overview, error) {
	account, err := s.accounts.GetAccount(ctx, accountIdentifier)
	if err != nil {
		return Overview{}, fmt.Errorf("resolve account %s: %w", accountIdentifier, err)
	}

	ctx, span := telemetry.StartDriftScan(ctx, account.Identifier)
	defer span.End()

	scannedAt := s.now().UTC()
	summary := resource.DriftSummary{LastScan: scannedAt}
	var items []resource.DriftItem

	err = s.corpus.ScanDocuments(ctx, s.pageSize, func(doc document.Document) error {
		if !doc.InAccount(account.Identifier) {
			return nil
		}
		classified, err := classifier.Classify(doc)
		if err != nil {
			s.logger.LogDocumentSkipped(ctx, doc.Key, "malformed", err)
			return nil
		}
		summary.TotalResources++

		baseline, err := s.corpus.EarliestHistory(ctx, doc.Key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		item, drifted := s.buildItem(classified, doc, baseline.Document, scannedAt)
		if !drifted {
			return nil
		}
		items = append(items, item)
		switch item.Severity {
		case resource.SeverityHigh:
			summary.High++
		case resource.SeverityMedium:
			summary.Medium++
		default:
			summary.Low++
		}
		return nil
	})
	if err != nil {
		span.Fail(err)
		return Overview{}, fmt.Errorf("scan drift of %s: %w", account.Identifier, err)
	}

	summary.DriftingResources = len(items)
	sortItems(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []resource.DriftItem{}
	}

	span.SetDriftCounts(summary.TotalResources, summary.DriftingResources)
	telemetry.RecordDriftItems(ctx, account.Identifier, summary.High, summary.Medium, summary.Low)
	s.logger.WithContext(ctx).Info().
		Str("account", account.Identifier).
		Int("resources", summary.TotalResources).
		Int("drifting", summary.DriftingResources).
		Msg("drift scan completed")

	return Overview{Summary: summary, Items: items}, nil
}

// Item returns the drift of one document against its baseline. A document
// without drift yields an item with no changes.
func (s *DriftService) Item(ctx context.Context, documentKey string) (resource.DriftItem, error) {
	doc, err := s.corpus.GetDocument(ctx, documentKey)
	if err != nil {
		return resource.DriftItem{}, fmt.Errorf("read document %s: %w", documentKey, err)
	}
	classified, err := classifier.Classify(doc)
	if err != nil {
		return resource.DriftItem{}, err
	}
	baseline, err := s.corpus.EarliestHistory(ctx, documentKey)
	if err != nil {
		return resource.DriftItem{}, fmt.Errorf("read baseline of %s: %w", documentKey, err)
	}

	item, _ := s.buildItem(classified, doc, baseline.Document, s.now().UTC())
	return item, nil
}

// Timeline compares each recent revision with the one before it, newest
// first. Revisions identical to their predecessor are left out.
func (s *DriftService) Timeline(ctx context.Context, documentKey string, limit int) ([]resource.TimelineEntry, error) {
	fetch := limit
	if fetch > 0 {
		fetch++
	}
	revisions, err := s.corpus.RecentHistory(ctx, documentKey, fetch)
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", documentKey, err)
	}

	entries := make([]resource.TimelineEntry, 0, len(revisions))
	for i := 0; i+1 < len(revisions); i++ {
		changes := s.detector.DetectDrift(revisions[i].Document, revisions[i+1].Document)
		if len(changes) == 0 {
			continue
		}
		entries = append(entries, resource.TimelineEntry{
			Revision:   revisions[i].Revision,
			ObservedAt: revisions[i].ObservedAt,
			Changes:    changes,
			Severity:   s.detector.Severity(changes),
		})
	}
	return entries, nil
}

func (s *DriftService) buildItem(r resource.ClassifiedResource, current, baseline document.Document, at time.Time) (resource.DriftItem, bool) {
	changes := s.detector.DetectDrift(current, baseline)
	item := resource.DriftItem{
		ID:          fmt.Sprintf("drift-%s-%s", r.Service, r.ResourceID),
		DocumentKey: r.DocumentKey,
		ResourceID:  r.ResourceID,
		Name:        r.Name,
		Kind:        r.Kind,
		Service:     strings.ToUpper(r.Service),
		Region:      r.Region,
		Expected:    map[string]string{},
		Current:     map[string]string{},
		Changes:     changes,
		DetectedAt:  at,
	}
	if len(changes) == 0 {
		item.Changes = []resource.DriftChange{}
		return item, false
	}

	item.Severity = s.detector.Severity(changes)
	item.Impact = s.detector.Impact(changes)
	item.Issue = fmt.Sprintf("%d field(s) drifted (e.g., %s)", len(changes), changes[0].Path)
	for i, c := range changes {
		if i == maxConfigFields {
			break
		}
		item.Expected[c.Path] = c.From
		item.Current[c.Path] = c.To
	}
	return item, true
}

func sortItems(items []resource.DriftItem) {
	sort.Slice(items, func(i, j int) bool {
		if ri, rj := items[i].Severity.Rank(), items[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return items[i].ID < items[j].ID
	})
}

var _ DriftAnalyzer = (*DriftService)(nil)
