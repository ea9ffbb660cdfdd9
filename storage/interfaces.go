package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

var (
	// ErrNotFound is returned when a document, account or evaluation does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrSourceUnavailable wraps I/O failures of the backing store.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrDuplicateAsset is returned when a replace batch repeats an asset
	// uniqueness tuple.
	ErrDuplicateAsset = errors.New("duplicate asset")

	// ErrAmbiguousAccount is returned when an identifier names accounts of
	// more than one provider. The account id resolves it.
	ErrAmbiguousAccount = errors.New("ambiguous account identifier")
)

// ResolveAccount picks the account named by identifier among candidates.
// An id match wins; otherwise the identifier must match exactly one account.
func ResolveAccount(identifier string, candidates []resource.Account) (resource.Account, error) {
	var matches []resource.Account
	for _, a := range candidates {
		if a.ID == identifier {
			return a, nil
		}
		if a.Identifier == identifier {
			matches = append(matches, a)
		}
	}

	switch len(matches) {
	case 0:
		return resource.Account{}, fmt.Errorf("account %s: %w", identifier, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		providers := make([]string, 0, len(matches))
		for _, a := range matches {
			providers = append(providers, string(a.Provider))
		}
		return resource.Account{}, fmt.Errorf("account %s exists for %s, use the account id: %w",
			identifier, strings.Join(providers, " and "), ErrAmbiguousAccount)
	}
}

// DocumentReader reads the current document corpus.
type DocumentReader interface {
	GetDocument(ctx context.Context, key string) (document.Document, error)
	// ScanDocuments streams every document in key order, pageSize keys per
	// read transaction. fn runs outside the transaction.
	ScanDocuments(ctx context.Context, pageSize int, fn func(document.Document) error) error
	QueryByKindPrefix(ctx context.Context, prefix string, fn func(document.Document) error) error
}

// HistoryReader reads historical revisions of a document.
type HistoryReader interface {
	// EarliestHistory returns the oldest revision of a document, the drift
	// baseline.
	EarliestHistory(ctx context.Context, key string) (document.Revision, error)
	// RecentHistory returns up to limit revisions, newest first.
	RecentHistory(ctx context.Context, key string, limit int) ([]document.Revision, error)
}

// DocumentWriter imports documents, appending one history revision each.
type DocumentWriter interface {
	PutDocument(ctx context.Context, doc document.Document, observedAt time.Time) (revision int64, err error)
	PutDocuments(ctx context.Context, docs []document.Document, observedAt time.Time) (revision int64, err error)
}

// DocumentStore combines corpus and history access.
type DocumentStore interface {
	DocumentReader
	HistoryReader
	DocumentWriter
}

// AccountStore manages known accounts.
type AccountStore interface {
	// GetAccount resolves an account by id, or by an identifier that only
	// one provider uses.
	GetAccount(ctx context.Context, identifier string) (resource.Account, error)
	// PutAccount creates the account or renames an existing one with the
	// same (provider, identifier).
	PutAccount(ctx context.Context, account resource.Account) (resource.Account, error)
	ListAccounts(ctx context.Context) ([]resource.Account, error)
}

// AssetStore holds materialized assets.
type AssetStore interface {
	// ReplaceAccountAssets deletes every asset of the account and inserts
	// assets, atomically.
	ReplaceAccountAssets(ctx context.Context, accountID string, assets []resource.NormalizedAsset) error
	ListAssets(ctx context.Context, accountID string) ([]resource.NormalizedAsset, error)
	CountByService(ctx context.Context, accountID string) ([]resource.ServiceCount, error)
}

// ComplianceStore holds frameworks, rules and evaluations.
type ComplianceStore interface {
	PutFramework(ctx context.Context, framework resource.Framework) error
	ListFrameworks(ctx context.Context) ([]resource.Framework, error)
	// PutRules replaces the rule set of a framework.
	PutRules(ctx context.Context, framework string, rules []resource.Rule) error
	ListRules(ctx context.Context, framework string) ([]resource.Rule, error)
	// SaveEvaluation appends an evaluation with its rule results.
	SaveEvaluation(ctx context.Context, evaluation resource.Evaluation) error
	LatestEvaluation(ctx context.Context, accountID, framework string) (resource.Evaluation, error)
}

// RelationalStore is the relational side: accounts, assets and compliance.
type RelationalStore interface {
	AccountStore
	AssetStore
	ComplianceStore
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}
