package analyzer

import (
	"context"

	"github.com/yairfalse/warden/pkg/resource"
)

// DriftAnalyzer reports configuration drift against each document's
// earliest recorded revision.
type DriftAnalyzer interface {
	// Overview compares every document of an account with its baseline
	Overview(ctx context.Context, accountIdentifier string, limit int) (Overview, error)

	// Item returns the drift of one document
	Item(ctx context.Context, documentKey string) (resource.DriftItem, error)

	// Timeline compares consecutive revisions of one document, newest first
	Timeline(ctx context.Context, documentKey string, limit int) ([]resource.TimelineEntry, error)
}

// Overview is the drift report of one account.
type Overview struct {
	Summary resource.DriftSummary `json:"summary"`
	Items   []resource.DriftItem  `json:"items"`
}
