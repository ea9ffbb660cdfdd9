package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/observer"
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/wal"
)

const importBatchSize = 500

var (
	importObservedAt string

	importCmd = &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Import resource documents",
		Long: `Import raw resource documents, one JSON object per line.

Every imported document appends a history revision, so importing the same
collection twice at different times records drift between them. Lines that
do not decode to a keyed document are skipped and counted.`,
		Example: `  warden import collect.jsonl
  warden import collect.jsonl --observed-at 2024-05-01T12:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importObservedAt, "observed-at", "", "Observation time, RFC 3339 (default now)")
}

type importStats struct {
	File     string `json:"file"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Revision int64  `json:"revision"`
	observer.Summary
}

func runImport(cmd *cobra.Command, args []string) error {
	observedAt := time.Now().UTC()
	if importObservedAt != "" {
		t, err := time.Parse(time.RFC3339, importObservedAt)
		if err != nil {
			return fmt.Errorf("invalid --observed-at: %w", err)
		}
		observedAt = t.UTC()
	}

	return withApp(cmd.Context(), func(a *app) error {
		stats, err := importFile(cmd.Context(), a, args[0], observedAt)
		if err != nil {
			_ = a.journal.AppendError(wal.EntryRunFailed, args[0], stats, err)
			return err
		}
		if err := a.journal.Append(wal.EntryImported, args[0], stats); err != nil {
			a.logger.Warn().Err(err).Msg("failed to journal import")
		}

		return render(stats, func(w *tabwriter.Writer) {
			row(w, "FILE", "IMPORTED", "CREATED", "MODIFIED", "UNCHANGED", "SKIPPED", "REVISION")
			row(w, stats.File, stats.Imported, stats.Created, stats.Modified, stats.Unchanged, stats.Skipped, stats.Revision)
		})
	})
}

func importFile(ctx context.Context, a *app, path string, observedAt time.Time) (importStats, error) {
	stats := importStats{File: path}

	changes, err := observer.NewChangeEventMetrics()
	if err != nil {
		return stats, err
	}

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	batch := make([]document.Document, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		events, err := observer.Observe(ctx, a.documents, batch)
		if err != nil {
			return err
		}
		rev, err := a.documents.PutDocuments(ctx, batch, observedAt)
		if err != nil {
			return err
		}
		changes.RecordChangeEvents(ctx, events)
		summary := observer.Summarize(events)
		stats.Created += summary.Created
		stats.Modified += summary.Modified
		stats.Unchanged += summary.Unchanged
		stats.Imported += len(batch)
		stats.Revision = rev
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		doc, err := document.Parse(raw)
		if err != nil {
			stats.Skipped++
			a.logger.Warn().Err(err).Int("line", line).Msg("skipping malformed document")
			continue
		}
		batch = append(batch, doc)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}
