package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/wal"
)

var (
	compactKeep  int
	journalLimit int
	journalTypes []string

	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Trim document history and expired journal files",
		Long: `Keep the newest history revisions of every document, plus the earliest one
that drift compares against, and delete journal files older than the
configured retention. Files holding the last outcome of an account are kept.`,
		Args: cobra.NoArgs,
		RunE: runCompact,
	}

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "List recent journal entries",
		Example: `  warden journal
  warden journal --type evaluated --limit 5`,
		Args: cobra.NoArgs,
		RunE: runJournal,
	}
)

func init() {
	rootCmd.AddCommand(compactCmd, journalCmd)

	compactCmd.Flags().IntVar(&compactKeep, "keep", 0, "Revisions to keep per document (default from config)")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Maximum entries")
	journalCmd.Flags().StringSliceVar(&journalTypes, "type", nil, "Entry types to include")
}

func runCompact(cmd *cobra.Command, _ []string) error {
	keep := compactKeep
	if keep <= 0 {
		keep = cfg.Storage.HistoryKeepRevisions
	}

	return withApp(cmd.Context(), func(a *app) error {
		removed, err := a.documents.CompactHistory(cmd.Context(), keep)
		if err != nil {
			return err
		}
		pruned, err := wal.Prune(cfg.Storage.JournalDir, wal.RetentionDays(cfg.Storage.JournalRetentionDays))
		if err != nil {
			return fmt.Errorf("failed to clean journal: %w", err)
		}

		out := map[string]any{
			"revisions_removed": removed,
			"kept_per_document": keep,
			"journal":           pruned,
		}
		return render(out, func(w *tabwriter.Writer) {
			row(w, "REVISIONS REMOVED", "KEPT PER DOCUMENT", "JOURNAL FILES REMOVED", "JOURNAL FILES PINNED", "BYTES FREED")
			row(w, removed, keep, pruned.FilesRemoved, pruned.FilesPinned, pruned.BytesFreed)
		})
	})
}

func runJournal(_ *cobra.Command, _ []string) error {
	types := make([]wal.EntryType, 0, len(journalTypes))
	for _, t := range journalTypes {
		types = append(types, wal.EntryType(t))
	}

	entries, err := wal.Recent(cfg.Storage.JournalDir, journalLimit, types...)
	if err != nil {
		return err
	}
	return render(entries, func(w *tabwriter.Writer) {
		row(w, "SEQ", "TIME", "TYPE", "SUBJECT", "ERROR")
		for _, e := range entries {
			row(w, e.Sequence, e.Timestamp.Format(time.RFC3339), e.Type, e.Subject, e.Error)
		}
	})
}
