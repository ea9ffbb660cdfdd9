package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	driftLimit         int
	driftTimelineLimit int

	driftCmd = &cobra.Command{
		Use:   "drift <account>",
		Short: "Show configuration drift of an account",
		Long: `Compare every document of the account with its earliest recorded
revision and list the resources whose reported configuration changed,
highest severity first.`,
		Example: `  warden drift 123456789012
  warden drift 123456789012 --limit 10 -o json
  warden drift timeline <document-key>`,
		Args: cobra.ExactArgs(1),
		RunE: runDrift,
	}

	driftTimelineCmd = &cobra.Command{
		Use:   "timeline <key>",
		Short: "Show the revision history of one document",
		Args:  cobra.ExactArgs(1),
		RunE:  runDriftTimeline,
	}
)

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.AddCommand(driftTimelineCmd)

	driftCmd.Flags().IntVar(&driftLimit, "limit", 0, "Maximum items to list (default from config)")
	driftTimelineCmd.Flags().IntVar(&driftTimelineLimit, "limit", 20, "Maximum revisions to compare")
}

func runDrift(cmd *cobra.Command, args []string) error {
	limit := driftLimit
	if limit <= 0 {
		limit = cfg.Drift.OverviewLimit
	}

	return withApp(cmd.Context(), func(a *app) error {
		overview, err := a.drift.Overview(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return render(overview, func(w *tabwriter.Writer) {
			s := overview.Summary
			fmt.Fprintf(w, "Resources: %d  Drifting: %d  High: %d  Medium: %d  Low: %d\n\n",
				s.TotalResources, s.DriftingResources, s.High, s.Medium, s.Low)
			row(w, "SEVERITY", "SERVICE", "RESOURCE", "CHANGES", "ISSUE")
			for _, item := range overview.Items {
				row(w, item.Severity, item.Service, item.ResourceID, len(item.Changes), item.Issue)
			}
		})
	})
}

func runDriftTimeline(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		entries, err := a.drift.Timeline(cmd.Context(), args[0], driftTimelineLimit)
		if err != nil {
			return err
		}
		return render(entries, func(w *tabwriter.Writer) {
			row(w, "REVISION", "OBSERVED", "SEVERITY", "PATH", "FROM", "TO")
			for _, e := range entries {
				if len(e.Changes) == 0 {
					row(w, e.Revision, e.ObservedAt.Format(time.RFC3339), "-", "", "", "")
					continue
				}
				for _, c := range e.Changes {
					row(w, e.Revision, e.ObservedAt.Format(time.RFC3339), e.Severity, c.Path, c.From, c.To)
				}
			}
		})
	})
}
