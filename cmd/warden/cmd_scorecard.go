package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	scorecardAssets bool

	scorecardCmd = &cobra.Command{
		Use:   "scorecard <account>",
		Short: "Show an account's protection posture",
		Long: `Summarize the account's materialized assets: the overall recovery score,
per-service protection, framework coverage and the services with unprotected
assets. Run materialize first to refresh the assets.`,
		Args: cobra.ExactArgs(1),
		RunE: runScorecard,
	}
)

func init() {
	rootCmd.AddCommand(scorecardCmd)
	scorecardCmd.Flags().BoolVar(&scorecardAssets, "assets", false, "List the asset inventory instead")
}

func runScorecard(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if scorecardAssets {
			inventory, err := a.posture.Inventory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(inventory, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Assets: %d  Protected: %d  Coverage: %.0f%%\n\n",
					inventory.Summary.Assets, inventory.Summary.Protected, inventory.Summary.Coverage*100)
				row(w, "SERVICE", "KIND", "RESOURCE", "NAME", "STATUS", "REGION")
				for _, asset := range inventory.Items {
					row(w, asset.Service, asset.Kind, asset.ResourceID, asset.Name, asset.Status, asset.Region)
				}
			})
		}

		card, err := a.posture.Scorecard(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(card, func(w *tabwriter.Writer) {
			o := card.Overall
			fmt.Fprintf(w, "Recovery score: %d  (%d of %d assets protected)\n\n", o.Score, o.Protected, o.Total)

			row(w, "SERVICE", "SCORE", "PROTECTED", "TOTAL")
			for _, s := range card.Services {
				row(w, s.Service, s.Score, s.Protected, s.Total)
			}

			fmt.Fprintln(w)
			row(w, "FRAMEWORK", "PASSED", "TOTAL", "COVERAGE")
			for _, f := range card.Frameworks {
				row(w, f.Name, f.PassedControls, f.TotalControls, fmt.Sprintf("%.1f%%", f.CoveragePercent))
			}

			if len(card.Issues) > 0 {
				fmt.Fprintln(w)
				row(w, "SERVICE", "ISSUE", "COUNT")
				for _, i := range card.Issues {
					row(w, i.Service, i.Title, i.Count)
				}
			}
		})
	})
}
