package main

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize <account>",
	Short: "Rebuild an account's assets from its documents",
	Long: `Classify every document of the account, filter it to the curated asset
kinds, derive its protection status and replace the account's asset rows in
one transaction. Running it twice over an unchanged corpus yields the same rows.`,
	Args: cobra.ExactArgs(1),
	RunE: runMaterialize,
}

func init() {
	rootCmd.AddCommand(materializeCmd)
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		result, err := a.materializer.Materialize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(result, func(w *tabwriter.Writer) {
			row(w, "ACCOUNT", "TOTAL", "PROTECTED", "UNPROTECTED")
			row(w, args[0], result.Total, result.Protected, result.Unprotected)
		})
	})
}
