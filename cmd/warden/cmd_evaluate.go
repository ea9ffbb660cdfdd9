package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/compliance"
	"github.com/yairfalse/warden/pkg/resource"
)

var (
	evaluateLatest bool

	evaluateCmd = &cobra.Command{
		Use:   "evaluate <account> <framework>",
		Short: "Evaluate an account against a compliance framework",
		Long: `Run every enabled rule of the framework against the account's documents and
store the result. A rule with no matching resources passes. A misconfigured
rule fails and carries its error message.`,
		Example: `  warden evaluate 123456789012 SOC2
  warden evaluate 123456789012 DORA --latest`,
		Args: cobra.ExactArgs(2),
		RunE: runEvaluate,
	}
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evaluateLatest, "latest", false, "Show the latest stored evaluation instead of running one")
}

type evaluationReport struct {
	resource.Evaluation
	Categories map[string]resource.CategoryScore `json:"categories"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		run := a.compliance.Evaluate
		if evaluateLatest {
			run = a.compliance.Latest
		}
		evaluation, err := run(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		report := evaluationReport{Evaluation: evaluation, Categories: compliance.CategoryBreakdown(evaluation)}
		return render(report, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "%s: %.1f%% (%d/%d rules passed)\n\n",
				evaluation.Framework, evaluation.Score, evaluation.PassedRules, evaluation.TotalRules)

			row(w, "RULE", "CATEGORY", "SEVERITY", "RESULT", "EVALUATED", "FAILED")
			for _, r := range evaluation.Results {
				result := "PASS"
				if !r.Passed {
					result = "FAIL"
				}
				if r.ErrorMessage != "" {
					result = "ERROR"
				}
				row(w, r.RuleID, r.Category, r.Severity, result, r.ResourcesEvaluated, len(r.FailedResources))
			}

			categories := make([]string, 0, len(report.Categories))
			for c := range report.Categories {
				categories = append(categories, c)
			}
			sort.Strings(categories)

			fmt.Fprintln(w)
			row(w, "CATEGORY", "SCORE", "PASSED", "TOTAL")
			for _, c := range categories {
				cs := report.Categories[c]
				row(w, c, fmt.Sprintf("%.1f", cs.Score), cs.Passed, cs.Total)
			}
		})
	})
}
