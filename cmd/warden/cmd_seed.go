package main

import (
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/compliance"
)

var (
	seedBuiltin bool

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Load compliance rule packs",
		Long: `Load compliance frameworks and their rules.

The built-in packs are loaded unless --builtin=false. Packs found in the
configured rules_dir are loaded after them, replacing a built-in framework of
the same name.`,
		Args: cobra.NoArgs,
		RunE: runSeed,
	}
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedBuiltin, "builtin", true, "Load the built-in rule packs")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	var packs []compliance.Pack
	if seedBuiltin {
		builtin, err := compliance.BuiltinPacks()
		if err != nil {
			return err
		}
		packs = append(packs, builtin...)
	}
	if dir := cfg.Compliance.RulesDir; dir != "" {
		custom, err := compliance.LoadDir(dir)
		if err != nil {
			return err
		}
		packs = append(packs, custom...)
	}

	return withApp(cmd.Context(), func(a *app) error {
		if err := compliance.Seed(cmd.Context(), a.relational, packs); err != nil {
			return err
		}

		type seeded struct {
			Framework string `json:"framework"`
			Version   string `json:"version"`
			Rules     int    `json:"rules"`
		}
		out := make([]seeded, 0, len(packs))
		for _, p := range packs {
			out = append(out, seeded{Framework: p.Framework.Name, Version: p.Framework.Version, Rules: len(p.Rules)})
		}
		return render(out, func(w *tabwriter.Writer) {
			row(w, "FRAMEWORK", "VERSION", "RULES")
			for _, s := range out {
				row(w, s.Framework, s.Version, s.Rules)
			}
		})
	})
}
