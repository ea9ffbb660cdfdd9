package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/warden/pkg/resource"
)

var (
	accountProvider string
	accountName     string

	accountCmd = &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	accountAddCmd = &cobra.Command{
		Use:   "add <identifier>",
		Short: "Register an account, or rename an existing one",
		Example: `  warden account add 123456789012 --name production
  warden account add my-project --provider gcp`,
		Args: cobra.ExactArgs(1),
		RunE: runAccountAdd,
	}

	accountListCmd = &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE:  runAccountList,
	}
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd, accountListCmd)

	accountAddCmd.Flags().StringVar(&accountProvider, "provider", string(resource.ProviderAWS), "Cloud provider (aws, gcp)")
	accountAddCmd.Flags().StringVar(&accountName, "name", "", "Display name")
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	provider := resource.Provider(accountProvider)
	if provider != resource.ProviderAWS && provider != resource.ProviderGCP {
		return fmt.Errorf("unknown provider %q", accountProvider)
	}

	return withApp(cmd.Context(), func(a *app) error {
		account, err := a.relational.PutAccount(cmd.Context(), resource.Account{
			Provider:   provider,
			Identifier: args[0],
			Name:       accountName,
		})
		if err != nil {
			return err
		}
		return render(account, func(w *tabwriter.Writer) {
			accountTable(w, []resource.Account{account})
		})
	})
}

func runAccountList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		accounts, err := a.relational.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		return render(accounts, func(w *tabwriter.Writer) {
			accountTable(w, accounts)
		})
	})
}

func accountTable(w *tabwriter.Writer, accounts []resource.Account) {
	row(w, "ID", "PROVIDER", "IDENTIFIER", "NAME", "CREATED")
	for _, a := range accounts {
		row(w, a.ID, a.Provider, a.Identifier, a.Name, a.CreatedAt.Format(time.RFC3339))
	}
}
