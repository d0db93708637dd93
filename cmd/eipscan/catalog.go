package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/cip/objects"
	"github.com/tonylturner/eipscan/internal/ui"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the built-in attribute catalog",
		Long: `The catalog names the common attributes of the Identity, Message Router,
Assembly and TCP/IP Interface objects. Its keys can be passed to get and set
with --key.`,
	}
	cmd.AddCommand(newCatalogListCmd())
	return cmd
}

type catalogListFlags struct {
	search string
}

func newCatalogListCmd() *cobra.Command {
	flags := &catalogListFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		Example: `  eipscan catalog list
  eipscan catalog list --search identity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runCatalogList(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.search, "search", "", "Search query (matches key, name, object, description)")

	return cmd
}

func runCatalogList(cmd *cobra.Command, flags *catalogListFlags) error {
	entries := objects.DefaultCatalog().Search(flags.search)
	if len(entries) == 0 {
		return fmt.Errorf("no catalog entries match %q", flags.search)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCatalog(entries))
	return nil
}
