// Package intelmemcmder assembles the intelmem CLI.
package intelmemcmder

import (
	"github.com/spf13/cobra"

	consolidatecmder "github.com/justice-rest/intelmem/cmd/intelmem/consolidate"
	remembercmder "github.com/justice-rest/intelmem/cmd/intelmem/remember"
	searchcmder "github.com/justice-rest/intelmem/cmd/intelmem/search"
	servecmder "github.com/justice-rest/intelmem/cmd/intelmem/serve"
)

const intelmemLongDesc string = `Intelmem is a tiered memory store and self-correcting retrieval engine
for chat products.

Run the server using:
  intelmem serve       Run the memory API and MCP server

Work with memories directly:
  intelmem remember    Store one memory for a user
  intelmem search      Search a user's memories

Maintenance:
  intelmem consolidate Merge a user's near-duplicate memories`

const intelmemShortDesc string = "Intelmem - Tiered Agent Memory"

func NewIntelmemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intelmem",
		Short: intelmemShortDesc,
		Long:  intelmemLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("config", "c", "", "Config directory (default: working directory)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(remembercmder.NewRememberCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(consolidatecmder.NewConsolidateCmd())

	return cmd
}
