// Package cmd provides the CLI commands for the amanmcp code indexer.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/pkg/version"
)

var verbose bool

// NewRootCmd creates the root command for the amanmcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanmcp",
		Short: "Portable code indexer with hybrid search and multi-hop research",
		Long: `amanmcp indexes a codebase into a local .amanmcp directory and serves
hybrid (BM25 + semantic) search and multi-hop research over it.

Run 'amanmcp init' in a project directory to get started.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("amanmcp version {{.Version}}\n")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newResearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
