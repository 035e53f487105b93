// Package cli implements the chaingpt command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the chaingpt command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chaingpt",
		Short:         "Repository workspace and tool service for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newInvokeCommand())
	return root
}
