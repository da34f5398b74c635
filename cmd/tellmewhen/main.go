package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tellmewhen",
		Short:         "Report filesystem, process, system, network and power changes as events",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newWatchCommand(), newVersionCommand())
	return root
}
