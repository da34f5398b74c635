package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tellmewhen/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(command.OutOrStdout(), version.GetVersionInfo().String())
			return err
		},
	}
}
