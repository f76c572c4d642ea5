package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "montage",
		Short:         "Generate scenes and compose render plans from a production file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newLayoutCommand())
	rootCmd.AddCommand(newProvidersCommand())

	return rootCmd
}
