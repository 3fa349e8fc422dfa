package cmd

import (
	"transcribe-api/config"

	"github.com/spf13/cobra"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "transcribe-api",
		Short:         "asynchronous audio transcription service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config), migrate(config))
	return rootCmd
}
