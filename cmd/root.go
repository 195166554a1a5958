package cmd

import (
	"github.com/spf13/cobra"
	"worker-notes/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "worker-notes",
		Short:        "lecture notes assembly worker",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		server(config),
		sweep(config),
		reschedule(config),
		migrate(config),
		publish(config),
		render(),
		enhance(),
	)
	return rootCmd
}
