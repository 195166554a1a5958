package cmd

import (
	"github.com/spf13/cobra"
	"worker-notes/config"
	server2 "worker-notes/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start consumers, sweep loop and health endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
