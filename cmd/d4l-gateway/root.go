package main

import (
	"github.com/spf13/cobra"

	"github.com/d4l-network/d4l-gateway/internal/tools/common"
	"github.com/d4l-network/d4l-gateway/internal/tools/obscheck"
)

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "d4l-gateway",
		Short:         "D4L airdrop gateway: wallet auth, RPC proxy, gasless relay and claim fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before configuration; existing variables win")
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newReconcileCommand(),
		newProofCommand(),
		newLoadgenCommand(),
		obscheck.NewCommand(),
	)
	return root
}
