package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate a Postgres job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.dsn, "dsn", "", "Postgres DSN (default $POSTGRES_DSN)")
	rootCmd.PersistentFlags().StringVar(&ctx.table, "table", "", "Queue table name (default $QUEUE_TABLE)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(
		newInitCommand(ctx),
		newEnqueueCommand(ctx),
		newListCommand(ctx),
		newGetCommand(ctx),
		newStatsCommand(ctx),
		newRetryCommand(ctx),
		newDeleteCommand(ctx),
		newPurgeCommand(ctx),
		newRecoverCommand(ctx),
	)
	return rootCmd
}
