package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spendsync/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "spendsync",
	Short: "Expense tracking with optimistic updates and offline sync",
	Long: `spendsync keeps a local view of your expenses consistent with the
remote store: mutations show up immediately, are queued while offline,
and are reconciled with every authoritative snapshot.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sessionCmd())
}

func main() {
	ctx, stop := cli.ShutdownContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
