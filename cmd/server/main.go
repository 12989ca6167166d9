// Command server runs the experience booking service and its
// maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "booking",
		Short:         "Experience booking reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version + " (" + CommitSHA + ")",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newSecretsCmd())
	root.AddCommand(newUserCmd())
	root.AddCommand(newVoucherCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
