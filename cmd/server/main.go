package main // Entry point package

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "circulation",
		Short:         "Library circulation service: loans, reservation queues and borrower notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("seed", "", "JSON fixture with borrowers, titles and copies (STORE=memory only)")
	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newSweepCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return root
}
