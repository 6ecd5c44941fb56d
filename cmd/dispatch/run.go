package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun         bool
		noContinuation bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one budgeted invocation and print its summary",
		Long:  "run performs a single invocation for the current workday: it takes the lease, processes batches until the time budget runs out and prints the summary as JSON. With --dry-run messages are logged instead of sent and progress is not persisted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), flags.cfg, wireOptions{dryRun: dryRun, memoryCheckpoints: dryRun, noContinuation: noContinuation})
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.scheduler.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("dispatch failed: %w", runErr)
			}
			if dryRun && a.logOut != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "dry run: %d message(s) rendered, none sent\n", len(a.logOut.Sent()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log messages instead of sending them and keep progress in memory")
	cmd.Flags().BoolVar(&noContinuation, "no-continuation", false, "do not schedule a follow-up invocation when the budget runs out")
	return cmd
}
