package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var workday string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint for a workday",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), flags.cfg, wireOptions{dryRun: true, noContinuation: true})
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := resolveWorkday(a, workday)
			if err != nil {
				return err
			}

			cp, err := a.checkpoints.Get(cmd.Context(), day)
			if errors.Is(err, checkpoint.ErrNotFound) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for %s\n", day)
				return err
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*checkpoint.Checkpoint
				Percent float64 `json:"percent"`
			}{cp, cp.Percent()})
		},
	}

	cmd.Flags().StringVar(&workday, "workday", "", "workday (YYYY-MM-DD), defaults to today in the configured timezone")
	return cmd
}

func newResetCmd(flags *globalFlags) *cobra.Command {
	var workday string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a workday checkpoint so the next run starts over",
		Long:  "reset removes the stored checkpoint for a workday. Completed and failed workdays are never re-run on their own; resetting is the operator's way to retry one. Recipients already reached will be sent again.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), flags.cfg, wireOptions{dryRun: true, noContinuation: true})
			if err != nil {
				return err
			}
			defer a.Close()

			day, err := resolveWorkday(a, workday)
			if err != nil {
				return err
			}
			if err := a.checkpoints.Delete(cmd.Context(), day); err != nil {
				return fmt.Errorf("reset %s: %w", day, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %s deleted\n", day)
			return err
		},
	}

	cmd.Flags().StringVar(&workday, "workday", "", "workday (YYYY-MM-DD), defaults to today in the configured timezone")
	return cmd
}

func resolveWorkday(a *app, workday string) (string, error) {
	if workday == "" {
		return a.scheduler.Workday(), nil
	}
	if _, err := checkpoint.ParseWorkday(workday); err != nil {
		return "", err
	}
	return workday, nil
}
