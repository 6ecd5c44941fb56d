package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/rewind-dispatch/pkg/broadcast"
)

func newBroadcastCmd(flags *globalFlags) *cobra.Command {
	var (
		req           broadcast.Request
		htmlFile      string
		noUnsubscribe bool
		noEditPrefs   bool
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a one-off announcement to subscribers",
		Long:  "broadcast renders an HTML announcement for every active subscriber and sends it. Without --live a single copy goes to --test-email (ADMIN_EMAIL by default). A run stopped early prints a cursor that --after resumes from.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if htmlFile != "" {
				b, err := os.ReadFile(htmlFile)
				if err != nil {
					return fmt.Errorf("read html: %w", err)
				}
				req.HTMLBody = string(b)
			}
			if req.TestEmail == "" {
				req.TestEmail = flags.cfg.AdminEmail
			}
			req.IncludeUnsubscribe = !noUnsubscribe
			req.IncludeEditPrefs = !noEditPrefs

			a, err := wireApp(cmd.Context(), flags.cfg, wireOptions{dryRun: dryRun, memoryCheckpoints: true, noContinuation: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, sendErr := a.newBroadcaster(0).Send(cmd.Context(), req)
			if errors.Is(sendErr, broadcast.ErrEmptyMessage) || errors.Is(sendErr, broadcast.ErrNoTestAddress) {
				return sendErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if sendErr != nil {
				return fmt.Errorf("broadcast failed: %w", sendErr)
			}
			if dryRun && a.logOut != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "dry run: %d message(s) rendered, none sent\n", len(a.logOut.Sent()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Subject, "subject", broadcast.DefaultSubject, "message subject")
	cmd.Flags().StringVar(&req.HTMLBody, "html", "", "HTML body; {name} and {email} are replaced per recipient")
	cmd.Flags().StringVar(&htmlFile, "html-file", "", "read the HTML body from a file")
	cmd.Flags().BoolVar(&req.Live, "live", false, "send to every active subscriber instead of the test address")
	cmd.Flags().StringVar(&req.TestEmail, "test-email", "", "test-mode recipient (default ADMIN_EMAIL)")
	cmd.Flags().StringVar(&req.FromName, "from-name", broadcast.DefaultFromName, "sender display name")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", broadcast.DefaultBatchSize, "recipients listed per batch")
	cmd.Flags().StringVar(&req.After, "after", "", "resume a live broadcast after this email")
	cmd.Flags().BoolVar(&noUnsubscribe, "no-unsubscribe", false, "omit the unsubscribe link")
	cmd.Flags().BoolVar(&noEditPrefs, "no-edit-prefs", false, "omit the edit-preferences link")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log messages instead of sending them")
	cmd.MarkFlagsMutuallyExclusive("html", "html-file")
	return cmd
}
