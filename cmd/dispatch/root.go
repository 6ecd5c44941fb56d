package main

import (
	"github.com/spf13/cobra"

	"github.com/Sternrassler/rewind-dispatch/internal/config"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
)

type globalFlags struct {
	envFile    string
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "dispatch",
		Short:         "Research Rewind daily dispatcher",
		Long:          "dispatch sends each subscriber the papers published N years ago today, working through the list in budgeted batches and resuming from a stored checkpoint.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.envFile, flags.configFile)
			if err != nil {
				return err
			}
			logging.Setup(logging.FromSettings(cfg.LogLevel, cfg.LogPretty))
			flags.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (ignored if missing)")
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "optional config file (yaml, toml or json)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newStatusCmd(flags),
		newResetCmd(flags),
		newBroadcastCmd(flags),
	)
	return rootCmd
}
