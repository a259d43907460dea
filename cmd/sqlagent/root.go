package main

import (
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/sqlagent/internal/config"
	"github.com/xiaot623/gogo/sqlagent/internal/logging"
)

type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "sqlagent",
		Short:         "Ask questions about your databases in natural language",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = a.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = a.logFormat
			}
			if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (default $SQLAGENT_CONFIG)")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newSchemaCmd(a),
		newDatabasesCmd(a),
	)
	return rootCmd
}
