// Package cli implements the cryptofx operator command line.
package cli

import (
	"fmt"

	"cryptofx/pkg/config"
	"cryptofx/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	output      string
	databaseURL string
	verbose     bool
)

// NewRootCmd returns the root command for the cryptofx CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cryptofx",
		Short:         "cryptofx CLI: operator tool for the market data gateway",
		Long:          "cryptofx CLI: provision API keys, inspect plans, and follow usage events.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "output format: text|json|yaml (default: text on a terminal, json otherwise)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL for the key store (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		config.LoadEnv(nil)
		switch output {
		case "", "text", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unsupported output format %q: must be text, json or yaml", output)
		}
	}

	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newPlansCmd())
	rootCmd.AddCommand(newUsageCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newLogger() logging.Logger {
	logger := logging.NewLoggerWithService("cli")
	if verbose {
		logger.SetLevel(logging.DebugLevel)
	} else {
		logger.SetLevel(logging.WarnLevel)
	}
	return logger
}
