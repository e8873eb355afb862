// Command engine qualifies prospect candidates and drives their outreach
// sequences, either once from the command line or continuously under serve.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	dataDir    string
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Prospect qualification and outreach engine",
	Long: `engine enriches candidate businesses from public signals, scores them
against a quorum of qualification gates and runs tiered multi-channel
outreach sequences for the ones that qualify.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	defaultDir := os.Getenv("PROSPECT_DATA_DIR")
	if defaultDir == "" {
		defaultDir = "."
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDir, "Directory holding the database, config and tick lock")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default <data-dir>/config.yml)")

	rootCmd.AddCommand(
		serveCmd,
		tickCmd,
		ingestCmd,
		qualifyCmd,
		exportCmd,
		configCmd,
		secretsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
