package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"statfiler/internal/config"
	"statfiler/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	timeout    time.Duration

	cfg  *config.Config
	logs *logging.Logger
	// logger is the root logger, set in PersistentPreRunE.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "statfiler",
	Short: "statfiler - statutory filing automation",
	Long: `statfiler files LLC Articles of Organization with the state portal.

Each filing is calibrated against the statute, driven through the portal in a
headless browser with screenshots captured as evidence, and certified with the
state's tracking number. Failures are parked for manual review; nothing is
ever submitted twice.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		logs, err = logging.New(logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Categories: cfg.Logging.Categories,
			Verbose:    verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logs.Root()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			logs.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/statfiler.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout (file, batch, healthcheck)")

	batchCmd.Flags().StringVar(&batchStatus, "status", "PENDING", "Status of the filings to pick up")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "Maximum number of filings (0 = the store default of 100)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "Parallel filings (default: server.batch_concurrency)")

	selectorsCmd.AddCommand(selectorsValidateCmd)

	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(selectorsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
