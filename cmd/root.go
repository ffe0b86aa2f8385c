// Package cmd provides the custodian command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"custodian/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

const (
	// defaultTimeout bounds storage-only commands
	defaultTimeout = 5 * time.Minute
	// analysisTimeout bounds a full analysis run
	analysisTimeout = 30 * time.Minute
)

// errPersistenceDisabled is returned by commands that read stored data
var errPersistenceDisabled = errors.New("persistence is disabled or unavailable; enable storage in the config")

// NewRootCmd creates the custodian command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "custodian",
		Short: "Forensic timeline correlation with chain of custody",
		Long: `custodian merges events extracted from forensic evidence into one timeline,
detects temporal anomalies, and records every step on a hash-chained custody ledger.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newCustodyCmd())
	rootCmd.AddCommand(newEvidenceCmd())
	rootCmd.AddCommand(newResultsCmd())
	rootCmd.AddCommand(newVerifyCmd())

	return rootCmd
}

// openApp initializes the application from the --config flag
func openApp(ctx context.Context) (*bootstrap.App, error) {
	app, err := bootstrap.NewApp(ctx, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize custodian: %w", err)
	}
	return app, nil
}

// openStorage initializes the application and requires persistence
func openStorage(ctx context.Context) (*bootstrap.App, error) {
	app, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if app.Storage == nil {
		app.Shutdown()
		return nil, errPersistenceDisabled
	}
	return app, nil
}

// outputAsJSON outputs data as formatted JSON
func outputAsJSON(data interface{}) error {
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
