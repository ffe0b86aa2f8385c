package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"custodian/core"
	"custodian/storage"

	"github.com/spf13/cobra"
)

// newVerifyCmd creates the 'verify' command
func newVerifyCmd() *cobra.Command {
	var analysisID string

	cmd := &cobra.Command{
		Use:   "verify [result-file]",
		Short: "Recompute and check the integrity hash of an analysis result",
		Long: `Recompute the integrity hash of a result document and compare it with the
stored integrity_hash. The document is read from a file, or from storage with --analysis.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				document []byte
				label    string
				err      error
			)

			switch {
			case len(args) == 1 && analysisID != "":
				return fmt.Errorf("give either a result file or --analysis, not both")
			case len(args) == 1:
				label = args[0]
				if document, err = os.ReadFile(args[0]); err != nil {
					return fmt.Errorf("failed to read result file: %w", err)
				}
			case analysisID != "":
				label = analysisID
				if document, err = storedDocument(analysisID); err != nil {
					return err
				}
			default:
				return fmt.Errorf("a result file or --analysis is required")
			}

			computed, ok, err := core.VerifyIntegrityJSON(document)
			if err != nil {
				return fmt.Errorf("failed to verify %s: %w", label, err)
			}

			if outputJSON {
				if err := outputAsJSON(map[string]interface{}{"valid": ok, "computed_hash": computed}); err != nil {
					return err
				}
			} else if ok {
				successColor.Printf("✓ Integrity verified: %s\n", label)
				fmt.Printf("  hash: %s\n", computed)
			} else {
				errorColor.Printf("✗ Integrity check FAILED: %s\n", label)
				fmt.Printf("  recomputed hash: %s\n", computed)
			}

			if !ok {
				return fmt.Errorf("integrity hash mismatch for %s", label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&analysisID, "analysis", "", "Verify the stored result of this analysis id")
	return cmd
}

func storedDocument(analysisID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	app, err := openStorage(ctx)
	if err != nil {
		return nil, err
	}
	defer app.Shutdown()

	document, err := app.Storage.Results.GetResultDocument(ctx, analysisID)
	if errors.Is(err, storage.ErrAnalysisNotFound) {
		return nil, fmt.Errorf("analysis %s not found", analysisID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return document, nil
}
