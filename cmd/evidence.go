package cmd

import (
	"context"
	"errors"
	"fmt"

	"custodian/storage"

	"github.com/spf13/cobra"
)

// newEvidenceCmd creates the 'evidence' command group
func newEvidenceCmd() *cobra.Command {
	evidenceCmd := &cobra.Command{
		Use:   "evidence",
		Short: "Inspect admitted evidence",
	}
	evidenceCmd.AddCommand(newEvidenceListCmd())
	evidenceCmd.AddCommand(newEvidenceShowCmd())
	return evidenceCmd
}

func newEvidenceListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List admitted evidence, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			records, err := app.Storage.Evidence.ListEvidence(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list evidence: %w", err)
			}

			if outputJSON {
				return outputAsJSON(records)
			}
			renderEvidenceTable(records)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to show")
	return cmd
}

func newEvidenceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <evidence-id>",
		Short: "Show an evidence record and its custody entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			record, err := app.Storage.Evidence.GetEvidence(ctx, args[0])
			if errors.Is(err, storage.ErrEvidenceNotFound) {
				return fmt.Errorf("evidence %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to get evidence: %w", err)
			}

			chain, err := app.Storage.Evidence.GetCustodyChainForEvidence(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to read custody chain: %w", err)
			}

			if outputJSON {
				return outputAsJSON(map[string]interface{}{
					"evidence": record,
					"custody":  chain,
				})
			}
			renderEvidenceDetails(record)
			renderCustodyTable(chain)
			return nil
		},
	}
}
