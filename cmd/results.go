package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"custodian/storage"

	"github.com/spf13/cobra"
)

// newResultsCmd creates the 'results' command group
func newResultsCmd() *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect stored analysis results",
	}
	resultsCmd.AddCommand(newResultsListCmd())
	resultsCmd.AddCommand(newResultsShowCmd())
	return resultsCmd
}

func newResultsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored analyses, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			summaries, err := app.Storage.Results.ListResults(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list results: %w", err)
			}

			if outputJSON {
				return outputAsJSON(summaries)
			}
			renderResultsTable(summaries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum results to show")
	return cmd
}

func newResultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <analysis-id>",
		Short: "Print the stored result document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			document, err := app.Storage.Results.GetResultDocument(ctx, args[0])
			if errors.Is(err, storage.ErrAnalysisNotFound) {
				return fmt.Errorf("analysis %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to get result: %w", err)
			}

			_, err = os.Stdout.Write(append(document, '\n'))
			return err
		},
	}
}
