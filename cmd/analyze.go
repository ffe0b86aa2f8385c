package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"custodian/core"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// analyzeFlags builds a request when no request file is given
type analyzeFlags struct {
	source       string
	sourceType   string
	additional   []string
	eventTypes   []string
	start        string
	end          string
	maxEvents    int
	threshold    int
	investigator string
	output       string
}

func (f *analyzeFlags) request() (*core.AnalysisRequest, error) {
	if f.source == "" {
		return nil, fmt.Errorf("a source is required (use --source or a request file)")
	}

	req := &core.AnalysisRequest{
		Source:       f.source,
		EventTypes:   f.eventTypes,
		MaxEvents:    f.maxEvents,
		Investigator: f.investigator,
	}
	if f.sourceType != "" {
		req.Source = map[string]interface{}{"source_path": f.source, "source_type": f.sourceType}
	}
	for _, path := range f.additional {
		req.AdditionalSources = append(req.AdditionalSources, path)
	}
	if f.threshold > 0 {
		req.CorrelationRules = &core.CorrelationRules{TimeThreshold: f.threshold}
	}

	var err error
	if req.StartTime, err = parseTimeFlag("start", f.start); err != nil {
		return nil, err
	}
	if req.EndTime, err = parseTimeFlag("end", f.end); err != nil {
		return nil, err
	}
	return req, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := core.ParseTimestamp(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}

// newAnalyzeCmd creates the 'analyze' command
func newAnalyzeCmd() *cobra.Command {
	flags := &analyzeFlags{}

	cmd := &cobra.Command{
		Use:   "analyze [request-file]",
		Short: "Run a timeline analysis",
		Long: `Run a timeline analysis over one or more evidence exports.

The request comes either from a JSON/YAML request file or from flags. Source paths
are resolved against ingest.evidence_root; .json, .jsonl/.ndjson and .msgpack exports
are supported.`,
		Example: `  custodian analyze request.yaml
  custodian analyze --source cases/0042/auth.jsonl --additional cases/0042/mem.json --threshold 60
  custodian analyze --source exports/events.json --event-types login,logout --output result.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				req *core.AnalysisRequest
				err error
			)
			if len(args) == 1 {
				req, err = loadRequestFile(args[0])
			} else {
				req, err = flags.request()
			}
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
			defer cancel()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Analyzing evidence..."
				s.Start()
			}

			result, err := app.Service.RunTimelineAnalysis(ctx, req)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("analysis rejected: %w", err)
			}

			if flags.output != "" {
				if err := writeResultFile(flags.output, result); err != nil {
					return err
				}
			}

			if outputJSON {
				if err := outputAsJSON(result); err != nil {
					return err
				}
			} else if !quiet {
				renderResult(result)
				if flags.output != "" {
					infoColor.Printf("Result written to %s\n", flags.output)
				}
			}

			if failure, failed := result.Failure(); failed {
				return fmt.Errorf("analysis %s failed at stage %s", result.AnalysisID, failure.Stage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.source, "source", "", "Primary evidence export path")
	cmd.Flags().StringVar(&flags.sourceType, "source-type", "", "Source type (image, memory, log, registry, other)")
	cmd.Flags().StringSliceVar(&flags.additional, "additional", nil, "Additional evidence export paths")
	cmd.Flags().StringSliceVar(&flags.eventTypes, "event-types", nil, "Keep only these event types (default: all)")
	cmd.Flags().StringVar(&flags.start, "start", "", "Drop events before this time (ISO-8601 or unix seconds)")
	cmd.Flags().StringVar(&flags.end, "end", "", "Drop events after this time (ISO-8601 or unix seconds)")
	cmd.Flags().IntVar(&flags.maxEvents, "max-events", 0, "Cap on returned events (0 = configured default)")
	cmd.Flags().IntVar(&flags.threshold, "threshold", 0, "Cross-source correlation window in seconds (0 = configured default)")
	cmd.Flags().StringVar(&flags.investigator, "investigator", "", "Investigator recorded on the custody trail")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the result document to this file")

	return cmd
}

func writeResultFile(path string, result *core.AnalysisResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	defer f.Close()

	if err := writeJSON(f, result); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return f.Close()
}
