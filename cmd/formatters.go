package cmd

import (
	"fmt"
	"strings"

	"custodian/core"
	"custodian/storage"

	"github.com/fatih/color"
)

// renderResult displays an analysis result
func renderResult(result *core.AnalysisResult) {
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	headerColor.Printf("  Analysis %s\n", result.AnalysisID)
	headerColor.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	printSection("Overview")
	printField("Status", formatStatus(result.Status))
	printField("Source", result.Source.SourcePath)
	for _, src := range result.AdditionalSources {
		printField("Additional Source", src.SourcePath)
	}
	printField("Evidence IDs", strings.Join(result.EvidenceIDs, ", "))
	printField("Investigator", result.Investigator)
	if result.EndTime != nil {
		printField("Duration", result.EndTime.Sub(result.StartTime).String())
	}
	printField("Integrity Hash", result.IntegrityHash)
	fmt.Println()

	if failure, failed := result.Failure(); failed {
		printSection("Failure")
		printField("Stage", failure.Stage)
		printField("Message", failure.Message)
		fmt.Println()
		return
	}

	printSection("Timeline")
	printField("Events", fmt.Sprintf("%d", len(result.Events)))
	if truncated, _ := result.Metadata["truncated"].(bool); truncated {
		printField("Truncated", warningColor.Sprintf("yes (max_events=%v)", result.Metadata["max_events"]))
	}
	for _, key := range []string{"skipped_events", "filtered_events", "duplicate_events", "clamped_confidence"} {
		if v, ok := result.Metadata[key]; ok {
			printField(strings.ReplaceAll(key, "_", " "), fmt.Sprintf("%v", v))
		}
	}
	if s := result.Summary; s != nil {
		if s.TimeRange.Start != nil && s.TimeRange.End != nil {
			printField("Time Range", fmt.Sprintf("%s → %s",
				core.FormatTimestamp(*s.TimeRange.Start), core.FormatTimestamp(*s.TimeRange.End)))
		}
		printField("Peak Hour", s.PeakHour)
		printField("Peak Day", s.PeakDay)
		printField("Most Common Type", s.MostCommonType)
		printField("Most Common Source", s.MostCommonSource)
	}
	fmt.Println()

	if len(result.CorrelationMatrix) > 0 {
		printSection("Cross-Source Correlation")
		for key, count := range result.CorrelationMatrix {
			printField(key, fmt.Sprintf("%d", count))
		}
		fmt.Println()
	}

	printSection("Anomalies")
	if len(result.Anomalies) == 0 {
		fmt.Println("  none")
	}
	for _, a := range result.Anomalies {
		fmt.Printf("  %-10s %-12s %s\n",
			formatSeverity(a.GetSeverity()), a.Type(), core.FormatTimestamp(a.OccurredAt()))
	}
	fmt.Println()
}

// renderCustodyTable displays custody entries in ledger order
func renderCustodyTable(chain []core.CustodyEntry) {
	if len(chain) == 0 {
		warningColor.Println("No custody entries recorded")
		return
	}

	headerColor.Println("CHAIN OF CUSTODY")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-6s %-32s %-18s %-20s %-20s %-16s\n",
		"Seq", "Timestamp", "Action", "Evidence", "Investigator", "Entry Hash")
	fmt.Println(strings.Repeat("-", 120))

	for _, entry := range chain {
		fmt.Printf("%-6d %-32s %-18s %-20s %-20s %-16s\n",
			entry.Sequence,
			core.FormatTimestamp(entry.Timestamp),
			entry.Action,
			shortID(entry.EvidenceID, 18),
			truncate(entry.Investigator, 20),
			shortID(entry.EntryHash, 16))
	}

	fmt.Println(strings.Repeat("=", 120))
}

// renderEvidenceTable displays evidence records
func renderEvidenceTable(records []*core.EvidenceRecord) {
	if len(records) == 0 {
		warningColor.Println("No evidence admitted")
		return
	}

	headerColor.Println("EVIDENCE")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-38s %-10s %-40s %-20s %-10s\n", "ID", "Type", "Path", "Investigator", "Admitted")
	fmt.Println(strings.Repeat("-", 120))

	for _, r := range records {
		fmt.Printf("%-38s %-10s %-40s %-20s %-10s\n",
			r.EvidenceID,
			r.Source.SourceType,
			truncate(r.Source.SourcePath, 40),
			truncate(r.Investigator, 20),
			r.AdmittedAt.Format("2006-01-02"))
	}

	fmt.Println(strings.Repeat("=", 120))
}

// renderEvidenceDetails displays one evidence record
func renderEvidenceDetails(r *core.EvidenceRecord) {
	printSection("Evidence")
	printField("ID", r.EvidenceID)
	printField("Type", string(r.Source.SourceType))
	printField("Path", r.Source.SourcePath)
	printField("Hash", r.Source.SourceHash)
	printField("Size", fmt.Sprintf("%d", r.Source.SourceSize))
	printField("Acquired", core.FormatTimestamp(r.AcquisitionTime))
	printField("Admitted", core.FormatTimestamp(r.AdmittedAt))
	printField("Investigator", r.Investigator)
	printField("Session", r.SessionID)
	fmt.Println()
}

// renderResultsTable displays stored result summaries
func renderResultsTable(summaries []storage.ResultSummary) {
	if len(summaries) == 0 {
		warningColor.Println("No stored results")
		return
	}

	headerColor.Println("ANALYSES")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-38s %-10s %-32s %-8s %-10s %-16s\n", "ID", "Status", "Source", "Events", "Anomalies", "Hash")
	fmt.Println(strings.Repeat("-", 120))

	for _, s := range summaries {
		fmt.Printf("%-38s %-10s %-32s %-8d %-10d %-16s\n",
			s.AnalysisID,
			formatStatusPlain(s.Status),
			truncate(s.SourcePath, 32),
			s.EventCount,
			s.AnomalyCount,
			shortID(s.IntegrityHash, 16))
	}

	fmt.Println(strings.Repeat("=", 120))
}

// printSection prints a section header
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

// formatStatus returns a colored status string
func formatStatus(status core.AnalysisStatus) string {
	switch status {
	case core.AnalysisStatusCompleted:
		return color.New(color.FgGreen).Sprint(status)
	case core.AnalysisStatusError:
		return color.New(color.FgRed).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

// formatStatusPlain returns status without colors, for aligned tables
func formatStatusPlain(status core.AnalysisStatus) string {
	return string(status)
}

func formatSeverity(s core.Severity) string {
	switch s {
	case core.SeverityHigh:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case core.SeverityMedium:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return string(s)
	}
}

func shortID(id string, n int) string {
	if len(id) > n {
		return id[:n]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
