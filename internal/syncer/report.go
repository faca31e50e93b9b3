package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultReportPathConstant is where each run's machine-readable report lands.
	DefaultReportPathConstant = ".tmp/deploy-report.json"

	reportTimestampLayoutConstant    = "2006-01-02T15:04:05Z"
	reportDirectoryPermissionConst   = 0o755
	reportFilePermissionConstant     = 0o644
	reportIndentConstant             = "  "
	summarySeparatorConstant         = "=================================================="
	summaryHeadlineConstant          = "SYNC COMPLETE"
	summaryWorkflowsTemplateConstant = "Workflows: %d"
	summarySuccessTemplateConstant   = "Successful: %d"
	summaryFailedTemplateConstant    = "Failed: %d"
	summarySkippedTemplateConstant   = "Skipped: %d"
)

// RunReport aggregates every workflow result of a deployment run.
type RunReport struct {
	Timestamp      string           `json:"timestamp"`
	TotalWorkflows int              `json:"total_workflows"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	Skipped        int              `json:"skipped"`
	Results        []WorkflowResult `json:"results"`
}

// BuildRunReport folds workflow results into the run report. Partial workflows
// count as neither successful nor failed in the headline tallies; their step
// detail carries the information.
func BuildRunReport(results []WorkflowResult, reportTime time.Time) RunReport {
	report := RunReport{
		Timestamp:      reportTime.UTC().Format(reportTimestampLayoutConstant),
		TotalWorkflows: len(results),
		Results:        results,
	}
	for _, workflowResult := range results {
		switch workflowResult.Status {
		case SyncStatusSuccess:
			report.Successful++
		case SyncStatusFailed:
			report.Failed++
		case SyncStatusSkipped:
			report.Skipped++
		}
	}
	return report
}

// Write persists the report as indented JSON, creating parent directories.
func (report RunReport) Write(reportPath string) error {
	encodedReport, marshalError := json.MarshalIndent(report, "", reportIndentConstant)
	if marshalError != nil {
		return marshalError
	}
	if directoryError := os.MkdirAll(filepath.Dir(reportPath), reportDirectoryPermissionConst); directoryError != nil {
		return directoryError
	}
	return os.WriteFile(reportPath, encodedReport, reportFilePermissionConstant)
}

// Summary renders the human-readable run summary printed after every run.
func (report RunReport) Summary() string {
	lines := []string{
		summarySeparatorConstant,
		summaryHeadlineConstant,
		summarySeparatorConstant,
		fmt.Sprintf(summaryWorkflowsTemplateConstant, report.TotalWorkflows),
		fmt.Sprintf(summarySuccessTemplateConstant, report.Successful),
		fmt.Sprintf(summaryFailedTemplateConstant, report.Failed),
		fmt.Sprintf(summarySkippedTemplateConstant, report.Skipped),
	}
	return strings.Join(lines, "\n")
}

// HasFailures reports whether any workflow failed outright.
func (report RunReport) HasFailures() bool {
	return report.Failed > 0
}
