package job

import (
	"time"

	json "github.com/goccy/go-json"
)

// LatestResult is the most recent stored analysis for a report.
type LatestResult struct {
	ReportID    ID              `json:"reportId"`
	HasAnalysis bool            `json:"hasAnalysis"`
	Data        json.RawMessage `json:"data,omitempty"`
	GeneratedAt *time.Time      `json:"generatedAt,omitempty"`
	PromptID    *ID             `json:"promptId,omitempty"`
}

// Analysis is one observation of a report's analysis job, combined from
// the analysis-status and latest-result calls.
type Analysis struct {
	Status           ReportStatus  `json:"status"`
	HasAnalysis      bool          `json:"hasAnalysis"`
	AnalysisCount    int           `json:"analysisCount"`
	LatestAnalysisAt *time.Time    `json:"latestAnalysisAt,omitempty"`
	Latest           *LatestResult `json:"latest,omitempty"`
}

// Running reports whether an analysis is in flight.
func (a Analysis) Running() bool { return a.Status == ReportAnalyzing }
