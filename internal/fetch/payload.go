package fetch

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hello-sally/jobwatch/internal/job"
)

// Report is the subset of GET /reports/{id} the watcher uses.
type Report struct {
	ID     job.ID           `json:"id"`
	Title  string           `json:"title"`
	Status job.ReportStatus `json:"status"`
	Files  job.Snapshot     `json:"files"`
}

type reportPayload struct {
	ID         job.ID              `json:"id"`
	Title      string              `json:"title"`
	Status     job.ReportStatus    `json:"status"`
	AudioFiles *[]audioFilePayload `json:"audio_files"`
}

type audioFilePayload struct {
	ID          job.ID     `json:"id"`
	STTStatus   job.Status `json:"stt_status"`
	DisplayName string     `json:"display_name"`
	Filename    string     `json:"filename"`
}

func (p reportPayload) report() *Report {
	var files []audioFilePayload
	if p.AudioFiles != nil {
		files = *p.AudioFiles
	}
	items := make([]job.Item, 0, len(files))
	for _, f := range files {
		label := f.DisplayName
		if label == "" {
			label = f.Filename
		}
		items = append(items, job.Item{ID: f.ID, Status: f.STTStatus, Label: label})
	}
	return &Report{ID: p.ID, Title: p.Title, Status: p.Status, Files: job.NewSnapshot(items...)}
}

type analysisStatusPayload struct {
	ReportStatus   job.ReportStatus `json:"report_status"`
	HasAnalysis    bool             `json:"has_analysis"`
	LatestAnalysis timestamp        `json:"latest_analysis"`
	AnalysisCount  int              `json:"analysis_count"`
	Error          string           `json:"error"`
}

type latestPayload struct {
	ReportID     job.ID          `json:"report_id"`
	HasAnalysis  bool            `json:"has_analysis"`
	AnalysisData json.RawMessage `json:"analysis_data"`
	GeneratedAt  timestamp       `json:"generated_at"`
	AIPromptID   *job.ID         `json:"ai_prompt_id"`
}

// timestamp accepts RFC 3339 and the zone-less ISO form the report
// service emits for naive datetimes, which are taken as UTC.
type timestamp struct {
	t  time.Time
	ok bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ts = timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*ts = timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts = timestamp{t: t.UTC(), ok: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (ts timestamp) ptr() *time.Time {
	if !ts.ok {
		return nil
	}
	t := ts.t
	return &t
}
