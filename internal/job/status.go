package job

import (
	json "github.com/goccy/go-json"
)

// Status is the lifecycle state of one item of asynchronous work, as
// reported by the job service (e.g. an audio file's stt_status).
type Status int

const (
	StatusUnknown Status = iota
	Pending
	Processing
	Completed
	Failed
)

var statusNames = map[Status]string{
	StatusUnknown: "unknown",
	Pending:       "pending",
	Processing:    "processing",
	Completed:     "completed",
	Failed:        "failed",
}

var statusFromName = map[string]Status{
	"pending":    Pending,
	"processing": Processing,
	"completed":  Completed,
	"failed":     Failed,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the job service's lowercase names. Anything it
// does not recognise becomes StatusUnknown rather than an error so that a
// new server-side state does not break observation of the others.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseStatus(name)
	return nil
}

// ParseStatus maps a status name to a Status, StatusUnknown if unrecognised.
func ParseStatus(name string) Status {
	if v, ok := statusFromName[name]; ok {
		return v
	}
	return StatusUnknown
}

// IsOutstanding reports whether work in this state may still change.
func (s Status) IsOutstanding() bool {
	return s == Pending || s == Processing
}

// IsTerminal reports whether the job has finished, successfully or not.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// ReportStatus is the status of a whole report. The AI analysis job is
// observed through it: analyzing while running, then completed on success
// or reverted to draft on failure.
type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportAnalyzing ReportStatus = "analyzing"
	ReportCompleted ReportStatus = "completed"
	ReportPublished ReportStatus = "published"
)

// Valid reports whether r is one of the statuses the job service emits.
func (r ReportStatus) Valid() bool {
	switch r {
	case ReportDraft, ReportAnalyzing, ReportCompleted, ReportPublished:
		return true
	}
	return false
}
