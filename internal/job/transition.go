package job

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Kind is the outcome a transition reports.
type Kind int

const (
	KindSucceeded Kind = iota + 1
	KindFailed
)

var kindNames = map[Kind]string{
	KindSucceeded: "succeeded",
	KindFailed:    "failed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for v, n := range kindNames {
		if n == s {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("job: unknown transition kind %q", s)
}

// TransitionEvent records that an item left an outstanding state between
// two consecutive observations.
type TransitionEvent struct {
	ItemID ID     `json:"itemId"`
	Kind   Kind   `json:"kind"`
	Label  string `json:"label,omitempty"`
}

// Classify derives the transitions between prev and curr. Only items
// present in both and moving from pending/processing to completed/failed
// produce an event; a nil prev produces nothing, so the first observation
// of a session never reports work that finished before it.
func Classify(prev *Snapshot, curr Snapshot) []TransitionEvent {
	if prev == nil {
		return nil
	}
	var out []TransitionEvent
	for _, it := range curr.Items() {
		before, ok := prev.Get(it.ID)
		if !ok || !before.Status.IsOutstanding() || !it.Status.IsTerminal() {
			continue
		}
		kind := KindSucceeded
		if it.Status == Failed {
			kind = KindFailed
		}
		out = append(out, TransitionEvent{ItemID: it.ID, Kind: kind, Label: it.Label})
	}
	return out
}

// ClassifyAnalysis returns the classifier for a report's analysis job.
// The report is the single item, identified by ownerID.
func ClassifyAnalysis(ownerID ID, label string) func(prev *Analysis, curr Analysis) []TransitionEvent {
	return func(prev *Analysis, curr Analysis) []TransitionEvent {
		if prev == nil || prev.Status != ReportAnalyzing {
			return nil
		}
		switch curr.Status {
		case ReportCompleted, ReportPublished:
			return []TransitionEvent{{ItemID: ownerID, Kind: KindSucceeded, Label: label}}
		case ReportDraft:
			return []TransitionEvent{{ItemID: ownerID, Kind: KindFailed, Label: label}}
		}
		return nil
	}
}
