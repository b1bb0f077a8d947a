package poll

import json "github.com/goccy/go-json"

// StopReason records why a session ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopSettled
	StopBudgetExhausted
	StopCanceled
)

var stopReasonNames = map[StopReason]string{
	StopNone:            "",
	StopRequested:       "requested",
	StopSettled:         "settled",
	StopBudgetExhausted: "budget_exhausted",
	StopCanceled:        "canceled",
}

var stopReasonFromName = map[string]StopReason{
	"requested":        StopRequested,
	"settled":          StopSettled,
	"budget_exhausted": StopBudgetExhausted,
	"canceled":         StopCanceled,
}

func (r StopReason) String() string {
	return stopReasonNames[r]
}

func (r StopReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *StopReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = stopReasonFromName[s]
	return nil
}
