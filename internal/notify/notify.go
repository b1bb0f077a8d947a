// Package notify carries user-facing job notifications from the poll
// controllers to whatever surfaces them: logs, websocket clients, stdout.
package notify

import (
	"sync"
	"time"

	"github.com/hello-sally/jobwatch/internal/job"
)

// Kind is what a notification reports.
type Kind string

const (
	Succeeded Kind = "succeeded"
	Failed    Kind = "failed"
	// GaveUp is informational: polling stopped after the attempt budget
	// ran out while work was still outstanding.
	GaveUp Kind = "gave_up"
)

// FromTransition maps a classifier outcome to a notification kind.
func FromTransition(k job.Kind) Kind {
	if k == job.KindFailed {
		return Failed
	}
	return Succeeded
}

// Job names the kind of asynchronous work being watched.
type Job string

const (
	Transcription Job = "transcription"
	Analysis      Job = "analysis"
)

// Notification is one surfaced transition.
type Notification struct {
	Watch   job.ID    `json:"watch"`
	Job     Job       `json:"job"`
	ItemID  job.ID    `json:"itemId"`
	Kind    Kind      `json:"kind"`
	Label   string    `json:"label,omitempty"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
}

// Sink receives notifications. Implementations must be safe for
// concurrent use and must not call back into the controller that emits.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// Multi fans a notification out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(n Notification) {
		for _, s := range out {
			s.Notify(n)
		}
	})
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}
