package ws

import (
	"time"

	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgNotification MessageType = "notification"
	MsgWatchStatus  MessageType = "watch_status"
	MsgError        MessageType = "error"
)

// WSMessage is the envelope for everything pushed to UI clients. Seq
// increases by one per broadcast so clients can spot gaps.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Watches []watch.Status `json:"watches"`
}

type NotificationPayload = notify.Notification

type WatchStatusPayload = watch.Status

type ErrorPayload struct {
	Message string `json:"message"`
}

// EnsureRequest is the body of the transcription and analysis routes.
type EnsureRequest struct {
	Outstanding bool `json:"outstanding"`
}

type ProcessStats struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
}

type HealthPayload struct {
	Status         string        `json:"status"`
	Uptime         string        `json:"uptime"`
	Watches        int           `json:"watches"`
	ActiveSessions int           `json:"activeSessions"`
	Degraded       []string      `json:"degraded,omitempty"`
	Clients        int           `json:"clients"`
	Process        *ProcessStats `json:"process,omitempty"`
	CheckedAt      time.Time     `json:"checkedAt"`
}
