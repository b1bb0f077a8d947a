package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// LogSink writes each notification as a structured log record. Failures
// log at warn so they stand out from routine completions.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")
	return SinkFunc(func(n Notification) {
		level := slog.LevelInfo
		if n.Kind != Succeeded {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "job "+string(n.Kind),
			"watch", n.Watch,
			"job", n.Job,
			"item", n.ItemID,
			"label", n.Label,
			"session", n.Session,
		)
	})
}

// Format selects how WriterSink renders notifications.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q (want text or json)", s)
}

// WriterSink renders notifications to w, one per line.
func WriterSink(w io.Writer, format Format) Sink {
	var mu sync.Mutex
	return SinkFunc(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		if format == FormatJSON {
			data, err := json.Marshal(n)
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(w, "%s\n", data)
			return
		}
		_, _ = fmt.Fprintln(w, Text(n))
	})
}

// Text is the one-line human rendering of n.
func Text(n Notification) string {
	subject := n.Label
	if subject == "" {
		subject = "#" + n.ItemID.String()
	}
	var msg string
	switch n.Kind {
	case Succeeded:
		msg = fmt.Sprintf("%s %s completed", n.Job, subject)
	case Failed:
		msg = fmt.Sprintf("%s %s failed", n.Job, subject)
	case GaveUp:
		msg = fmt.Sprintf("stopped watching %s for report %s: attempt limit reached", n.Job, n.Watch)
	default:
		msg = fmt.Sprintf("%s %s %s", n.Job, subject, n.Kind)
	}
	return n.At.Format(time.TimeOnly) + " " + msg
}
