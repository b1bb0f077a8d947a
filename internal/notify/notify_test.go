package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hello-sally/jobwatch/internal/job"
)

var at = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func TestFromTransition(t *testing.T) {
	assert.Equal(t, Succeeded, FromTransition(job.KindSucceeded))
	assert.Equal(t, Failed, FromTransition(job.KindFailed))
}

func TestMulti_SkipsNilAndPreservesOrder(t *testing.T) {
	var order []string
	a := SinkFunc(func(Notification) { order = append(order, "a") })
	b := SinkFunc(func(Notification) { order = append(order, "b") })

	Multi(a, nil, b).Notify(Notification{})
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(Notification{ItemID: "1"})
	r.Notify(Notification{ItemID: "2"})
	all := r.All()
	require.Len(t, all, 2)
	all[0].ItemID = "x"
	assert.Equal(t, job.ID("1"), r.All()[0].ItemID)
	assert.Equal(t, 2, r.Len())
}

func TestWriterSink_Text(t *testing.T) {
	var buf bytes.Buffer
	s := WriterSink(&buf, FormatText)
	s.Notify(Notification{Watch: "7", Job: Transcription, ItemID: "3", Kind: Succeeded, Label: "kickoff.m4a", At: at})
	s.Notify(Notification{Watch: "7", Job: Transcription, ItemID: "4", Kind: Failed, At: at})
	s.Notify(Notification{Watch: "7", Job: Analysis, ItemID: "7", Kind: GaveUp, At: at})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "09:30:00 transcription kickoff.m4a completed", lines[0])
	assert.Equal(t, "09:30:00 transcription #4 failed", lines[1])
	assert.Contains(t, lines[2], "stopped watching analysis for report 7")
}

func TestWriterSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	WriterSink(&buf, FormatJSON).Notify(Notification{
		Watch: "7", Job: Analysis, ItemID: "7", Kind: Failed, Session: "s1", At: at,
	})
	assert.JSONEq(t,
		`{"watch":7,"job":"analysis","itemId":7,"kind":"failed","session":"s1","at":"2025-03-01T09:30:00Z"}`,
		buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestLogSink_LevelByKind(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := LogSink(logger)
	s.Notify(Notification{Watch: "1", Job: Transcription, ItemID: "2", Kind: Succeeded})
	s.Notify(Notification{Watch: "1", Job: Transcription, ItemID: "3", Kind: Failed})

	out := buf.String()
	assert.Contains(t, out, `level=INFO msg="job succeeded"`)
	assert.Contains(t, out, `level=WARN msg="job failed"`)
	assert.Contains(t, out, "component=notify")
}
