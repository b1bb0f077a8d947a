package mock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
)

func newServed(t *testing.T, opts ...Option) (*Service, *fetch.Client, string) {
	t.Helper()
	svc := NewService(opts...)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, fetch.NewClient(srv.URL), srv.URL
}

func statuses(s job.Snapshot) []job.Status {
	var out []job.Status
	for _, it := range s.Items() {
		out = append(out, it.Status)
	}
	return out
}

func TestService_TranscriptionLifecycle(t *testing.T) {
	svc, client, _ := newServed(t)
	id, files := svc.AddReport("Weekly", FileSpec{Name: "a"}, FileSpec{Name: "b", Fail: true})
	require.Len(t, files, 2)
	ctx := context.Background()

	snap, err := client.AudioFiles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []job.Status{job.Pending, job.Pending}, statuses(snap))
	it, _ := snap.Get(files[0])
	assert.Equal(t, "a", it.Label)

	svc.Advance()
	snap, err = client.AudioFiles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []job.Status{job.Processing, job.Processing}, statuses(snap))

	svc.Advance()
	snap, err = client.AudioFiles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []job.Status{job.Completed, job.Failed}, statuses(snap))
	assert.True(t, job.Settled(snap))

	require.NoError(t, svc.Transcribe(files[1]))
	snap, err = client.AudioFiles(ctx, id)
	require.NoError(t, err)
	assert.True(t, job.Outstanding(snap))
	assert.Error(t, svc.Transcribe(files[1]))
}

func TestService_AnalysisLifecycle(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC))
	svc, client, _ := newServed(t, WithClock(fc))
	id, _ := svc.AddReport("Board")
	fetcher := fetch.AnalysisFetcher{Client: client, ReportID: id}
	ctx := context.Background()

	a, err := fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ReportDraft, a.Status)
	assert.False(t, a.HasAnalysis)

	require.NoError(t, svc.Analyze(id, false))
	assert.Error(t, svc.Analyze(id, false))
	a, err = fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, a.Running())

	svc.Advance()
	a, err = fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ReportCompleted, a.Status)
	assert.Equal(t, 1, a.AnalysisCount)
	require.NotNil(t, a.LatestAnalysisAt)
	assert.True(t, a.LatestAnalysisAt.Equal(fc.Now()))
	require.NotNil(t, a.Latest)
	assert.Contains(t, string(a.Latest.Data), "Analysis of Board")

	require.NoError(t, svc.Analyze(id, true))
	svc.Advance()
	a, err = fetcher.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ReportDraft, a.Status)
	assert.Equal(t, 1, a.AnalysisCount)
}

func TestService_HTTPTriggers(t *testing.T) {
	svc, client, base := newServed(t)
	id, files := svc.AddReport("Call", FileSpec{Name: "a"})
	svc.Advance()
	svc.Advance()

	resp, err := http.Post(base+"/audio-files/"+files[0].String()+"/transcribe", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(base+"/reports/"+id.String()+"/analyze", "application/json", strings.NewReader(`{"fail":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	a, err := client.AnalysisStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.ReportAnalyzing, a.Status)
	svc.Advance()
	a, err = client.AnalysisStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.ReportDraft, a.Status)
}

func TestService_NotFoundAndInjectedFailures(t *testing.T) {
	svc, client, _ := newServed(t)
	id, _ := svc.AddReport("x")

	_, err := client.AudioFiles(context.Background(), "999")
	assert.Equal(t, http.StatusNotFound, fetch.StatusCode(err))

	svc.FailRequests(1)
	_, err = client.AudioFiles(context.Background(), id)
	assert.Equal(t, http.StatusServiceUnavailable, fetch.StatusCode(err))
	_, err = client.AudioFiles(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, 3, svc.Requests())
}

func TestService_Run(t *testing.T) {
	fc := clockwork.NewFakeClock()
	svc := NewService(WithClock(fc))
	id, _ := svc.AddReport("r", FileSpec{Name: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx, time.Second)
		close(done)
	}()
	fc.BlockUntil(1)
	fc.Advance(time.Second)

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.reports[id].files[0].status == job.Processing
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestService_Seed(t *testing.T) {
	svc, client, _ := newServed(t)
	ids := svc.Seed()
	require.Len(t, ids, 3)
	a, err := client.AnalysisStatus(context.Background(), ids[2])
	require.NoError(t, err)
	assert.True(t, a.Running())
}
