package watch

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hello-sally/jobwatch/internal/config"
	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/mock"
	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/poll"
)

type fixture struct {
	clock   clockwork.FakeClock
	svc     *mock.Service
	rec     *notify.Recorder
	mgr     *Manager
	url     string
	mu      sync.Mutex
	updates []Status
}

func newFixture(t *testing.T, mutate ...func(*Settings)) *fixture {
	t.Helper()
	f := &fixture{
		clock: clockwork.NewFakeClock(),
		svc:   mock.NewService(),
		rec:   &notify.Recorder{},
	}
	srv := httptest.NewServer(f.svc.Handler())
	t.Cleanup(srv.Close)

	settings := SettingsFromConfig(config.Default())
	settings.DegradedAfter = 2
	for _, fn := range mutate {
		fn(&settings)
	}
	f.url = srv.URL
	f.mgr = NewManager(fetch.NewClient(srv.URL), settings,
		WithClock(f.clock),
		WithSink(f.rec),
		WithStatusHook(func(s Status) {
			f.mu.Lock()
			f.updates = append(f.updates, s)
			f.mu.Unlock()
		}),
	)
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) status(id job.ID, kind notify.Job) Status {
	for _, s := range f.mgr.Statuses() {
		if s.Report == id && s.Job == kind {
			return s
		}
	}
	return Status{}
}

func (f *fixture) lastUpdate() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return Status{}
	}
	return f.updates[len(f.updates)-1]
}

func (f *fixture) waitIdle(t *testing.T, id job.ID, kind notify.Job) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.status(id, kind).Active }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_TranscriptionAgainstMockService(t *testing.T) {
	f := newFixture(t)
	id, files := f.svc.AddReport("Weekly", mock.FileSpec{Name: "standup"}, mock.FileSpec{Name: "retro", Fail: true})
	ctx := context.Background()

	require.NoError(t, f.mgr.Reconcile(ctx, id))
	assert.True(t, f.status(id, notify.Transcription).Active)
	assert.False(t, f.status(id, notify.Analysis).Active)
	assert.Equal(t, "Weekly", f.status(id, notify.Transcription).Title)

	f.clock.BlockUntil(1)
	f.svc.Advance()
	f.clock.Advance(3 * time.Second)
	f.clock.BlockUntil(1)
	f.svc.Advance()
	f.clock.Advance(3 * time.Second)
	f.waitIdle(t, id, notify.Transcription)

	all := f.rec.All()
	require.Len(t, all, 2)
	assert.Equal(t, notify.Notification{
		Watch: id, Job: notify.Transcription, ItemID: files[0], Kind: notify.Succeeded,
		Label: "standup", Session: all[0].Session, At: f.clock.Now(),
	}, all[0])
	assert.Equal(t, files[1], all[1].ItemID)
	assert.Equal(t, notify.Failed, all[1].Kind)

	st := f.status(id, notify.Transcription)
	assert.Equal(t, poll.StopSettled, st.LastStop)
	assert.Equal(t, 2, st.Attempts)
	require.Eventually(t, func() bool { return f.lastUpdate().LastStop == poll.StopSettled }, time.Second, 5*time.Millisecond)
}

func TestManager_AnalysisAgainstMockService(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("Board prep")
	require.NoError(t, f.svc.Analyze(id, false))

	require.NoError(t, f.mgr.Reconcile(context.Background(), id))
	assert.False(t, f.status(id, notify.Transcription).Active)
	require.True(t, f.status(id, notify.Analysis).Active)

	f.clock.BlockUntil(1)
	f.clock.Advance(2 * time.Second)
	f.clock.BlockUntil(1)
	f.svc.Advance()
	f.clock.Advance(2 * time.Second)
	f.waitIdle(t, id, notify.Analysis)

	all := f.rec.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.Analysis, all[0].Job)
	assert.Equal(t, notify.Succeeded, all[0].Kind)
	assert.Equal(t, id, all[0].ItemID)
	assert.Equal(t, "Board prep", all[0].Label)
}

func TestManager_FailedAnalysisRevertsToDraft(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("Board prep")
	require.NoError(t, f.svc.Analyze(id, true))
	f.mgr.EnsureAnalysis(id, true)

	f.clock.BlockUntil(1)
	f.clock.Advance(2 * time.Second)
	f.clock.BlockUntil(1)
	f.svc.Advance()
	f.clock.Advance(2 * time.Second)
	f.waitIdle(t, id, notify.Analysis)

	all := f.rec.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.Failed, all[0].Kind)
}

func TestManager_DegradedAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("r", mock.FileSpec{Name: "a"})
	f.mgr.EnsureTranscription(id, true)
	f.svc.FailRequests(2)

	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	f.clock.BlockUntil(1)

	st := f.status(id, notify.Transcription)
	assert.True(t, st.Active)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 2, st.TotalFailures)
	assert.True(t, st.Degraded)
	assert.Zero(t, f.rec.Len())
}

func TestManager_GiveUpAfterBudget(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.AnalysisAttempts = 2 })
	id, _ := f.svc.AddReport("Slow")
	require.NoError(t, f.svc.Analyze(id, false))
	require.NoError(t, f.mgr.Reconcile(context.Background(), id))

	f.clock.BlockUntil(1)
	f.clock.Advance(2 * time.Second)
	f.clock.BlockUntil(1)
	f.clock.Advance(2 * time.Second)
	f.waitIdle(t, id, notify.Analysis)

	all := f.rec.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.GaveUp, all[0].Kind)
	assert.Equal(t, "Slow", all[0].Label)
	assert.Equal(t, poll.StopBudgetExhausted, f.status(id, notify.Analysis).LastStop)
}

func TestManager_StopAndForget(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("r", mock.FileSpec{Name: "a"})
	require.NoError(t, f.mgr.Reconcile(context.Background(), id))
	require.True(t, f.status(id, notify.Transcription).Active)

	require.NoError(t, f.mgr.Stop(id))
	assert.False(t, f.status(id, notify.Transcription).Active)
	assert.Equal(t, []job.ID{id}, f.mgr.Reports())

	require.NoError(t, f.mgr.Forget(id))
	assert.Empty(t, f.mgr.Reports())
	assert.ErrorIs(t, f.mgr.Forget(id), ErrUnknownReport)
	assert.ErrorIs(t, f.mgr.Stop(id), ErrUnknownReport)
}

func TestManager_ReconcileUnknownReport(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.Reconcile(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, fetch.IsFetchError(err))
	assert.Empty(t, f.mgr.Reports())
}

func TestManager_EnsureIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("r", mock.FileSpec{Name: "a"})
	f.mgr.EnsureTranscription(id, true)
	session := f.status(id, notify.Transcription).Session
	f.mgr.EnsureTranscription(id, true)
	assert.Equal(t, session, f.status(id, notify.Transcription).Session)

	f.mgr.EnsureTranscription(id, false)
	f.mgr.EnsureTranscription(id, false)
	assert.Equal(t, poll.StopRequested, f.status(id, notify.Transcription).LastStop)
}

func TestManager_RunReconcilesFollowedReports(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.ReconcileInterval = 10 * time.Second })
	id, _ := f.svc.AddReport("r")
	f.mgr.EnsureAnalysis(id, false)
	require.NoError(t, f.svc.Analyze(id, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mgr.Run(ctx)
		close(done)
	}()
	f.clock.BlockUntil(1)
	f.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return f.status(id, notify.Analysis).Active }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.False(t, f.status(id, notify.Analysis).Active)
}

func TestSortIDs(t *testing.T) {
	ids := []job.ID{"10", "b", "2", "a", "1"}
	sortIDs(ids)
	assert.Equal(t, []job.ID{"1", "2", "10", "a", "b"}, ids)
}

func TestManager_FollowWithoutFetching(t *testing.T) {
	f := newFixture(t)
	f.mgr.Follow("42")
	assert.Equal(t, []job.ID{"42"}, f.mgr.Reports())
	assert.Zero(t, f.svc.Requests())
	for _, st := range f.mgr.Statuses() {
		assert.False(t, st.Active)
	}
}

func TestManager_ReconcileDoesNotCutOffPendingTransition(t *testing.T) {
	f := newFixture(t)
	id, files := f.svc.AddReport("Weekly", mock.FileSpec{Name: "standup"})
	ctx := context.Background()

	require.NoError(t, f.mgr.Reconcile(ctx, id))
	f.clock.BlockUntil(1)
	f.svc.Advance()
	f.clock.Advance(3 * time.Second)
	f.clock.BlockUntil(1)

	// The file completes between ticks and a reconcile observes it first.
	f.svc.Advance()
	require.NoError(t, f.mgr.Reconcile(ctx, id))
	require.True(t, f.status(id, notify.Transcription).Active)

	f.clock.Advance(3 * time.Second)
	f.waitIdle(t, id, notify.Transcription)

	all := f.rec.All()
	require.Len(t, all, 1)
	assert.Equal(t, files[0], all[0].ItemID)
	assert.Equal(t, notify.Succeeded, all[0].Kind)
	assert.Equal(t, poll.StopSettled, f.status(id, notify.Transcription).LastStop)
}

func TestManager_ReconcileOfSettledReportStartsNothing(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("Done")
	require.NoError(t, f.mgr.Reconcile(context.Background(), id))
	for _, st := range f.mgr.Statuses() {
		assert.False(t, st.Active)
		assert.Equal(t, poll.StopNone, st.LastStop)
	}
}

func TestManager_TranscriptionGiveUpCarriesTitle(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.TranscriptionAttempts = 2 })
	id, _ := f.svc.AddReport("Weekly", mock.FileSpec{Name: "standup"})
	require.NoError(t, f.mgr.Reconcile(context.Background(), id))

	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	f.waitIdle(t, id, notify.Transcription)

	all := f.rec.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.GaveUp, all[0].Kind)
	assert.Equal(t, notify.Transcription, all[0].Job)
	assert.Equal(t, id, all[0].ItemID)
	assert.Equal(t, "Weekly", all[0].Label)
}

func TestManager_ReconcileAllLogging(t *testing.T) {
	f := newFixture(t)
	id, _ := f.svc.AddReport("r", mock.FileSpec{Name: "a"})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mgr := NewManager(fetch.NewClient(f.url), SettingsFromConfig(config.Default()),
		WithClock(f.clock),
		WithLogger(logger),
	)
	t.Cleanup(mgr.Close)
	mgr.Follow(id)
	mgr.Follow("404")

	mgr.ReconcileAll(context.Background())

	out := buf.String()
	assert.Contains(t, out, "reconcile failed")
	assert.Contains(t, out, "status=404")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, strings.Count(line, "component="), 1, line)
		if strings.Contains(line, "session started") {
			assert.Contains(t, line, "component=poll")
		}
	}
	assert.Contains(t, out, "session started")
}
