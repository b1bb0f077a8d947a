// Package watch keeps one transcription and one analysis poll controller
// per followed report and periodically reconciles them against the
// report service.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/hello-sally/jobwatch/internal/config"
	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/poll"
)

// ErrUnknownReport is returned for operations on a report that is not
// being watched.
var ErrUnknownReport = errors.New("report is not watched")

// Settings are the polling parameters shared by every watch.
type Settings struct {
	TranscriptionInterval time.Duration
	TranscriptionAttempts int
	AnalysisInterval      time.Duration
	AnalysisAttempts      int
	AnalysisTerminal      []job.ReportStatus
	ReconcileInterval     time.Duration
	DegradedAfter         int
}

// SettingsFromConfig extracts the manager's settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TranscriptionInterval: cfg.Transcription.PollInterval,
		TranscriptionAttempts: cfg.Transcription.MaxAttempts,
		AnalysisInterval:      cfg.Analysis.PollInterval,
		AnalysisAttempts:      cfg.Analysis.MaxAttempts,
		AnalysisTerminal:      cfg.Analysis.TerminalStatuses,
		ReconcileInterval:     cfg.Reconcile.Interval,
		DegradedAfter:         cfg.Broadcast.DegradedAfter,
	}
}

// Status describes one watched job for status displays.
type Status struct {
	Report   job.ID     `json:"report"`
	Title    string     `json:"title,omitempty"`
	Job      notify.Job `json:"job"`
	Degraded bool       `json:"degraded"`
	poll.Status
}

type watch struct {
	id            job.ID
	mu            sync.Mutex
	title         string
	transcription *poll.Controller[job.Snapshot]
	analysis      *poll.Controller[job.Analysis]
}

func (w *watch) setTitle(t string) {
	w.mu.Lock()
	w.title = t
	w.mu.Unlock()
}

func (w *watch) getTitle() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

func (w *watch) close() {
	w.transcription.Close()
	w.analysis.Close()
}

// Manager owns the watches. All methods are safe for concurrent use.
type Manager struct {
	client   *fetch.Client
	settings Settings
	sink     notify.Sink
	logger   *slog.Logger
	pollLog  *slog.Logger
	clock    clockwork.Clock
	onStatus func(Status)

	mu      sync.RWMutex
	watches map[job.ID]*watch
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets where notifications go.
func WithSink(s notify.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the clock for the controllers and the reconcile loop.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithStatusHook registers fn to receive a watch's status each time one
// of its sessions starts or stops. fn must not block.
func WithStatusHook(fn func(Status)) Option {
	return func(m *Manager) { m.onStatus = fn }
}

func NewManager(client *fetch.Client, settings Settings, opts ...Option) *Manager {
	m := &Manager{
		client:   client,
		settings: settings,
		sink:     notify.Discard,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		watches:  make(map[job.ID]*watch),
	}
	for _, o := range opts {
		o(m)
	}
	m.pollLog = m.logger
	m.logger = m.logger.With("component", "watch")
	return m
}

func (m *Manager) get(id job.ID) (*watch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watches[id]
	return w, ok
}

// getOrCreate returns the watch for id, creating its controllers on
// first use.
func (m *Manager) getOrCreate(id job.ID) *watch {
	if w, ok := m.get(id); ok {
		return w
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[id]; ok {
		return w
	}
	w := &watch{id: id}
	w.transcription = poll.NewController[job.Snapshot](
		fetch.TranscriptionFetcher{Client: m.client, ReportID: id},
		job.Classify,
		job.Settled,
		m.controllerOptions(w, notify.Transcription,
			poll.WithInterval(m.settings.TranscriptionInterval),
			poll.WithMaxAttempts(m.settings.TranscriptionAttempts),
			poll.WithGiveUpNotice(id, ""),
		)...,
	)
	w.analysis = poll.NewController[job.Analysis](
		fetch.AnalysisFetcher{Client: m.client, ReportID: id},
		job.ClassifyAnalysis(id, ""),
		job.AnalysisSettled(m.settings.AnalysisTerminal...),
		m.controllerOptions(w, notify.Analysis,
			poll.WithInterval(m.settings.AnalysisInterval),
			poll.WithMaxAttempts(m.settings.AnalysisAttempts),
			poll.WithGiveUpNotice(id, ""),
		)...,
	)
	m.watches[id] = w
	m.logger.Debug("watch created", "report", id)
	return w
}

func (m *Manager) controllerOptions(w *watch, kind notify.Job, extra ...poll.Option) []poll.Option {
	opts := []poll.Option{
		poll.WithClock(m.clock),
		poll.WithLogger(m.pollLog.With("report", w.id, "job", kind)),
		poll.WithSink(notify.SinkFunc(func(n notify.Notification) {
			n.Watch = w.id
			n.Job = kind
			if n.Label == "" && (kind == notify.Analysis || n.Kind == notify.GaveUp) {
				n.Label = w.getTitle()
			}
			m.sink.Notify(n)
		})),
		poll.WithStopHook(func(poll.StopEvent) { m.publish(w, kind) }),
	}
	return append(opts, extra...)
}

func (m *Manager) publish(w *watch, kind notify.Job) {
	if m.onStatus == nil {
		return
	}
	m.onStatus(m.status(w, kind))
}

func (m *Manager) status(w *watch, kind notify.Job) Status {
	var ps poll.Status
	if kind == notify.Analysis {
		ps = w.analysis.Status()
	} else {
		ps = w.transcription.Status()
	}
	return Status{
		Report:   w.id,
		Title:    w.getTitle(),
		Job:      kind,
		Degraded: ps.Degraded(m.settings.DegradedAfter),
		Status:   ps,
	}
}

// Follow registers a report without fetching it. The next reconcile
// picks it up.
func (m *Manager) Follow(id job.ID) {
	m.getOrCreate(id)
}

// EnsureTranscription starts or stops transcription polling for a report.
func (m *Manager) EnsureTranscription(id job.ID, outstanding bool) {
	w := m.getOrCreate(id)
	was := w.transcription.Active()
	w.transcription.Ensure(outstanding)
	if !was && w.transcription.Active() {
		m.publish(w, notify.Transcription)
	}
}

// EnsureAnalysis starts or stops analysis polling for a report.
func (m *Manager) EnsureAnalysis(id job.ID, outstanding bool) {
	w := m.getOrCreate(id)
	was := w.analysis.Active()
	w.analysis.Ensure(outstanding)
	if !was && w.analysis.Active() {
		m.publish(w, notify.Analysis)
	}
}

// Stop ends both sessions of a report but keeps following it.
func (m *Manager) Stop(id job.ID) error {
	w, ok := m.get(id)
	if !ok {
		return ErrUnknownReport
	}
	w.transcription.Stop()
	w.analysis.Stop()
	return nil
}

// Forget stops both sessions and drops the report.
func (m *Manager) Forget(id job.ID) error {
	m.mu.Lock()
	w, ok := m.watches[id]
	delete(m.watches, id)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownReport
	}
	w.close()
	m.logger.Info("watch removed", "report", id)
	return nil
}

// Reconcile reads the report and its analysis status once and starts a
// session for each job that has outstanding work. It never stops one: a
// running session ends on its own settle check, after classifying the
// observation that settled it. The report is followed from then on.
func (m *Manager) Reconcile(ctx context.Context, id job.ID) error {
	var (
		rep      *fetch.Report
		analysis job.Analysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rep, err = m.client.ReportDetail(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		analysis, err = m.client.AnalysisStatus(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	w := m.getOrCreate(id)
	w.setTitle(rep.Title)
	if job.Outstanding(rep.Files) {
		m.EnsureTranscription(id, true)
	}
	if analysis.Running() {
		m.EnsureAnalysis(id, true)
	}
	m.logger.Debug("reconciled", "report", id,
		"outstanding_files", rep.Files.Count(job.Pending)+rep.Files.Count(job.Processing),
		"report_status", analysis.Status)
	return nil
}

// Reports lists followed report ids in ascending order.
func (m *Manager) Reports() []job.ID {
	m.mu.RLock()
	ids := make([]job.ID, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sortIDs(ids)
	return ids
}

// Statuses lists both jobs of every watch, ordered by report.
func (m *Manager) Statuses() []Status {
	var out []Status
	for _, id := range m.Reports() {
		w, ok := m.get(id)
		if !ok {
			continue
		}
		out = append(out, m.status(w, notify.Transcription), m.status(w, notify.Analysis))
	}
	return out
}

// ReconcileAll reconciles every followed report, a few at a time.
// Failures are logged and do not stop the others.
func (m *Manager) ReconcileAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(4)
	for _, id := range m.Reports() {
		g.Go(func() error {
			err := m.Reconcile(ctx, id)
			switch {
			case err == nil:
			case fetch.IsMalformed(err):
				m.logger.Error("report service returned malformed data", "report", id, "error", err)
			case fetch.IsFetchError(err):
				m.logger.Warn("reconcile failed", "report", id, "status", fetch.StatusCode(err), "error", err)
			default:
				m.logger.Debug("reconcile abandoned", "report", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run reconciles on the configured interval until ctx is cancelled, then
// closes every controller.
func (m *Manager) Run(ctx context.Context) {
	defer m.Close()
	if m.settings.ReconcileInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := m.clock.NewTicker(m.settings.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.ReconcileAll(ctx)
		}
	}
}

// Close stops every controller and waits for their sessions to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		all = append(all, w)
	}
	m.mu.Unlock()
	for _, w := range all {
		w.close()
	}
}

func sortIDs(ids []job.ID) {
	sort.Slice(ids, func(i, j int) bool { return job.LessID(ids[i], ids[j]) })
}
