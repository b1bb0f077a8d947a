// Package mock is an in-memory stand-in for the report service. It serves
// the routes the watcher reads and moves its jobs forward on Advance, so
// the daemon can be demonstrated, and tested, without the real backend.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hello-sally/jobwatch/internal/job"
)

// FileSpec describes an audio file to add to a report.
type FileSpec struct {
	Name string
	// Fail makes the file's transcription end in failed.
	Fail bool
}

type audioFile struct {
	id       job.ID
	name     string
	filename string
	status   job.Status
	fail     bool
}

type analysisRecord struct {
	id          int
	generatedAt time.Time
	data        map[string]any
	promptID    int
}

type report struct {
	id           job.ID
	title        string
	status       job.ReportStatus
	files        []*audioFile
	analyses     []analysisRecord
	failAnalysis bool
}

// Service holds reports and advances their jobs one step at a time.
type Service struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	rng       *rand.Rand
	failRate  float64
	reports   map[job.ID]*report
	files     map[job.ID]*report
	nextID    int
	failNext  int
	requested int
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for analysis timestamps and Run.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithFailureRate makes each job fail with probability p, in addition to
// jobs explicitly marked to fail.
func WithFailureRate(p float64, seed int64) Option {
	return func(s *Service) {
		s.failRate = p
		s.rng = rand.New(rand.NewSource(seed))
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		clock:   clockwork.NewRealClock(),
		rng:     rand.New(rand.NewSource(1)),
		reports: make(map[job.ID]*report),
		files:   make(map[job.ID]*report),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) newIDLocked() job.ID {
	s.nextID++
	return job.ID(strconv.Itoa(s.nextID))
}

// AddReport creates a draft report whose files are all pending
// transcription, as right after upload. It returns the report id and the
// file ids in order.
func (s *Service) AddReport(title string, files ...FileSpec) (job.ID, []job.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &report{id: s.newIDLocked(), title: title, status: job.ReportDraft}
	var ids []job.ID
	for _, f := range files {
		af := &audioFile{
			id:       s.newIDLocked(),
			name:     f.Name,
			filename: f.Name + ".m4a",
			status:   job.Pending,
			fail:     f.Fail,
		}
		r.files = append(r.files, af)
		s.files[af.id] = r
		ids = append(ids, af.id)
	}
	s.reports[r.id] = r
	return r.id, ids
}

// Seed populates a handful of demo reports.
func (s *Service) Seed() []job.ID {
	a, _ := s.AddReport("Weekly sync", FileSpec{Name: "standup"}, FileSpec{Name: "retro"})
	b, _ := s.AddReport("Customer interview", FileSpec{Name: "interview-1"}, FileSpec{Name: "interview-2", Fail: true})
	c, _ := s.AddReport("Board prep", FileSpec{Name: "notes"})
	_ = s.Analyze(c, false)
	return []job.ID{a, b, c}
}

// Transcribe (re)queues a file for transcription.
func (s *Service) Transcribe(fileID job.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.files[fileID]
	if !ok {
		return fmt.Errorf("audio file %s not found", fileID)
	}
	for _, f := range r.files {
		if f.id == fileID {
			if f.status.IsOutstanding() {
				return fmt.Errorf("audio file %s is already %s", fileID, f.status)
			}
			f.status = job.Pending
		}
	}
	return nil
}

// Analyze starts an analysis run. With fail set, the run ends with the
// report back in draft.
func (s *Service) Analyze(reportID job.ID, fail bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return fmt.Errorf("report %s not found", reportID)
	}
	if r.status == job.ReportAnalyzing {
		return fmt.Errorf("report %s is already being analyzed", reportID)
	}
	r.status = job.ReportAnalyzing
	r.failAnalysis = fail
	return nil
}

// FailRequests makes the next n HTTP requests answer 503.
func (s *Service) FailRequests(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Requests returns how many HTTP requests have been served.
func (s *Service) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Advance moves every job one step: pending files start processing,
// processing files finish, and analyzing reports complete or revert to
// draft.
func (s *Service) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	for _, r := range s.sortedReportsLocked() {
		for _, f := range r.files {
			switch f.status {
			case job.Pending:
				f.status = job.Processing
			case job.Processing:
				if f.fail || s.roll() {
					f.status = job.Failed
				} else {
					f.status = job.Completed
				}
			}
		}
		if r.status != job.ReportAnalyzing {
			continue
		}
		if r.failAnalysis || s.roll() {
			r.status = job.ReportDraft
			continue
		}
		r.status = job.ReportCompleted
		r.analyses = append(r.analyses, analysisRecord{
			id:          len(r.analyses) + 1,
			generatedAt: now,
			data:        map[string]any{"summary": "Analysis of " + r.title, "files": len(r.files)},
			promptID:    1,
		})
	}
}

// Run calls Advance every interval until ctx is done.
func (s *Service) Run(ctx context.Context, every time.Duration) {
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Advance()
		}
	}
}

func (s *Service) roll() bool {
	return s.failRate > 0 && s.rng.Float64() < s.failRate
}

func (s *Service) sortedReportsLocked() []*report {
	out := make([]*report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(string(out[i].id))
		b, _ := strconv.Atoi(string(out[j].id))
		return a < b
	})
	return out
}
