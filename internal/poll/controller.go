// Package poll drives periodic observation of server-side jobs that offer
// no push channel. A Controller owns at most one polling session at a
// time; each session fetches a snapshot per tick, diffs it against the
// previous one, surfaces each transition once, and ends when the work
// settles, the attempt budget runs out, or it is stopped.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/notify"
)

// Fetcher obtains one authoritative snapshot. It must honour ctx, which
// is cancelled when the session stops.
type Fetcher[S any] interface {
	Fetch(ctx context.Context) (S, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[S any] func(ctx context.Context) (S, error)

func (f FetcherFunc[S]) Fetch(ctx context.Context) (S, error) { return f(ctx) }

// Classifier derives transitions between two consecutive observations.
// prev is nil on the first tick of a session.
type Classifier[S any] func(prev *S, curr S) []job.TransitionEvent

// Policy reports whether polling can stop after observing s.
type Policy[S any] func(s S) bool

// StopEvent describes a session that has ended.
type StopEvent struct {
	Session  string
	Reason   StopReason
	Attempts int
}

// Status is a point-in-time view of a controller for status displays.
type Status struct {
	Active              bool       `json:"active"`
	Session             string     `json:"session,omitempty"`
	Attempts            int        `json:"attempts"`
	MaxAttempts         int        `json:"maxAttempts"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	TotalFailures       int        `json:"totalFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastTick            time.Time  `json:"lastTick"`
	LastStop            StopReason `json:"lastStop,omitempty"`
}

// Degraded reports whether consecutive failures have reached threshold.
func (s Status) Degraded(threshold int) bool {
	h := fetchHealth{failures: s.ConsecutiveFailures}
	return h.status(threshold) == Degraded
}

type session[S any] struct {
	token  string
	ctx    context.Context
	cancel context.CancelFunc
	budget *Budget
	dedupe *Deduper
	prev   *S
}

// Controller runs polling sessions for one watched job. Ensure, Start,
// Stop, Active and Status are safe to call from any goroutine.
type Controller[S any] struct {
	fetcher  Fetcher[S]
	classify Classifier[S]
	settled  Policy[S]

	interval    time.Duration
	maxAttempts int
	clock       clockwork.Clock
	sink        notify.Sink
	logger      *slog.Logger
	onStop      func(StopEvent)
	base        context.Context
	newToken    func() string

	giveUp      bool
	giveUpID    job.ID
	giveUpLabel string

	mu           sync.Mutex
	session      *session[S]
	health       fetchHealth
	lastStop     StopReason
	lastAttempts int
	closed       bool
	wg           sync.WaitGroup
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	interval    time.Duration
	maxAttempts int
	clock       clockwork.Clock
	sink        notify.Sink
	logger      *slog.Logger
	onStop      func(StopEvent)
	base        context.Context
	newToken    func() string
	giveUp      bool
	giveUpID    job.ID
	giveUpLabel string
}

// WithInterval sets the delay between ticks.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithMaxAttempts bounds the number of ticks in one session.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSink sets where notifications go. The sink is called with the
// controller lock held.
func WithSink(s notify.Sink) Option {
	return func(o *options) { o.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStopHook registers fn to run, outside the controller lock, each
// time a session ends.
func WithStopHook(fn func(StopEvent)) Option {
	return func(o *options) { o.onStop = fn }
}

// WithContext sets the parent of every session context. Cancelling it
// ends the active session with StopCanceled.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.base = ctx }
}

// WithTokenGenerator replaces the UUIDv7 session token source.
func WithTokenGenerator(fn func() string) Option {
	return func(o *options) { o.newToken = fn }
}

// WithGiveUpNotice emits a GaveUp notification for itemID when a session
// exhausts its attempt budget.
func WithGiveUpNotice(itemID job.ID, label string) Option {
	return func(o *options) {
		o.giveUp = true
		o.giveUpID = itemID
		o.giveUpLabel = label
	}
}

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 2 * time.Second

func newUUIDv7() string { return uuid.Must(uuid.NewV7()).String() }

// NewController creates an idle controller.
func NewController[S any](fetcher Fetcher[S], classify Classifier[S], settled Policy[S], opts ...Option) *Controller[S] {
	o := options{
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		clock:       clockwork.NewRealClock(),
		sink:        notify.Discard,
		logger:      slog.Default(),
		base:        context.Background(),
		newToken:    newUUIDv7,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = DefaultInterval
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}
	return &Controller[S]{
		fetcher:     fetcher,
		classify:    classify,
		settled:     settled,
		interval:    o.interval,
		maxAttempts: o.maxAttempts,
		clock:       o.clock,
		sink:        o.sink,
		logger:      o.logger.With("component", "poll"),
		onStop:      o.onStop,
		base:        o.base,
		newToken:    o.newToken,
		giveUp:      o.giveUp,
		giveUpID:    o.giveUpID,
		giveUpLabel: o.giveUpLabel,
	}
}

// Active reports whether a session is running.
func (c *Controller[S]) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Ensure starts a session when there is outstanding work and none is
// running, and stops the running one when there is none. Repeated calls
// with the same argument are no-ops.
func (c *Controller[S]) Ensure(outstanding bool) {
	if outstanding {
		c.Start()
		return
	}
	c.Stop()
}

// Start begins a session if the controller is idle. The first tick fires
// one interval later.
func (c *Controller[S]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(c.base)
	s := &session[S]{
		token:  c.newToken(),
		ctx:    ctx,
		cancel: cancel,
		budget: NewBudget(c.maxAttempts),
		dedupe: NewDeduper(),
	}
	c.session = s
	c.logger.Info("session started", "session", s.token, "interval", c.interval, "max_attempts", c.maxAttempts)

	c.wg.Add(1)
	go c.run(s)
}

// Stop ends the running session, if any. A fetch in flight is cancelled
// and its result discarded.
func (c *Controller[S]) Stop() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	ev := c.endLocked(StopRequested)
	c.mu.Unlock()
	c.stopped(ev)
}

// Close stops the controller for good and waits for its session
// goroutine to exit. Later calls to Start are ignored.
func (c *Controller[S]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
	c.wg.Wait()
}

// Status returns a snapshot of the controller's state. When idle,
// Attempts is the count the last session ended with.
func (c *Controller[S]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Active:              c.session != nil,
		Attempts:            c.lastAttempts,
		MaxAttempts:         c.maxAttempts,
		ConsecutiveFailures: c.health.failures,
		TotalFailures:       c.health.totalFail,
		LastError:           c.health.lastErr,
		LastTick:            c.health.lastTick,
		LastStop:            c.lastStop,
	}
	if c.session != nil {
		st.Session = c.session.token
		st.Attempts = c.session.budget.Used()
	}
	return st
}

func (c *Controller[S]) run(s *session[S]) {
	defer c.wg.Done()
	for {
		if s.ctx.Err() != nil {
			c.canceled(s)
			return
		}
		timer := c.clock.NewTimer(c.interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			c.canceled(s)
			return
		case <-timer.Chan():
		}

		curr, err := c.fetch(s.ctx)
		if done := c.apply(s, curr, err); done {
			return
		}
	}
}

func (c *Controller[S]) fetch(ctx context.Context) (curr S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panic: %v", r)
		}
	}()
	return c.fetcher.Fetch(ctx)
}

// apply folds one tick's result into the session. It reports whether the
// session goroutine should exit.
func (c *Controller[S]) apply(s *session[S], curr S, err error) bool {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		c.logger.Debug("discarding stale tick", "session", s.token)
		return true
	}
	now := c.clock.Now()
	log := c.logger.With("session", s.token, "attempt", s.budget.Used()+1)

	settled := false
	if err != nil {
		c.health.recordFailure(now, err)
		log.Warn("fetch failed", "error", err, "consecutive_failures", c.health.failures)
	} else {
		c.health.recordSuccess(now)
		for _, ev := range c.classify(s.prev, curr) {
			if !s.dedupe.ShouldNotify(ev) {
				continue
			}
			c.sink.Notify(notify.Notification{
				ItemID:  ev.ItemID,
				Kind:    notify.FromTransition(ev.Kind),
				Label:   ev.Label,
				Session: s.token,
				At:      now,
			})
		}
		s.prev = &curr
		settled = c.settled(curr)
	}
	exhausted := s.budget.Spend()
	log.Debug("tick", "ok", err == nil, "settled", settled, "remaining", s.budget.Remaining())

	var ev StopEvent
	switch {
	case settled:
		ev = c.endLocked(StopSettled)
	case exhausted:
		if c.giveUp {
			c.sink.Notify(notify.Notification{
				ItemID:  c.giveUpID,
				Kind:    notify.GaveUp,
				Label:   c.giveUpLabel,
				Session: s.token,
				At:      now,
			})
		}
		ev = c.endLocked(StopBudgetExhausted)
	default:
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.stopped(ev)
	return true
}

func (c *Controller[S]) canceled(s *session[S]) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	ev := c.endLocked(StopCanceled)
	c.mu.Unlock()
	c.stopped(ev)
}

// endLocked tears down the current session. Caller must hold c.mu and
// c.session must be non-nil.
func (c *Controller[S]) endLocked(reason StopReason) StopEvent {
	s := c.session
	s.cancel()
	c.session = nil
	c.lastStop = reason
	c.lastAttempts = s.budget.Used()
	ev := StopEvent{Session: s.token, Reason: reason, Attempts: s.budget.Used()}
	c.logger.Info("session stopped", "session", s.token, "reason", reason, "attempts", ev.Attempts, "notified", s.dedupe.Len())
	return ev
}

func (c *Controller[S]) stopped(ev StopEvent) {
	if c.onStop != nil {
		c.onStop(ev)
	}
}
