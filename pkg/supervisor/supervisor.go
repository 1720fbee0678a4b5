// Package supervisor owns the current run: it creates session records and
// gates, starts one pipeline per session and cancels them on request.
package supervisor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/pipeline"
	"github.com/chrisalpuerto/parallel-sessions/pkg/proxy"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

const (
	// DefaultSessionCount is used when a start request does not name a count.
	DefaultSessionCount = 5
	// DefaultMaxSessions caps a start request's count when Defaults leaves it unset.
	DefaultMaxSessions = 50
)

// Broadcaster receives the full snapshot of the current run after every change.
type Broadcaster interface {
	Publish(snapshot session.Snapshot)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(snapshot session.Snapshot)

// Publish implements Broadcaster.
func (f BroadcasterFunc) Publish(snapshot session.Snapshot) { f(snapshot) }

// Defaults fill in what a StartRequest leaves out.
type Defaults struct {
	TargetURL string
	Sessions  int
	// MaxSessions is the largest count a start request may ask for.
	MaxSessions int
	// HeadedFirst shows session 1's browser window; every other session is headless.
	HeadedFirst   bool
	EmailTemplate string
	// LaunchConcurrency bounds how many sessions run at once; 0 is unbounded.
	LaunchConcurrency int
	SlowMo            time.Duration
	LaunchTimeout     time.Duration
}

// Options wires a Supervisor.
type Options struct {
	// Pipeline configures the pipeline the supervisor builds. Its Notifier is
	// replaced by the supervisor.
	Pipeline    pipeline.Options
	Proxies     *proxy.Pool
	Broadcaster Broadcaster
	Events      *telemetry.Hub
	Logger      *logging.Logger
	Defaults    Defaults
}

// StartRequest asks for a new run.
type StartRequest struct {
	TargetURL  string `json:"target_url"`
	UseProxies bool   `json:"use_proxies"`
	Count      int    `json:"sessions"`
}

// RunInfo describes a started run.
type RunInfo struct {
	ID        string    `json:"run_id"`
	TargetURL string    `json:"target_url"`
	Count     int       `json:"sessions"`
	StartedAt time.Time `json:"started_at"`
}

// Supervisor tracks the current run. Starting a run detaches the previous
// one without stopping it.
type Supervisor struct {
	pipe        *pipeline.Pipeline
	proxies     *proxy.Pool
	broadcaster Broadcaster
	events      *telemetry.Hub
	logger      *logging.Logger
	defaults    Defaults

	base       context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	current  *Run
	detached []*Run
	closed   bool

	// publishMu keeps snapshots reaching the broadcaster in the order they were taken.
	publishMu sync.Mutex
}

// Run is the aggregate for one start request.
type Run struct {
	info     RunInfo
	sessions map[int]*tracked
	done     chan struct{}
}

type tracked struct {
	sess   *session.Session
	gate   *session.Gate
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *tracked) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Info returns the run's identity.
func (r *Run) Info() RunInfo { return r.info }

// Done is closed once every session of the run has ended.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) snapshot() session.Snapshot {
	snap := make(session.Snapshot, len(r.sessions))
	for id, t := range r.sessions {
		snap[id] = t.sess.Snapshot()
	}
	return snap
}

// New builds a Supervisor and the pipeline it drives.
func New(opts Options) (*Supervisor, error) {
	s := &Supervisor{
		proxies:     opts.Proxies,
		broadcaster: opts.Broadcaster,
		events:      opts.Events,
		logger:      logging.OrDiscard(opts.Logger).Component("supervisor"),
		defaults:    opts.Defaults,
	}
	if s.broadcaster == nil {
		s.broadcaster = BroadcasterFunc(func(session.Snapshot) {})
	}
	if s.defaults.Sessions <= 0 {
		s.defaults.Sessions = DefaultSessionCount
	}
	if s.defaults.MaxSessions <= 0 {
		s.defaults.MaxSessions = max(DefaultMaxSessions, s.defaults.Sessions)
	}

	pipeOpts := opts.Pipeline
	pipeOpts.Notifier = pipeline.NotifierFunc(s.sessionChanged)
	if pipeOpts.Events == nil {
		pipeOpts.Events = opts.Events
	}
	if pipeOpts.Logger == nil {
		pipeOpts.Logger = opts.Logger
	}
	pipe, err := pipeline.New(pipeOpts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid pipeline configuration")
	}
	s.pipe = pipe
	s.base, s.cancelBase = context.WithCancel(context.Background())
	return s, nil
}

// StartRun creates a fresh run and launches its sessions. It returns once
// every session has been scheduled; sessions keep running after ctx ends.
func (s *Supervisor) StartRun(ctx context.Context, req StartRequest) (*RunInfo, error) {
	_, span := telemetry.StartSpan(ctx, "supervisor.start_run")
	info, err := s.startRun(req)
	telemetry.EndSpan(span, err)
	return info, err
}

func (s *Supervisor) startRun(req StartRequest) (*RunInfo, error) {
	targetURL := strings.TrimSpace(req.TargetURL)
	if targetURL == "" {
		targetURL = s.defaults.TargetURL
	}
	if targetURL == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "target_url is required").
			WithRemediation("Pass target_url in the request or set TARGET_SITE_URL.")
	}
	if err := pipeline.ValidateTargetURL(targetURL); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, err.Error())
	}
	count := req.Count
	if count == 0 {
		count = s.defaults.Sessions
	}
	if count < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "sessions must be positive, got %d", count)
	}
	if count > s.defaults.MaxSessions {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "sessions must be at most %d, got %d", s.defaults.MaxSessions, count).
			WithRemediation("Raise run.max_sessions in the config to allow larger runs.")
	}

	var proxies []browser.Proxy
	if req.UseProxies {
		if s.proxies == nil {
			return nil, apperrors.New(apperrors.ErrCodeProxyPoolExhausted, "proxies requested but no proxy pool is configured").
				WithRemediation("Set proxy.file in the config or PARALLEL_SESSIONS_PROXY_FILE.")
		}
		sampled, err := s.proxies.Sample(count)
		if err != nil {
			return nil, err
		}
		proxies = sampled
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInternal, "supervisor is closed")
	}

	run := &Run{
		info: RunInfo{
			ID:        uuid.NewString(),
			TargetURL: targetURL,
			Count:     count,
			StartedAt: time.Now(),
		},
		sessions: make(map[int]*tracked, count),
		done:     make(chan struct{}),
	}
	jobs := make([]job, 0, count)
	for id := 1; id <= count; id++ {
		launch := pipeline.Launch{
			RunID:         run.info.ID,
			TargetURL:     targetURL,
			Headless:      !(id == 1 && s.defaults.HeadedFirst),
			SlowMo:        s.defaults.SlowMo,
			LaunchTimeout: s.defaults.LaunchTimeout,
		}
		egress := ""
		if proxies != nil {
			px := proxies[id-1]
			launch.Proxy = &px
			egress = proxy.Identity(&px)
		}
		sess := session.New(id, egress, session.EmailFor(s.defaults.EmailTemplate, id))
		sess.SetStatus(session.StatusStarting, "Queued")

		sessCtx, cancel := context.WithCancel(s.base)
		t := &tracked{
			sess:   sess,
			gate:   session.NewGate(),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		run.sessions[id] = t
		jobs = append(jobs, job{ctx: sessCtx, t: t, launch: launch})
	}

	if s.current != nil {
		s.detached = append(s.detached, s.current)
	}
	s.pruneDetachedLocked()
	s.current = run
	s.mu.Unlock()

	s.publish(run)
	go s.schedule(run, jobs)

	runsStarted.Inc()
	s.logger.WithRun(run.info.ID).Info("run started", "sessions", count, "target_url", targetURL, "proxies", req.UseProxies)
	s.events.Publish(telemetry.Event{
		Type:      telemetry.EventRunStarted,
		Timestamp: run.info.StartedAt,
		RunID:     run.info.ID,
		Data:      map[string]any{"sessions": count, "target_url": targetURL},
	})

	info := run.info
	return &info, nil
}

type job struct {
	ctx    context.Context
	t      *tracked
	launch pipeline.Launch
}

// schedule runs every job of a run, at most LaunchConcurrency at a time, and
// closes the run's done channel when all have ended.
func (s *Supervisor) schedule(run *Run, jobs []job) {
	var g errgroup.Group
	if s.defaults.LaunchConcurrency > 0 {
		g.SetLimit(s.defaults.LaunchConcurrency)
	}
	for _, j := range jobs {
		g.Go(func() error {
			defer close(j.t.done)
			defer j.t.cancel()
			sessionsInFlight.Inc()
			defer sessionsInFlight.Dec()
			s.pipe.Run(j.ctx, j.t.sess, j.t.gate, j.launch)
			return nil
		})
	}
	_ = g.Wait()
	close(run.done)
	s.logger.WithRun(run.info.ID).Info("run ended")
}

// StopRun cancels every session of the current run that has not ended and
// returns how many were cancelled. Sessions of detached runs are left alone.
func (s *Supervisor) StopRun() int {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return 0
	}

	killed := 0
	for _, t := range run.sessions {
		if t.finished() {
			continue
		}
		t.cancel()
		killed++
	}
	s.logger.WithRun(run.info.ID).Info("run stopped", "killed", killed)
	s.events.Publish(telemetry.Event{
		Type:      telemetry.EventRunStopped,
		Timestamp: time.Now(),
		RunID:     run.info.ID,
		Data:      map[string]any{"killed_count": killed},
	})
	return killed
}

// Current returns the current run, or nil before the first StartRun.
func (s *Supervisor) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sessions returns the current run's records ordered by id.
func (s *Supervisor) Sessions() []session.Record {
	return s.Snapshot().Sorted()
}

// Snapshot returns the current run's records keyed by id. It is empty before
// the first run.
func (s *Supervisor) Snapshot() session.Snapshot {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return session.Snapshot{}
	}
	return run.snapshot()
}

// Close cancels every session, including those of detached runs, and waits
// for them to release their browsers.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	runs := append([]*Run(nil), s.detached...)
	if s.current != nil {
		runs = append(runs, s.current)
	}
	s.mu.Unlock()

	s.cancelBase()
	for _, run := range runs {
		<-run.done
	}
	return nil
}

// sessionChanged receives every record change from the pipeline. Changes from
// detached runs are not broadcast; observers only see the current run.
func (s *Supervisor) sessionChanged(runID string, rec session.Record) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	s.events.Publish(telemetry.Event{
		Type:      telemetry.EventSessionStatus,
		Timestamp: time.Now(),
		RunID:     runID,
		SessionID: rec.ID,
		Status:    rec.Status.String(),
		Action:    rec.Action,
	})
	if run == nil || run.info.ID != runID {
		return
	}
	s.publish(run)
}

func (s *Supervisor) publish(run *Run) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.broadcaster.Publish(run.snapshot())
}

func (s *Supervisor) pruneDetachedLocked() {
	kept := s.detached[:0]
	for _, run := range s.detached {
		select {
		case <-run.done:
		default:
			kept = append(kept, run)
		}
	}
	s.detached = kept
}
