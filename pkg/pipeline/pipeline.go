// Package pipeline drives one session through the checkout stages, suspending
// on the session's gate wherever operator input is needed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	"github.com/chrisalpuerto/parallel-sessions/pkg/captcha"
	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

// Notifier is told about every record change a pipeline makes, tagged with
// the run the session belongs to.
type Notifier interface {
	SessionChanged(runID string, rec session.Record)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(runID string, rec session.Record)

// SessionChanged implements Notifier.
func (f NotifierFunc) SessionChanged(runID string, rec session.Record) { f(runID, rec) }

// Options wires a Pipeline to its collaborators.
type Options struct {
	Config    Config
	Selectors Selectors
	Browsers  *browser.Manager
	// Solver is optional; without one the watchdog stops at the first challenge.
	Solver   captcha.Solver
	Notifier Notifier
	Events   *telemetry.Hub
	Logger   *logging.Logger
}

// Launch describes how one session's browser is started.
type Launch struct {
	RunID     string
	TargetURL string
	Headless  bool
	SlowMo    time.Duration

	// LaunchTimeout bounds the browser start; zero leaves it to the driver.
	LaunchTimeout time.Duration
	Proxy         *browser.Proxy
}

// Pipeline runs sessions. It is safe for concurrent use; each Run call owns
// its session exclusively.
type Pipeline struct {
	cfg      Config
	sel      Selectors
	browsers *browser.Manager
	solver   captcha.Solver
	notifier Notifier
	events   *telemetry.Hub
	logger   *logging.Logger
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sel := opts.Selectors.WithDefaults()
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if opts.Browsers == nil {
		return nil, browser.ErrUnavailable
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string, session.Record) {})
	}
	return &Pipeline{
		cfg:      cfg,
		sel:      sel,
		browsers: opts.Browsers,
		solver:   opts.Solver,
		notifier: notifier,
		events:   opts.Events,
		logger:   logging.OrDiscard(opts.Logger).Component("pipeline"),
	}, nil
}

// Config returns the effective stage bounds.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run drives sess to a terminal status and returns it. It never returns
// before the session's browser has been released. Cancelling ctx ends the
// session as failed with action "Stopped".
func (p *Pipeline) Run(ctx context.Context, sess *session.Session, gate *session.Gate, launch Launch) session.Status {
	r := &runner{
		p:      p,
		sess:   sess,
		gate:   gate,
		launch:    launch,
		logger:    p.logger.WithRun(launch.RunID).WithSession(sess.ID()),
		challenge: newChallengeGuard(),
	}
	err := r.runGuarded(ctx)
	return r.finish(ctx, err)
}

// runner holds the state of one Run call.
type runner struct {
	p      *Pipeline
	sess   *session.Session
	gate   *session.Gate
	launch Launch
	logger *logging.Logger

	page      browser.Page
	challenge *challengeGuard
}

func (r *runner) runGuarded(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) error {
	r.set(session.StatusRunning, "Launching browser")

	key := fmt.Sprintf("%s/%d", r.launch.RunID, r.sess.ID())
	bs, err := r.p.browsers.Open(ctx,
		key,
		browser.LaunchOptions{Headless: r.launch.Headless, SlowMo: r.launch.SlowMo, Timeout: r.launch.LaunchTimeout},
		browser.ContextOptions{Proxy: r.launch.Proxy},
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newStageError(StageLaunch, "Browser launch failed", err)
	}
	defer func() {
		if cerr := bs.Close(); cerr != nil {
			r.logger.Warn("browser cleanup failed", "error", cerr)
		}
	}()
	r.page = &lockedPage{Page: bs.Page}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	r.challenge.setWatching(r.p.sel.CaptchaWidget != "")
	go func() {
		defer close(watchDone)
		r.watchdog(watchCtx)
	}()
	defer func() {
		stopWatch()
		<-watchDone
	}()

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageQueue, r.enterQueue},
		{StageAvailability, r.checkAvailability},
		{StageCodeGate, r.forkScreen},
		{StageCart, r.acquireCart},
		{StageCheckout, r.checkout},
		{StageCompletion, r.awaitCompletion},
	}
	for _, st := range stages {
		if err := r.stage(ctx, st.name, st.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "stage "+name,
		telemetry.AttrRunID.String(r.launch.RunID),
		telemetry.AttrSessionID.Int(r.sess.ID()),
		telemetry.AttrStage.String(name),
	)
	start := time.Now()
	r.logger.WithContext(ctx).StageStarted(name)
	err := fn(ctx)
	recordStage(name, start, err)
	telemetry.EndSpan(span, err)
	return err
}

func (r *runner) finish(ctx context.Context, err error) session.Status {
	var (
		soldOut  *SoldOutError
		stageErr *StageError
	)
	switch {
	case err == nil:
	case errors.As(err, &soldOut):
		r.set(session.StatusSoldOut, soldOut.Label())
		err = nil
	case ctx.Err() != nil:
		r.set(session.StatusFailed, "Stopped")
		r.logger.Info("session stopped", "reason", ctx.Err().Error())
		err = nil
	case errors.As(err, &stageErr):
		r.set(session.StatusFailed, stageErr.Label)
	default:
		r.set(session.StatusFailed, "Unexpected error")
	}

	rec := r.sess.Snapshot()
	if !rec.Status.IsTerminal() {
		// A stage returned without recording an outcome.
		r.set(session.StatusFailed, "Ended without outcome")
		rec = r.sess.Snapshot()
	}
	sessionsEnded.WithLabelValues(rec.Status.String()).Inc()
	r.logger.SessionTerminal(rec.Status.String(), rec.Action, err)
	r.p.events.Publish(telemetry.Event{
		Type:      telemetry.EventSessionTerminal,
		Timestamp: time.Now(),
		RunID:     r.launch.RunID,
		SessionID: rec.ID,
		Status:    rec.Status.String(),
		Action:    rec.Action,
	})
	return rec.Status
}

// set publishes a status change. Writes after a terminal status are dropped.
func (r *runner) set(status session.Status, action string) {
	if r.sess.SetStatus(status, action) {
		r.p.notifier.SessionChanged(r.launch.RunID, r.sess.Snapshot())
	}
}

// act publishes a new action label under the current status.
func (r *runner) act(action string) {
	if r.sess.SetAction(action) {
		r.p.notifier.SessionChanged(r.launch.RunID, r.sess.Snapshot())
	}
}

// suspend runs one gate cycle: clear, publish, wait.
func (r *runner) suspend(ctx context.Context, status session.Status, action string) (json.RawMessage, error) {
	r.gate.Clear()
	r.set(status, action)
	start := time.Now()
	payload, err := r.gate.Wait(ctx)
	gateWait.WithLabelValues(status.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	r.logger.Debug("gate resumed", "status", status.String(), "payload_size", len(payload))
	return payload, nil
}

// suspendFor repeats a gate cycle until the payload decodes into T.
func suspendFor[T any](ctx context.Context, r *runner, status session.Status, action string) (T, error) {
	prompt := action
	for {
		raw, err := r.suspend(ctx, status, prompt)
		if err != nil {
			var zero T
			return zero, err
		}
		v, err := session.Decode[T](raw)
		if err == nil {
			return v, nil
		}
		r.logger.Warn("rejected command payload", "status", status.String(), "error", err)
		prompt = action + " (invalid input, resend)"
	}
}

// lockedPage serializes page mutations between the stage flow and the
// watchdog. Waits and reads are not serialized so a long wait never blocks an
// injection.
type lockedPage struct {
	browser.Page
	mu sync.Mutex
}

func (p *lockedPage) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Goto(ctx, url)
}

func (p *lockedPage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Reload(ctx)
}

func (p *lockedPage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Click(ctx, selector)
}

func (p *lockedPage) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Fill(ctx, selector, value)
}

func (p *lockedPage) Select(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Select(ctx, selector, value)
}

func (p *lockedPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Page.Evaluate(ctx, script, arg)
}
