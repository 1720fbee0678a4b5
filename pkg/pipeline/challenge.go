package pipeline

import (
	"context"
	"sync"
)

// challengeGuard tracks the watchdog's solves so the stage flow can hold off
// while a challenge is being handled. Every state change closes changed.
type challengeGuard struct {
	mu       sync.Mutex
	watching bool
	solving  bool
	solves   uint64
	changed  chan struct{}
}

func newChallengeGuard() *challengeGuard {
	return &challengeGuard{changed: make(chan struct{})}
}

func (g *challengeGuard) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *challengeGuard) setWatching(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watching = on
	g.notifyLocked()
}

// begin claims the solve slot. It reports false when a solve is already running.
func (g *challengeGuard) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.solving {
		return false
	}
	g.solving = true
	g.solves++
	g.notifyLocked()
	return true
}

func (g *challengeGuard) end() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.solving = false
	g.notifyLocked()
}

func (g *challengeGuard) mark() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.solves
}

// overlapped reports whether a solve began after mark or is still running.
func (g *challengeGuard) overlapped(mark uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.solving || g.solves != mark
}

// wait blocks until no solve is running. With pending set it also waits,
// for as long as the watchdog lives, for a solve begun after mark to end.
func (g *challengeGuard) wait(ctx context.Context, pending bool, mark uint64) error {
	for {
		g.mu.Lock()
		done := !g.solving && (!pending || !g.watching || g.solves != mark)
		changed := g.changed
		g.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// attempts counts the attempts of a retried stage. An attempt that failed
// while a challenge was showing or being solved is repeated without a
// reload and is not counted, up to max times per stage.
type attempts struct {
	r      *runner
	stage  string
	max    int
	n      int
	redos  int
	redo   bool
	mark   uint64
	reason string
}

func (r *runner) attempts(stage string, max int) *attempts {
	return &attempts{r: r, stage: stage, max: max}
}

// next prepares the next attempt. It reloads after a counted failure and
// waits out any solve in flight. It reports false once every attempt is used.
func (a *attempts) next(ctx context.Context) (bool, error) {
	switch {
	case a.redo:
		a.redo = false
	case a.n >= a.max:
		return false, nil
	default:
		if a.n > 0 {
			if err := a.r.retry(ctx, a.stage, a.n+1, a.max, a.reason); err != nil {
				return false, err
			}
		}
		a.n++
	}
	if err := a.r.challenge.wait(ctx, false, 0); err != nil {
		return false, err
	}
	a.mark = a.r.challenge.mark()
	return true, nil
}

// fail records a failed attempt and reports whether it will be repeated
// instead of counted.
func (a *attempts) fail(ctx context.Context, reason string) (bool, error) {
	a.reason = reason
	if a.redos >= a.max {
		return false, nil
	}
	pending := false
	if widget := a.r.p.sel.CaptchaWidget; widget != "" {
		visible, err := a.r.page.IsVisible(ctx, widget)
		if err != nil {
			return false, a.r.stageErr(ctx, a.stage, "Challenge check failed", err)
		}
		pending = visible
	}
	if !pending && !a.r.challenge.overlapped(a.mark) {
		return false, nil
	}
	if err := a.r.challenge.wait(ctx, pending, a.mark); err != nil {
		return false, err
	}
	// A stopped watchdog leaves the challenge unsolved; the attempt counts.
	if !a.r.challenge.overlapped(a.mark) {
		return false, nil
	}
	a.r.logger.Debug("attempt overlapped a challenge, repeating", "stage", a.stage, "attempt", a.n)
	a.redos++
	a.redo = true
	return true, nil
}
