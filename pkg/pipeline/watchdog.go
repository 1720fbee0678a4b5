package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

var errNoSolver = errors.New("no captcha solver configured")

// watchdog polls for a challenge widget for as long as ctx lives. Any error
// ends it quietly; the session's status is never touched from here.
func (r *runner) watchdog(ctx context.Context) {
	defer r.challenge.setWatching(false)
	widget := r.p.sel.CaptchaWidget
	if widget == "" {
		return
	}
	ticker := time.NewTicker(r.p.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		visible, err := r.page.IsVisible(ctx, widget)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Debug("captcha watchdog stopped", "error", err)
			}
			return
		}
		if !visible {
			continue
		}
		if r.p.solver == nil {
			r.logger.Debug("captcha watchdog stopped", "error", errNoSolver)
			return
		}
		if !r.challenge.begin() {
			continue
		}
		err = r.solveChallenge(ctx)
		r.challenge.end()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Debug("captcha watchdog stopped", "error", err)
			}
			return
		}
	}
}

// solveChallenge solves and injects the challenge the widget is showing.
func (r *runner) solveChallenge(ctx context.Context) error {
	sel := r.p.sel
	siteKey, err := r.page.Attribute(ctx, sel.CaptchaWidget, sel.CaptchaSiteKeyAttr)
	if err != nil {
		return err
	}

	r.logger.Info("captcha detected", "url", r.page.URL())
	token, err := r.p.solver.Solve(ctx, r.page.URL(), siteKey)
	if err != nil {
		captchaSolves.WithLabelValues("failed").Inc()
		r.publish(telemetry.EventCaptchaFailed, map[string]any{"error": err.Error()})
		return err
	}
	if _, err := r.page.Evaluate(ctx, sel.CaptchaInject, token); err != nil {
		captchaSolves.WithLabelValues("inject_failed").Inc()
		return err
	}
	captchaSolves.WithLabelValues("solved").Inc()
	r.publish(telemetry.EventCaptchaSolved, nil)
	return sleep(ctx, r.p.cfg.CaptchaSettle)
}

func (r *runner) publish(typ telemetry.EventType, data map[string]any) {
	rec := r.sess.Snapshot()
	r.p.events.Publish(telemetry.Event{
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     r.launch.RunID,
		SessionID: rec.ID,
		Status:    rec.Status.String(),
		Data:      data,
	})
}
