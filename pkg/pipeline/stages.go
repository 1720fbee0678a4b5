package pipeline

import (
	"context"
	"fmt"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
)

// enterQueue navigates to the target and waits, without a bound, for the
// queue to let the session through.
func (r *runner) enterQueue(ctx context.Context) error {
	r.act("Navigating to target")
	if err := r.page.Goto(ctx, r.launch.TargetURL); err != nil {
		return r.stageErr(ctx, StageQueue, "Navigation failed", err)
	}
	if r.p.cfg.ConfirmMode {
		if err := r.chooseMode(ctx); err != nil {
			return err
		}
	}
	r.set(session.StatusInQueue, "Waiting in queue")
	if err := r.page.WaitVisible(ctx, r.p.sel.QueueExit, browser.NoTimeout); err != nil {
		return r.stageErr(ctx, StageQueue, "Queue wait failed", err)
	}
	r.set(session.StatusRunning, "Through the queue")
	return nil
}

// chooseMode asks the operator whether to drive this session by hand. Manual
// sessions stay in manual_takeover until an "auto" command hands control back.
func (r *runner) chooseMode(ctx context.Context) error {
	status, prompt := session.StatusAwaitingOrders, "Awaiting orders (auto or manual)"
	for {
		raw, err := r.suspend(ctx, status, prompt)
		if err != nil {
			return err
		}
		mode, err := session.DecodeMode(raw)
		if err != nil {
			r.logger.Warn("rejected mode command", "error", err)
			prompt = "Unrecognised command, send auto or manual"
			continue
		}
		r.sess.SetMode(mode)
		if mode == session.ModeAutomatic {
			r.set(session.StatusRunningAuto, "Running automatically")
			return nil
		}
		status, prompt = session.StatusManualTakeover, "Manual control, send auto to resume"
	}
}

// checkAvailability looks for the select affordance, reloading between
// attempts. Running out of attempts means the event is sold out.
func (r *runner) checkAvailability(ctx context.Context) error {
	at := r.attempts(StageAvailability, r.p.cfg.MaxRetries)
	for {
		ok, err := at.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		r.act(fmt.Sprintf("Checking availability (%d/%d)", at.n, at.max))
		winner, err := firstVisible(ctx, r.page, r.p.cfg.AvailabilityTimeout, r.p.sel.Select, r.p.sel.SoldOut)
		if err != nil && !browser.IsTimeout(err) {
			return r.stageErr(ctx, StageAvailability, "Availability check failed", err)
		}
		if err == nil && winner == r.p.sel.Select {
			if err := r.page.Click(ctx, r.p.sel.Select); err != nil {
				return r.stageErr(ctx, StageAvailability, "Could not select tickets", err)
			}
			return nil
		}
		if _, err := at.fail(ctx, "select not available"); err != nil {
			return err
		}
	}
	return &SoldOutError{Stage: StageAvailability, Attempts: at.max, Max: at.max}
}

// forkScreen handles the optional access-code screen that may stand between
// selection and the quantity picker.
func (r *runner) forkScreen(ctx context.Context) error {
	at := r.attempts(StageCodeGate, r.p.cfg.MaxRetries)
	for {
		ok, err := at.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		r.act("Waiting for ticket screen")
		winner, err := firstVisible(ctx, r.page, r.p.cfg.ScreenTimeout, r.p.sel.Quantity, r.p.sel.CodePrompt)
		if err != nil {
			if browser.IsTimeout(err) {
				redo, ferr := at.fail(ctx, "ticket screen missing")
				if ferr != nil {
					return ferr
				}
				if redo {
					continue
				}
			}
			return r.stageErr(ctx, StageCodeGate, "Unexpected screen", err)
		}
		if winner == r.p.sel.Quantity {
			return nil
		}

		soldOut, err := r.page.IsVisible(ctx, r.p.sel.SoldOut)
		if err != nil {
			return r.stageErr(ctx, StageCodeGate, "Code screen check failed", err)
		}
		if soldOut {
			if _, err := at.fail(ctx, "code prompt sold out"); err != nil {
				return err
			}
			continue
		}
		if r.p.cfg.UnlockCode == "" {
			return r.stageErr(ctx, StageCodeGate, "Access code required", nil)
		}
		r.act("Submitting access code")
		if err := r.page.Fill(ctx, r.p.sel.CodeInput, r.p.cfg.UnlockCode); err != nil {
			return r.stageErr(ctx, StageCodeGate, "Access code entry failed", err)
		}
		if err := r.page.Click(ctx, r.p.sel.CodeSubmit); err != nil {
			return r.stageErr(ctx, StageCodeGate, "Access code entry failed", err)
		}
		return nil
	}
	return &SoldOutError{Stage: StageCodeGate, Attempts: at.max, Max: at.max}
}

// acquireCart adds tickets to the cart. A sold-out signal on any attempt
// turns an exhausted loop into sold_out rather than a failure.
func (r *runner) acquireCart(ctx context.Context) error {
	sel := r.p.sel
	at := r.attempts(StageCart, r.p.cfg.MaxCartAttempts)
	soldOutHit := false
	for {
		ok, err := at.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		r.act(fmt.Sprintf("Adding to cart (%d/%d)", at.n, at.max))

		winner, err := firstVisible(ctx, r.page, r.p.cfg.CartRaceTimeout, sel.Quantity, sel.SoldOut)
		switch {
		case browser.IsTimeout(err):
			if _, err := at.fail(ctx, "quantity selector missing"); err != nil {
				return err
			}
			continue
		case err != nil:
			return r.stageErr(ctx, StageCart, "Cart failed", err)
		case winner == sel.SoldOut:
			redo, err := at.fail(ctx, "sold out")
			if err != nil {
				return err
			}
			soldOutHit = soldOutHit || !redo
			continue
		}

		if err := r.page.Select(ctx, sel.Quantity, r.p.cfg.Quantity); err != nil {
			return r.stageErr(ctx, StageCart, "Quantity selection failed", err)
		}
		if err := r.page.Click(ctx, sel.AddToCart); err != nil {
			return r.stageErr(ctx, StageCart, "Add to cart failed", err)
		}

		winner, err = firstVisible(ctx, r.page, r.p.cfg.CartRaceTimeout,
			sel.CartSuccess, sel.CheckoutReady, sel.CartFailure, sel.SoldOut)
		reason := ""
		switch {
		case browser.IsTimeout(err):
			reason = "no cart response"
		case err != nil:
			return r.stageErr(ctx, StageCart, "Cart failed", err)
		case winner == sel.CartSuccess, winner == sel.CheckoutReady:
			r.act("Tickets in cart")
			return nil
		case winner == sel.SoldOut:
			reason = "sold out"
		default:
			reason = "cart rejected"
		}
		redo, err := at.fail(ctx, reason)
		if err != nil {
			return err
		}
		if reason == "sold out" && !redo {
			soldOutHit = true
		}
	}
	if soldOutHit {
		return &SoldOutError{Stage: StageCart, Attempts: at.max, Max: at.max}
	}
	return r.stageErr(ctx, StageCart, fmt.Sprintf("Cart failed (%d/%d)", at.max, at.max), nil)
}

// awaitCompletion waits for the order confirmation. Not seeing it is not a
// failure: the order was submitted.
func (r *runner) awaitCompletion(ctx context.Context) error {
	r.act("Waiting for confirmation")
	err := r.page.WaitVisible(ctx, r.p.sel.Confirmation, r.p.cfg.CompletionTimeout)
	switch {
	case err == nil:
		r.set(session.StatusComplete, "Order confirmed")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case browser.IsTimeout(err):
		r.set(session.StatusFinished, "Order submitted, confirmation not seen")
		return nil
	default:
		return r.stageErr(ctx, StageCompletion, "Confirmation check failed", err)
	}
}

// retry logs the retry, waits the fixed delay and reloads. A reload never
// starts while a challenge is being solved.
func (r *runner) retry(ctx context.Context, stage string, attempt, maxAttempts int, reason string) error {
	stageRetries.WithLabelValues(stage).Inc()
	r.logger.StageRetry(stage, attempt, maxAttempts, reason)
	r.act(fmt.Sprintf("Retrying %s (%d/%d)", stage, attempt, maxAttempts))
	if err := sleep(ctx, r.p.cfg.RetryDelay); err != nil {
		return err
	}
	if err := r.challenge.wait(ctx, false, 0); err != nil {
		return err
	}
	if err := r.page.Reload(ctx); err != nil {
		return r.stageErr(ctx, stage, "Reload failed", err)
	}
	return nil
}

// stageErr returns ctx's error when the session is being cancelled so the
// outcome is reported as a stop, not as a stage failure.
func (r *runner) stageErr(ctx context.Context, stage, label string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return newStageError(stage, label, err)
}
