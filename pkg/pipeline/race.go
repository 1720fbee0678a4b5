package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
)

// firstVisible waits for whichever selector becomes visible first and returns
// it. Empty selectors are ignored. When timeout expires first the error is a
// browser timeout; when ctx ends first it is ctx's error.
func firstVisible(ctx context.Context, page browser.Page, timeout time.Duration, selectors ...string) (string, error) {
	candidates := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if strings.TrimSpace(sel) != "" {
			candidates = append(candidates, sel)
		}
	}
	if len(candidates) == 0 {
		return "", browser.NewDriverError(browser.CodeScript, "race", "no selectors to wait for")
	}

	var (
		raceCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		raceCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		raceCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		sel string
		err error
	}
	results := make(chan result, len(candidates))
	for _, sel := range candidates {
		go func(sel string) {
			results <- result{sel: sel, err: page.WaitVisible(raceCtx, sel, browser.NoTimeout)}
		}(sel)
	}

	for range candidates {
		r := <-results
		if r.err == nil {
			return r.sel, nil
		}
		if raceCtx.Err() == nil {
			// A waiter failed for a reason other than the race ending.
			return "", r.err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", browser.WrapDriverError(browser.CodeTimeout, "race", strings.Join(candidates, " | "), browser.ErrOperationTimeout)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
