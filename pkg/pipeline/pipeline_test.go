package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	"github.com/chrisalpuerto/parallel-sessions/pkg/browser/adapters/sim"
	"github.com/chrisalpuerto/parallel-sessions/pkg/captcha/mocks"
	"github.com/chrisalpuerto/parallel-sessions/pkg/session"
)

const waitFor = 3 * time.Second

func testConfig() Config {
	return Config{
		RetryDelay:          time.Millisecond,
		AvailabilityTimeout: 200 * time.Millisecond,
		ScreenTimeout:       300 * time.Millisecond,
		CartRaceTimeout:     200 * time.Millisecond,
		CheckoutStepTimeout: 300 * time.Millisecond,
		CompletionTimeout:   200 * time.Millisecond,
		WatchdogInterval:    10 * time.Millisecond,
		CaptchaSettle:       time.Millisecond,
	}
}

type harness struct {
	t      *testing.T
	driver *sim.Driver
	pipe   *Pipeline

	mu      sync.Mutex
	changes []session.Record
}

func newHarness(t *testing.T, site SiteOptions, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t}
	h.driver = sim.New(SimulatedSite(DefaultSelectors(), site))
	manager := browser.NewManager(h.driver)
	t.Cleanup(func() { _ = manager.Close() })

	opts := Options{
		Config:   testConfig(),
		Browsers: manager,
		Notifier: NotifierFunc(func(_ string, rec session.Record) {
			h.mu.Lock()
			h.changes = append(h.changes, rec)
			h.mu.Unlock()
		}),
	}
	if configure != nil {
		configure(&opts)
	}
	pipe, err := New(opts)
	require.NoError(t, err)
	h.pipe = pipe
	return h
}

type running struct {
	sess   *session.Session
	gate   *session.Gate
	cancel context.CancelFunc
	done   chan session.Status
}

func (h *harness) start(id int) *running {
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)
	r := &running{
		sess:   session.New(id, "", session.EmailFor("", id)),
		gate:   session.NewGate(),
		cancel: cancel,
		done:   make(chan session.Status, 1),
	}
	go func() {
		r.done <- h.pipe.Run(ctx, r.sess, r.gate, Launch{RunID: "run-test", TargetURL: "https://tickets.example.com/event/1", Headless: true})
	}()
	return r
}

func (h *harness) run(id int) (*running, session.Status) {
	r := h.start(id)
	return r, r.wait(h.t)
}

func (r *running) wait(t *testing.T) session.Status {
	t.Helper()
	select {
	case status := <-r.done:
		return status
	case <-time.After(waitFor):
		t.Fatalf("session %d did not finish; status %s, action %q", r.sess.ID(), r.sess.Status(), r.sess.Snapshot().Action)
		return ""
	}
}

func (r *running) awaitSuspended(t *testing.T, status session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.sess.Status() == status && r.gate.Waiting()
	}, waitFor, 5*time.Millisecond, "waiting for %s, have %s", status, r.sess.Status())
}

func (r *running) send(t *testing.T, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	r.gate.Signal(raw)
}

func (h *harness) actions(id int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, rec := range h.changes {
		if rec.ID == id {
			out = append(out, rec.Action)
		}
	}
	return out
}

func (h *harness) statuses(id int) []session.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []session.Status
	for _, rec := range h.changes {
		if rec.ID == id {
			out = append(out, rec.Status)
		}
	}
	return out
}

func TestRunCompletesWhenConfirmed(t *testing.T) {
	h := newHarness(t, SiteOptions{}, nil)
	r, status := h.run(1)

	assert.Equal(t, session.StatusComplete, status)
	assert.Equal(t, "Order confirmed", r.sess.Snapshot().Action)
	assert.Contains(t, h.statuses(1), session.StatusInQueue)

	pages := h.driver.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, "https://tickets.example.com/event/1", pages[0].URL())
	assert.Equal(t, "2", pages[0].Value(DefaultSelectors().Quantity))
	assert.Equal(t, 1, pages[0].Closes())
	assert.Equal(t, 1, h.driver.ContextCloses())
}

func TestRunFinishesWithoutConfirmation(t *testing.T) {
	h := newHarness(t, SiteOptions{NoConfirmation: true}, nil)
	_, status := h.run(1)
	assert.Equal(t, session.StatusFinished, status)
}

func TestAvailabilityGivesUpAfterExactlyMaxRetries(t *testing.T) {
	h := newHarness(t, SiteOptions{SoldOut: true}, nil)
	r, status := h.run(1)

	require.Equal(t, session.StatusSoldOut, status)
	assert.Equal(t, "Sold out (availability 3/3)", r.sess.Snapshot().Action)

	var checks []string
	for _, a := range h.actions(1) {
		if strings.HasPrefix(a, "Checking availability") {
			checks = append(checks, a)
		}
	}
	assert.Equal(t, []string{
		"Checking availability (1/3)",
		"Checking availability (2/3)",
		"Checking availability (3/3)",
	}, checks)
	assert.Equal(t, 2, h.driver.Pages()[0].Reloads())
}

func TestAvailabilityHonoursConfiguredRetries(t *testing.T) {
	h := newHarness(t, SiteOptions{SoldOut: true}, func(o *Options) { o.Config.MaxRetries = 5 })
	r, status := h.run(1)
	require.Equal(t, session.StatusSoldOut, status)
	assert.Equal(t, "Sold out (availability 5/5)", r.sess.Snapshot().Action)
	assert.Equal(t, 4, h.driver.Pages()[0].Reloads())
}

func TestCodeGate(t *testing.T) {
	t.Run("unlocks with configured code", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CodeGate: true, UnlockCode: "PRESALE"}, func(o *Options) {
			o.Config.UnlockCode = "PRESALE"
		})
		_, status := h.run(1)
		assert.Equal(t, session.StatusComplete, status)
		assert.Equal(t, "PRESALE", h.driver.Pages()[0].Value(DefaultSelectors().CodeInput))
	})

	t.Run("sold out behind prompt", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CodeGate: true, CodeGateSoldOut: true}, func(o *Options) {
			o.Config.UnlockCode = "PRESALE"
		})
		r, status := h.run(1)
		assert.Equal(t, session.StatusSoldOut, status)
		assert.Equal(t, "Sold out (code gate 3/3)", r.sess.Snapshot().Action)
	})

	t.Run("no code configured", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CodeGate: true}, nil)
		r, status := h.run(1)
		assert.Equal(t, session.StatusFailed, status)
		assert.Equal(t, "Access code required", r.sess.Snapshot().Action)
	})
}

func TestCartOutcomes(t *testing.T) {
	t.Run("sold out on every attempt", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CartSoldOut: true}, nil)
		r, status := h.run(1)
		assert.Equal(t, session.StatusSoldOut, status)
		assert.Equal(t, "Sold out (cart 3/3)", r.sess.Snapshot().Action)
		assert.Equal(t, 3, h.driver.Pages()[0].Clicks(DefaultSelectors().AddToCart))
	})

	t.Run("recovers after a rejection", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CartFailures: 2}, nil)
		_, status := h.run(1)
		assert.Equal(t, session.StatusComplete, status)
		assert.Equal(t, 3, h.driver.Pages()[0].Clicks(DefaultSelectors().AddToCart))
	})

	t.Run("rejected every time", func(t *testing.T) {
		h := newHarness(t, SiteOptions{CartFailures: 3}, nil)
		r, status := h.run(1)
		assert.Equal(t, session.StatusFailed, status)
		assert.Equal(t, "Cart failed (3/3)", r.sess.Snapshot().Action)
	})
}

func TestLoginSuspendsUntilSignalled(t *testing.T) {
	h := newHarness(t, SiteOptions{Login: true}, nil)
	r := h.start(1)
	sel := DefaultSelectors()

	r.awaitSuspended(t, session.StatusLoginRequired)
	page := h.driver.Pages()[0]
	assert.Equal(t, 0, page.Clicks(sel.LoginSubmit))

	r.send(t, session.Credentials{Email: "buyer@example.com", Password: "hunter2"})
	assert.Equal(t, session.StatusComplete, r.wait(t))
	assert.Equal(t, 1, page.Clicks(sel.LoginSubmit))
	assert.Equal(t, "buyer@example.com", page.Value(sel.LoginEmail))
	assert.Equal(t, "hunter2", page.Value(sel.LoginPassword))
}

func TestInvalidPayloadSuspendsAgain(t *testing.T) {
	h := newHarness(t, SiteOptions{Login: true}, nil)
	r := h.start(1)

	r.awaitSuspended(t, session.StatusLoginRequired)
	r.send(t, "auto")
	require.Eventually(t, func() bool {
		return strings.Contains(r.sess.Snapshot().Action, "invalid input") && r.gate.Waiting()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, session.StatusLoginRequired, r.sess.Status())

	r.send(t, session.Credentials{Email: "a@example.com", Password: "pw"})
	assert.Equal(t, session.StatusComplete, r.wait(t))
}

func TestCheckoutWalksEverySuspendPoint(t *testing.T) {
	h := newHarness(t, SiteOptions{
		Login: true, Shipping: true, Card: true, Insurance: true, Receipt: true, Consents: true,
	}, nil)
	r := h.start(1)
	sel := DefaultSelectors()

	r.awaitSuspended(t, session.StatusLoginRequired)
	r.send(t, session.Credentials{Email: "a@example.com", Password: "pw"})

	r.awaitSuspended(t, session.StatusShippingRequired)
	r.send(t, session.ShippingAddress{
		FullName: "Ada Lovelace", Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701",
	})

	r.awaitSuspended(t, session.StatusCardRequired)
	r.send(t, session.Card{Name: "Ada Lovelace", Number: "4242424242424242", Expiry: "12/30", CVV: "123"})

	r.awaitSuspended(t, session.StatusReceiptRequired)
	r.send(t, session.Receipt{Email: "receipts@example.com"})

	assert.Equal(t, session.StatusComplete, r.wait(t))

	page := h.driver.Pages()[0]
	assert.Equal(t, "IL", page.Value(sel.ShippingState))
	assert.Equal(t, "4242424242424242", page.Value(sel.CardNumber))
	assert.Equal(t, "receipts@example.com", page.Value(sel.ReceiptEmail))
	assert.Equal(t, 1, page.Clicks(sel.InsuranceDecline))
	assert.Equal(t, 1, page.Clicks(sel.Consent))
	assert.Equal(t, 1, page.Clicks(sel.PlaceOrder))
	assert.Empty(t, page.Value(sel.ShippingAddress2))
}

func TestStoredCardSkipsPaymentSuspend(t *testing.T) {
	h := newHarness(t, SiteOptions{StoredCard: true}, nil)
	_, status := h.run(1)

	assert.Equal(t, session.StatusComplete, status)
	assert.NotContains(t, h.statuses(1), session.StatusCardRequired)
	assert.Equal(t, 1, h.driver.Pages()[0].Clicks(DefaultSelectors().StoredCard))
}

func TestCancelWhileWaitingCleansUpOnce(t *testing.T) {
	h := newHarness(t, SiteOptions{Login: true}, nil)
	r := h.start(1)
	r.awaitSuspended(t, session.StatusLoginRequired)

	r.cancel()
	assert.Equal(t, session.StatusFailed, r.wait(t))
	assert.Equal(t, "Stopped", r.sess.Snapshot().Action)
	assert.Equal(t, 1, h.driver.ContextCloses())
	assert.Equal(t, 1, h.driver.BrowserCloses())
	assert.Equal(t, 1, h.driver.Pages()[0].Closes())
}

func TestCancelDuringQueueWait(t *testing.T) {
	h := newHarness(t, SiteOptions{QueueDelay: time.Hour}, nil)
	r := h.start(1)
	require.Eventually(t, func() bool { return r.sess.Status() == session.StatusInQueue }, waitFor, 5*time.Millisecond)

	r.cancel()
	assert.Equal(t, session.StatusFailed, r.wait(t))
	assert.Equal(t, "Stopped", r.sess.Snapshot().Action)
	assert.Equal(t, 1, h.driver.ContextCloses())
}

func TestModeChoice(t *testing.T) {
	h := newHarness(t, SiteOptions{}, func(o *Options) { o.Config.ConfirmMode = true })
	r := h.start(1)

	r.awaitSuspended(t, session.StatusAwaitingOrders)
	r.send(t, "manual")
	r.awaitSuspended(t, session.StatusManualTakeover)
	assert.Equal(t, session.ModeManual, r.sess.Snapshot().Mode)

	r.send(t, map[string]string{"mode": "auto"})
	assert.Equal(t, session.StatusComplete, r.wait(t))
	assert.Equal(t, session.ModeAutomatic, r.sess.Snapshot().Mode)
	assert.Contains(t, h.statuses(1), session.StatusRunningAuto)
}

func TestWatchdogSolvesChallenge(t *testing.T) {
	ctrl := gomock.NewController(t)
	solver := mocks.NewMockSolver(ctrl)
	solver.EXPECT().
		Solve(gomock.Any(), "https://tickets.example.com/event/1", "site-key-1").
		Return("token-1", nil).
		Times(1)

	h := newHarness(t, SiteOptions{Login: true, Captcha: true, CaptchaSiteKey: "site-key-1"}, func(o *Options) {
		o.Solver = solver
	})
	r := h.start(1)
	r.awaitSuspended(t, session.StatusLoginRequired)

	widget := DefaultSelectors().CaptchaWidget
	page := h.driver.Pages()[0]
	require.Eventually(t, func() bool { return !page.Visible(widget) }, waitFor, 5*time.Millisecond)

	r.send(t, session.Credentials{Email: "a@example.com", Password: "pw"})
	assert.Equal(t, session.StatusComplete, r.wait(t))
}

func TestWatchdogFailureLeavesSessionAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	solver := mocks.NewMockSolver(ctrl)
	called := make(chan struct{})
	solver.EXPECT().
		Solve(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, pageURL, siteKey string) (string, error) {
			close(called)
			return "", errors.New("solver down")
		}).
		Times(1)

	h := newHarness(t, SiteOptions{Login: true, Captcha: true, CaptchaSiteKey: "k"}, func(o *Options) {
		o.Solver = solver
	})
	r := h.start(1)
	r.awaitSuspended(t, session.StatusLoginRequired)

	select {
	case <-called:
	case <-time.After(waitFor):
		t.Fatal("solver was not called")
	}
	// Give a stopped watchdog the chance to misbehave.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, session.StatusLoginRequired, r.sess.Status())

	r.send(t, session.Credentials{Email: "a@example.com", Password: "pw"})
	assert.Equal(t, session.StatusComplete, r.wait(t))
}

func TestRetriesHoldOffWhileChallengeSolves(t *testing.T) {
	ctrl := gomock.NewController(t)
	solver := mocks.NewMockSolver(ctrl)
	var (
		h                  *harness
		reloadsDuringSolve atomic.Int32
	)
	solver.EXPECT().
		Solve(gomock.Any(), gomock.Any(), "k").
		DoAndReturn(func(ctx context.Context, pageURL, siteKey string) (string, error) {
			page := h.driver.Pages()[0]
			before := page.Reloads()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(400 * time.Millisecond):
			}
			reloadsDuringSolve.Store(int32(page.Reloads() - before))
			return "token", nil
		}).
		Times(1)

	h = newHarness(t, SiteOptions{SoldOut: true, Captcha: true, CaptchaSiteKey: "k"}, func(o *Options) {
		o.Solver = solver
	})
	r, status := h.run(1)

	require.Equal(t, session.StatusSoldOut, status)
	assert.Equal(t, "Sold out (availability 3/3)", r.sess.Snapshot().Action)
	assert.Zero(t, reloadsDuringSolve.Load(), "page reloaded while the challenge was being solved")
	assert.Equal(t, 2, h.driver.Pages()[0].Reloads(), "the attempt blocked by the challenge must not count")
	assert.False(t, h.driver.Pages()[0].Visible(DefaultSelectors().CaptchaWidget))
}

func TestFailedSolveStillUsesUpAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	solver := mocks.NewMockSolver(ctrl)
	solver.EXPECT().
		Solve(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("solver down")).
		Times(1)

	h := newHarness(t, SiteOptions{SoldOut: true, Captcha: true, CaptchaSiteKey: "k"}, func(o *Options) {
		o.Solver = solver
	})
	r, status := h.run(1)

	require.Equal(t, session.StatusSoldOut, status)
	assert.Equal(t, "Sold out (availability 3/3)", r.sess.Snapshot().Action)
	assert.Equal(t, 2, h.driver.Pages()[0].Reloads())
}

func TestChallengeWithoutSolverDoesNotStall(t *testing.T) {
	h := newHarness(t, SiteOptions{SoldOut: true, Captcha: true}, nil)
	r, status := h.run(1)
	require.Equal(t, session.StatusSoldOut, status)
	assert.Equal(t, "Sold out (availability 3/3)", r.sess.Snapshot().Action)
}

func TestChallengeGuardWait(t *testing.T) {
	g := newChallengeGuard()
	g.setWatching(true)
	mark := g.mark()
	require.True(t, g.begin())
	assert.False(t, g.begin(), "a second solve must not start while one runs")

	done := make(chan error, 1)
	go func() { done <- g.wait(context.Background(), false, 0) }()
	select {
	case <-done:
		t.Fatal("wait returned while a solve was running")
	case <-time.After(20 * time.Millisecond):
	}
	g.end()
	require.NoError(t, <-done)
	assert.True(t, g.overlapped(mark))

	// A pending challenge waits for the next solve, or for the watchdog to stop.
	mark = g.mark()
	go func() { done <- g.wait(context.Background(), true, mark) }()
	select {
	case <-done:
		t.Fatal("wait returned before the challenge was handled")
	case <-time.After(20 * time.Millisecond):
	}
	g.setWatching(false)
	require.NoError(t, <-done)
	assert.False(t, g.overlapped(mark))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.setWatching(true)
	assert.ErrorIs(t, g.wait(ctx, true, g.mark()), context.Canceled)
}

func TestLaunchFailure(t *testing.T) {
	h := newHarness(t, SiteOptions{}, nil)
	h.driver.LaunchErr = errors.New("chromium missing")
	r, status := h.run(1)
	assert.Equal(t, session.StatusFailed, status)
	assert.Equal(t, "Browser launch failed", r.sess.Snapshot().Action)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t, SiteOptions{Login: true}, nil)
	sessions := make([]*running, 3)
	for i := range sessions {
		sessions[i] = h.start(i + 1)
	}
	for _, r := range sessions {
		r.awaitSuspended(t, session.StatusLoginRequired)
	}

	sessions[1].cancel()
	assert.Equal(t, session.StatusFailed, sessions[1].wait(t))
	assert.Equal(t, session.StatusLoginRequired, sessions[0].sess.Status())
	assert.Equal(t, session.StatusLoginRequired, sessions[2].sess.Status())

	for _, idx := range []int{0, 2} {
		sessions[idx].send(t, session.Credentials{Email: fmt.Sprintf("s%d@example.com", idx), Password: "pw"})
	}
	assert.Equal(t, session.StatusComplete, sessions[0].wait(t))
	assert.Equal(t, session.StatusComplete, sessions[2].wait(t))
}

func TestTerminalStatusIsFinal(t *testing.T) {
	h := newHarness(t, SiteOptions{SoldOut: true}, nil)
	r, status := h.run(1)
	require.Equal(t, session.StatusSoldOut, status)

	statuses := h.statuses(1)
	assert.Equal(t, session.StatusSoldOut, statuses[len(statuses)-1])
	assert.False(t, r.sess.SetStatus(session.StatusRunning, "again"))
}

func TestFirstVisible(t *testing.T) {
	driver := sim.New(sim.Script{})
	m := browser.NewManager(driver)
	defer m.Close()
	bs, err := m.Open(context.Background(), "k", browser.LaunchOptions{}, browser.ContextOptions{})
	require.NoError(t, err)
	page := driver.Pages()[0]

	go func() {
		time.Sleep(20 * time.Millisecond)
		page.Show("#b")
	}()
	winner, err := firstVisible(context.Background(), bs.Page, time.Second, "#a", "#b", "")
	require.NoError(t, err)
	assert.Equal(t, "#b", winner)

	_, err = firstVisible(context.Background(), bs.Page, 20*time.Millisecond, "#never")
	assert.True(t, browser.IsTimeout(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = firstVisible(ctx, bs.Page, time.Second, "#never")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = firstVisible(context.Background(), bs.Page, time.Second)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 15*time.Second, cfg.CartRaceTimeout)
	assert.Equal(t, 30*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchdogInterval)

	bad := cfg
	bad.MaxRetries = -1
	assert.Error(t, bad.Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.AvailabilityTimeout = -time.Second },
		func(c *Config) { c.ScreenTimeout = -time.Millisecond },
		func(c *Config) { c.CheckoutStepTimeout = -time.Second },
		func(c *Config) { c.CartRaceTimeout = -time.Second },
	} {
		bad := Config{}
		mutate(&bad)
		assert.Error(t, bad.WithDefaults().Validate(), "negative race timeouts must not survive defaults")
	}
	assert.EqualError(t, Config{AvailabilityTimeout: -time.Second}.WithDefaults().Validate(),
		"availability_timeout must be positive, got -1s")

	require.NoError(t, ValidateTargetURL("https://tickets.example.com/event/1"))
	assert.Error(t, ValidateTargetURL("tickets.example.com/event/1"))
	assert.Error(t, ValidateTargetURL("ftp://tickets.example.com/"))

	sel := Selectors{Select: "#custom"}.WithDefaults()
	assert.Equal(t, "#custom", sel.Select)
	assert.Equal(t, DefaultSelectors().SoldOut, sel.SoldOut)
	assert.NoError(t, sel.Validate())
	assert.EqualError(t, Selectors{}.Validate(), "missing selectors: add_to_cart, checkout, confirmation, place_order, quantity, queue_exit, select, sold_out")
}
