package browser

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parallel_sessions",
			Subsystem: "browser",
			Name:      "sessions_opened_total",
			Help:      "Browser sessions opened, by headless flag.",
		},
		[]string{"headless"},
	)

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parallel_sessions",
		Subsystem: "browser",
		Name:      "sessions_active",
		Help:      "Browser sessions currently open.",
	})

	launchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parallel_sessions",
		Subsystem: "browser",
		Name:      "launch_failures_total",
		Help:      "Browser launches that failed before a page was ready.",
	})

	pageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parallel_sessions",
			Subsystem: "browser",
			Name:      "page_operation_duration_seconds",
			Help:      "Latency of page operations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		},
		[]string{"op"},
	)

	pageOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parallel_sessions",
			Subsystem: "browser",
			Name:      "page_operation_errors_total",
			Help:      "Page operations that returned an error, by operation and kind.",
		},
		[]string{"op", "kind"},
	)
)

func recordSessionOpened(headless bool) {
	sessionsOpened.WithLabelValues(strconv.FormatBool(headless)).Inc()
	sessionsActive.Inc()
}

func recordSessionClosed() {
	sessionsActive.Dec()
}

func recordLaunchFailure() {
	launchFailures.Inc()
}

func recordPageOp(op string, start time.Time, err error) {
	pageOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	kind := "other"
	switch {
	case IsTimeout(err):
		kind = "timeout"
	case IsClosed(err):
		kind = "closed"
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	}
	pageOpErrors.WithLabelValues(op, kind).Inc()
}

// Instrument wraps page so every operation is timed and its errors counted.
func Instrument(page Page) Page {
	if page == nil {
		return nil
	}
	if _, ok := page.(*instrumentedPage); ok {
		return page
	}
	return &instrumentedPage{page: page}
}

type instrumentedPage struct {
	page Page
}

func (p *instrumentedPage) Goto(ctx context.Context, url string) error {
	start := time.Now()
	err := p.page.Goto(ctx, url)
	recordPageOp("goto", start, err)
	return err
}

func (p *instrumentedPage) Reload(ctx context.Context) error {
	start := time.Now()
	err := p.page.Reload(ctx)
	recordPageOp("reload", start, err)
	return err
}

func (p *instrumentedPage) URL() string { return p.page.URL() }

func (p *instrumentedPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	start := time.Now()
	err := p.page.WaitVisible(ctx, selector, timeout)
	recordPageOp("wait_visible", start, err)
	return err
}

func (p *instrumentedPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	start := time.Now()
	ok, err := p.page.IsVisible(ctx, selector)
	recordPageOp("is_visible", start, err)
	return ok, err
}

func (p *instrumentedPage) Click(ctx context.Context, selector string) error {
	start := time.Now()
	err := p.page.Click(ctx, selector)
	recordPageOp("click", start, err)
	return err
}

func (p *instrumentedPage) Fill(ctx context.Context, selector, value string) error {
	start := time.Now()
	err := p.page.Fill(ctx, selector, value)
	recordPageOp("fill", start, err)
	return err
}

func (p *instrumentedPage) Select(ctx context.Context, selector, value string) error {
	start := time.Now()
	err := p.page.Select(ctx, selector, value)
	recordPageOp("select", start, err)
	return err
}

func (p *instrumentedPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	start := time.Now()
	v, err := p.page.Attribute(ctx, selector, name)
	recordPageOp("attribute", start, err)
	return v, err
}

func (p *instrumentedPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	start := time.Now()
	v, err := p.page.Evaluate(ctx, script, arg)
	recordPageOp("evaluate", start, err)
	return v, err
}

func (p *instrumentedPage) Close() error {
	return p.page.Close()
}
