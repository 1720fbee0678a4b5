// Package playwright adapts playwright-go to the browser ports.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
)

// Driver owns one Playwright driver process shared by every browser it
// launches.
type Driver struct {
	cfg Config

	mu sync.Mutex
	pw *pw.Playwright
}

// NewDriver validates cfg. The Playwright process starts lazily on the first
// Launch.
func NewDriver(cfg Config) (*Driver, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Driver{cfg: merged}, nil
}

func (d *Driver) runtime() (*pw.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}
	if d.cfg.Install {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{d.cfg.Browser}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	runtime, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = runtime
	return runtime, nil
}

func (d *Driver) browserType(runtime *pw.Playwright) pw.BrowserType {
	switch d.cfg.Browser {
	case "firefox":
		return runtime.Firefox
	case "webkit":
		return runtime.WebKit
	default:
		return runtime.Chromium
	}
}

// Launch implements browser.Driver.
func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	runtime, err := d.runtime()
	if err != nil {
		return nil, err
	}
	launch := pw.BrowserTypeLaunchOptions{Headless: pw.Bool(opts.Headless)}
	if opts.SlowMo > 0 {
		launch.SlowMo = pw.Float(float64(opts.SlowMo.Milliseconds()))
	}
	if ms := timeoutMillis(ctx, opts.Timeout); ms > 0 {
		launch.Timeout = pw.Float(ms)
	}
	b, err := call(ctx, func() (pw.Browser, error) {
		return d.browserType(runtime).Launch(launch)
	})
	if err != nil {
		return nil, translate("launch", err)
	}
	return &pwBrowser{b: b, cfg: d.cfg}, nil
}

// Close stops the Playwright driver process.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

type pwBrowser struct {
	b   pw.Browser
	cfg Config
}

func (b *pwBrowser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	var options pw.BrowserNewContextOptions
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		proxy := &pw.Proxy{Server: opts.Proxy.Server}
		if opts.Proxy.Username != "" {
			proxy.Username = pw.String(opts.Proxy.Username)
			proxy.Password = pw.String(opts.Proxy.Password)
		}
		options.Proxy = proxy
	}
	if opts.UserAgent != "" {
		options.UserAgent = pw.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		options.Locale = pw.String(opts.Locale)
	}
	bctx, err := call(ctx, func() (pw.BrowserContext, error) {
		return b.b.NewContext(options)
	})
	if err != nil {
		return nil, translate("new_context", err)
	}
	return &pwContext{c: bctx, cfg: b.cfg}, nil
}

func (b *pwBrowser) Close() error {
	return translate("close_browser", b.b.Close())
}

type pwContext struct {
	c   pw.BrowserContext
	cfg Config
}

func (c *pwContext) NewPage(ctx context.Context) (browser.Page, error) {
	page, err := call(ctx, c.c.NewPage)
	if err != nil {
		return nil, translate("new_page", err)
	}
	return &pwPage{p: page, cfg: c.cfg}, nil
}

func (c *pwContext) Close() error {
	return translate("close_context", c.c.Close())
}

// timeoutMillis returns the smaller of d and the time left on ctx, in
// milliseconds. Zero means unbounded.
func timeoutMillis(ctx context.Context, d time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			left = time.Millisecond
		}
		if d <= 0 || left < d {
			d = left
		}
	}
	if d <= 0 {
		return 0
	}
	return float64(d.Milliseconds())
}

// call runs fn and returns early when ctx is done. Playwright calls do not
// take a context; an abandoned call unblocks once its page or context closes.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, pw.ErrTimeout):
		return browser.WrapDriverError(browser.CodeTimeout, op, "playwright timeout", err)
	case errors.Is(err, pw.ErrTargetClosed):
		return browser.WrapDriverError(browser.CodeClosed, op, "target closed", err)
	default:
		return browser.WrapDriverError(browser.CodeScript, op, "playwright call failed", err)
	}
}
