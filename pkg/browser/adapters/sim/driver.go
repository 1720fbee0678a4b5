// Package sim is an in-memory browser driver. Pages hold a set of visible
// selectors that a Script mutates in response to navigation and clicks, which
// is enough to walk a checkout flow without a real browser.
package sim

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
)

// Script reacts to page operations. Hooks run without the page lock held, so
// they may call Show, Hide and SetAttribute freely. Nil hooks are no-ops.
type Script struct {
	OnGoto     func(p *Page, url string) error
	OnReload   func(p *Page) error
	OnClick    func(p *Page, selector string) error
	OnFill     func(p *Page, selector, value string) error
	OnEvaluate func(p *Page, script string, arg any) (any, error)
}

// Driver launches simulated browsers. All pages share one Script.
type Driver struct {
	script Script

	// LaunchErr, when set, fails every Launch.
	LaunchErr error

	mu       sync.Mutex
	pages    []*Page
	launches []browser.LaunchOptions
	closed   bool

	contextCloses atomic.Int64
	browserCloses atomic.Int64
}

// New creates a driver running script on every page.
func New(script Script) *Driver {
	return &Driver{script: script}
}

// Launch implements browser.Driver.
func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, browser.ErrUnavailable
	}
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	d.launches = append(d.launches, opts)
	return &simBrowser{driver: d, launch: opts}, nil
}

// Close implements browser.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Pages returns every page opened so far, in creation order.
func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.pages...)
}

// Launches returns the options of every launch, in order.
func (d *Driver) Launches() []browser.LaunchOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.LaunchOptions(nil), d.launches...)
}

// ContextCloses counts Context.Close calls across all browsers.
func (d *Driver) ContextCloses() int { return int(d.contextCloses.Load()) }

// BrowserCloses counts Browser.Close calls.
func (d *Driver) BrowserCloses() int { return int(d.browserCloses.Load()) }

func (d *Driver) addPage(p *Page) {
	d.mu.Lock()
	d.pages = append(d.pages, p)
	d.mu.Unlock()
}

type simBrowser struct {
	driver *Driver
	launch browser.LaunchOptions
}

func (b *simBrowser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &simContext{browser: b, opts: opts}, nil
}

func (b *simBrowser) Close() error {
	b.driver.browserCloses.Add(1)
	return nil
}

type simContext struct {
	browser *simBrowser
	opts    browser.ContextOptions
	closes  atomic.Int64
}

func (c *simContext) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := newPage(c.browser.driver.script, c.browser.launch, c.opts)
	c.browser.driver.addPage(p)
	return p, nil
}

func (c *simContext) Close() error {
	c.closes.Add(1)
	c.browser.driver.contextCloses.Add(1)
	return nil
}
