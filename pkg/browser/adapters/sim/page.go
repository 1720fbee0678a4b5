package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
)

// Page is a simulated page. It implements browser.Page.
type Page struct {
	script  Script
	Launch  browser.LaunchOptions
	Options browser.ContextOptions

	mu      sync.Mutex
	url     string
	visible map[string]bool
	attrs   map[string]map[string]string
	values  map[string]string
	clicks  map[string]int
	gotos   int
	reloads int
	closes  int
	closed  bool
	changed chan struct{}
}

func newPage(script Script, launch browser.LaunchOptions, opts browser.ContextOptions) *Page {
	return &Page{
		script:  script,
		Launch:  launch,
		Options: opts,
		url:     "about:blank",
		visible: make(map[string]bool),
		attrs:   make(map[string]map[string]string),
		values:  make(map[string]string),
		clicks:  make(map[string]int),
		changed: make(chan struct{}),
	}
}

// notifyLocked wakes every WaitVisible. Callers hold p.mu.
func (p *Page) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Show makes selectors visible.
func (p *Page) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sel := range selectors {
		p.visible[sel] = true
	}
	p.notifyLocked()
}

// Hide makes selectors invisible.
func (p *Page) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sel := range selectors {
		delete(p.visible, sel)
	}
	p.notifyLocked()
}

// HideAll clears every visible selector, as a navigation would.
func (p *Page) HideAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = make(map[string]bool)
	p.notifyLocked()
}

// SetAttribute sets an attribute value on selector.
func (p *Page) SetAttribute(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attrs[selector] == nil {
		p.attrs[selector] = make(map[string]string)
	}
	p.attrs[selector][name] = value
}

// Visible reports whether selector is currently shown.
func (p *Page) Visible(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector]
}

// Clicks returns how often selector was clicked.
func (p *Page) Clicks(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[selector]
}

// Value returns the last value filled or selected into selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// Gotos returns the number of navigations.
func (p *Page) Gotos() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotos
}

// Reloads returns the number of reloads.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.gotos++
	p.mu.Unlock()
	if p.script.OnGoto != nil {
		return p.script.OnGoto(p, url)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	if p.script.OnReload != nil {
		return p.script.OnReload(p)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return browser.ErrSessionClosed
		}
		if p.visible[selector] {
			p.mu.Unlock()
			return nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return browser.WrapDriverError(browser.CodeTimeout, "wait_visible", selector, browser.ErrOperationTimeout)
		case <-changed:
		}
	}
}

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := p.checkOpen(ctx); err != nil {
		return false, err
	}
	return p.Visible(selector), nil
}

func (p *Page) requireVisible(op, selector string) error {
	if !p.Visible(selector) {
		return browser.WrapDriverError(browser.CodeTimeout, op, selector, browser.ErrElementNotFound)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if err := p.requireVisible("click", selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks[selector]++
	p.mu.Unlock()
	if p.script.OnClick != nil {
		return p.script.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if err := p.requireVisible("fill", selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.values[selector] = value
	p.mu.Unlock()
	if p.script.OnFill != nil {
		return p.script.OnFill(p, selector, value)
	}
	return nil
}

func (p *Page) Select(ctx context.Context, selector, value string) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if err := p.requireVisible("select", selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.values[selector] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.visible[selector] {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return p.attrs[selector][name], nil
}

func (p *Page) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := p.checkOpen(ctx); err != nil {
		return nil, err
	}
	if p.script.OnEvaluate != nil {
		return p.script.OnEvaluate(p, script, arg)
	}
	return nil, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	if !p.closed {
		p.closed = true
		p.notifyLocked()
	}
	return nil
}
