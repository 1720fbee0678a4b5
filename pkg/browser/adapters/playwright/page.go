package playwright

import (
	"context"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

type pwPage struct {
	p   pw.Page
	cfg Config
}

type none struct{}

func (p *pwPage) locator(selector string) pw.Locator {
	return p.p.Locator(selector).First()
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	opts := pw.PageGotoOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.NavigationTimeout))}
	_, err := call(ctx, func() (pw.Response, error) { return p.p.Goto(url, opts) })
	return translate("goto", err)
}

func (p *pwPage) Reload(ctx context.Context) error {
	opts := pw.PageReloadOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.NavigationTimeout))}
	_, err := call(ctx, func() (pw.Response, error) { return p.p.Reload(opts) })
	return translate("reload", err)
}

func (p *pwPage) URL() string {
	return p.p.URL()
}

// WaitVisible passes a zero Playwright timeout when the wait is unbounded;
// Playwright treats zero as "wait forever".
func (p *pwPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	opts := pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: pw.Float(timeoutMillis(ctx, timeout)),
	}
	_, err := call(ctx, func() (none, error) { return none{}, p.locator(selector).WaitFor(opts) })
	return translate("wait_visible", err)
}

func (p *pwPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	ok, err := call(ctx, func() (bool, error) { return p.locator(selector).IsVisible() })
	return ok, translate("is_visible", err)
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	opts := pw.LocatorClickOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.ActionTimeout))}
	_, err := call(ctx, func() (none, error) { return none{}, p.locator(selector).Click(opts) })
	return translate("click", err)
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	opts := pw.LocatorFillOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.ActionTimeout))}
	_, err := call(ctx, func() (none, error) { return none{}, p.locator(selector).Fill(value, opts) })
	return translate("fill", err)
}

func (p *pwPage) Select(ctx context.Context, selector, value string) error {
	opts := pw.LocatorSelectOptionOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.ActionTimeout))}
	values := pw.SelectOptionValues{Values: &[]string{value}}
	_, err := call(ctx, func() ([]string, error) { return p.locator(selector).SelectOption(values, opts) })
	return translate("select", err)
}

func (p *pwPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	opts := pw.LocatorGetAttributeOptions{Timeout: pw.Float(timeoutMillis(ctx, p.cfg.ActionTimeout))}
	v, err := call(ctx, func() (string, error) { return p.locator(selector).GetAttribute(name, opts) })
	return v, translate("attribute", err)
}

func (p *pwPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	v, err := call(ctx, func() (any, error) {
		if arg == nil {
			return p.p.Evaluate(script)
		}
		return p.p.Evaluate(script, arg)
	})
	return v, translate("evaluate", err)
}

func (p *pwPage) Close() error {
	return translate("close_page", p.p.Close())
}
