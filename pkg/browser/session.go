package browser

import (
	"context"
	"time"
)

// NoTimeout makes a wait block until the element appears or ctx ends.
const NoTimeout time.Duration = 0

// Driver launches browser processes. Implementations are adapters over a
// concrete automation library.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	Close() error
}

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated browser profile (cookies, storage, proxy).
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is the port the checkout pipeline drives. Selectors use the driver's
// selector syntax (CSS, or text= / role= engines where supported).
//
// Every call observes ctx: cancellation or a ctx deadline aborts the call with
// ctx.Err() or ErrOperationTimeout.
type Page interface {
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string

	// WaitVisible blocks until selector is visible. A zero timeout waits
	// until ctx is done.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	IsVisible(ctx context.Context, selector string) (bool, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Attribute(ctx context.Context, selector, name string) (string, error)
	Evaluate(ctx context.Context, script string, arg any) (any, error)

	Close() error
}
