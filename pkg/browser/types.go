package browser

import (
	"fmt"
	"time"
)

// LaunchOptions controls how a browser process is started.
type LaunchOptions struct {
	// Headless hides the window. Only the inspected session runs headed.
	Headless bool
	// SlowMo delays each driver operation; useful when watching a headed session.
	SlowMo time.Duration
	// Timeout bounds the launch itself.
	Timeout time.Duration
}

// Proxy is an upstream proxy for a browser context.
type Proxy struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

func (p *Proxy) String() string {
	if p == nil {
		return ""
	}
	if p.Username != "" {
		return fmt.Sprintf("%s (user %s)", p.Server, p.Username)
	}
	return p.Server
}

// ContextOptions controls a new browser context.
type ContextOptions struct {
	Proxy     *Proxy
	UserAgent string
	Locale    string
}
