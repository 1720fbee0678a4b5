package playwright

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the Playwright adapter starts browsers.
type Config struct {
	// Browser is one of chromium, firefox or webkit.
	Browser string
	// Install downloads the driver and browser on first use.
	Install bool
	// ActionTimeout bounds a single click, fill or select when the caller's
	// ctx has no earlier deadline.
	ActionTimeout time.Duration
	// NavigationTimeout bounds Goto and Reload.
	NavigationTimeout time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Browser:           "chromium",
		ActionTimeout:     30 * time.Second,
		NavigationTimeout: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Browser) != "" {
		defaults.Browser = strings.ToLower(strings.TrimSpace(c.Browser))
	}
	defaults.Install = c.Install
	if c.ActionTimeout != 0 {
		defaults.ActionTimeout = c.ActionTimeout
	}
	if c.NavigationTimeout != 0 {
		defaults.NavigationTimeout = c.NavigationTimeout
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		return errors.New("browser must be chromium, firefox or webkit")
	}
	if c.ActionTimeout < 0 {
		return errors.New("action_timeout must be zero or positive")
	}
	if c.NavigationTimeout < 0 {
		return errors.New("navigation_timeout must be zero or positive")
	}
	return nil
}
