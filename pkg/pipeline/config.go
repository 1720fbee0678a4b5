package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config bounds the retries and waits of every stage.
type Config struct {
	// MaxRetries bounds the availability check and the code gate.
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// AvailabilityTimeout bounds each wait for the select affordance.
	AvailabilityTimeout time.Duration `yaml:"availability_timeout"`
	// ScreenTimeout bounds the race between the code prompt and the quantity selector.
	ScreenTimeout time.Duration `yaml:"screen_timeout"`

	MaxCartAttempts int           `yaml:"max_cart_attempts"`
	CartRaceTimeout time.Duration `yaml:"cart_race_timeout"`

	// CheckoutStepTimeout bounds the wait for the next checkout form to render.
	CheckoutStepTimeout time.Duration `yaml:"checkout_step_timeout"`
	CompletionTimeout   time.Duration `yaml:"completion_timeout"`

	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	CaptchaSettle    time.Duration `yaml:"captcha_settle"`

	UnlockCode  string `yaml:"unlock_code"`
	Quantity    string `yaml:"quantity"`
	ConfirmMode bool   `yaml:"confirm_mode"`
}

// DefaultConfig returns the stage bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          time.Second,
		AvailabilityTimeout: 10 * time.Second,
		ScreenTimeout:       15 * time.Second,
		MaxCartAttempts:     3,
		CartRaceTimeout:     15 * time.Second,
		CheckoutStepTimeout: 20 * time.Second,
		CompletionTimeout:   30 * time.Second,
		WatchdogInterval:    500 * time.Millisecond,
		CaptchaSettle:       2 * time.Second,
		Quantity:            "2",
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries != 0 {
		d.MaxRetries = c.MaxRetries
	}
	if c.RetryDelay != 0 {
		d.RetryDelay = c.RetryDelay
	}
	if c.AvailabilityTimeout != 0 {
		d.AvailabilityTimeout = c.AvailabilityTimeout
	}
	if c.ScreenTimeout != 0 {
		d.ScreenTimeout = c.ScreenTimeout
	}
	if c.MaxCartAttempts != 0 {
		d.MaxCartAttempts = c.MaxCartAttempts
	}
	if c.CartRaceTimeout != 0 {
		d.CartRaceTimeout = c.CartRaceTimeout
	}
	if c.CheckoutStepTimeout != 0 {
		d.CheckoutStepTimeout = c.CheckoutStepTimeout
	}
	if c.CompletionTimeout != 0 {
		d.CompletionTimeout = c.CompletionTimeout
	}
	if c.WatchdogInterval != 0 {
		d.WatchdogInterval = c.WatchdogInterval
	}
	if c.CaptchaSettle != 0 {
		d.CaptchaSettle = c.CaptchaSettle
	}
	if strings.TrimSpace(c.UnlockCode) != "" {
		d.UnlockCode = c.UnlockCode
	}
	if strings.TrimSpace(c.Quantity) != "" {
		d.Quantity = c.Quantity
	}
	d.ConfirmMode = c.ConfirmMode
	return d
}

// Validate rejects bounds that would make a stage loop forever or never run.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return errors.New("max_retries must be at least 1")
	}
	if c.MaxCartAttempts < 1 {
		return errors.New("max_cart_attempts must be at least 1")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay must be zero or positive")
	}
	if c.WatchdogInterval <= 0 {
		return errors.New("watchdog_interval must be positive")
	}
	// A non-positive race timeout means no bound at all.
	for _, bound := range []struct {
		name  string
		value time.Duration
	}{
		{"availability_timeout", c.AvailabilityTimeout},
		{"screen_timeout", c.ScreenTimeout},
		{"cart_race_timeout", c.CartRaceTimeout},
		{"checkout_step_timeout", c.CheckoutStepTimeout},
		{"completion_timeout", c.CompletionTimeout},
	} {
		if bound.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", bound.name, bound.value)
		}
	}
	if c.CaptchaSettle < 0 {
		return errors.New("captcha_settle must be zero or positive")
	}
	return nil
}

// ValidateTargetURL accepts absolute http and https URLs only.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target url %q must be an absolute http(s) URL", raw)
	}
	return nil
}
