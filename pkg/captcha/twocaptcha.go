package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

const (
	defaultBaseURL      = "https://2captcha.com"
	defaultPollInterval = 5 * time.Second
	defaultInitialDelay = 10 * time.Second
	defaultMaxPolls     = 24
	defaultHTTPTimeout  = 30 * time.Second

	notReady = "CAPCHA_NOT_READY"
)

// Options configures a TwoCaptcha client.
type Options struct {
	BaseURL string
	// PollInterval is the minimum spacing between result polls.
	PollInterval time.Duration
	// InitialDelay is waited once after submission before the first poll.
	// Zero selects the default; a negative value disables it.
	InitialDelay time.Duration
	// MaxPolls caps result polls per solve.
	MaxPolls   int
	HTTPClient *http.Client
}

// TwoCaptcha solves reCAPTCHA v2 challenges using the in.php/res.php API.
type TwoCaptcha struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	initialDelay time.Duration
	maxPolls     int
}

// NewTwoCaptcha creates a client for apiKey.
func NewTwoCaptcha(apiKey string, opts Options) *TwoCaptcha {
	c := &TwoCaptcha{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   opts.HTTPClient,
		pollInterval: opts.PollInterval,
		initialDelay: opts.InitialDelay,
		maxPolls:     opts.MaxPolls,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	switch {
	case c.initialDelay == 0:
		c.initialDelay = defaultInitialDelay
	case c.initialDelay < 0:
		c.initialDelay = 0
	}
	if c.maxPolls <= 0 {
		c.maxPolls = defaultMaxPolls
	}
	return c
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge, then polls for the token until it is ready,
// the service reports an error, or MaxPolls is reached.
func (c *TwoCaptcha) Solve(ctx context.Context, pageURL, siteKey string) (string, error) {
	if c.apiKey == "" {
		return "", apperrors.New(apperrors.ErrCodeCaptchaSolve, "captcha api key not configured").
			WithRemediation("Set CAPTCHA_API_KEY or captcha.api_key")
	}
	if siteKey == "" {
		return "", apperrors.New(apperrors.ErrCodeCaptchaSolve, "challenge has no site key")
	}

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("method", "userrecaptcha")
	form.Set("googlekey", siteKey)
	form.Set("pageurl", pageURL)
	form.Set("json", "1")
	submitted, err := c.call(ctx, http.MethodPost, "/in.php", form)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeCaptchaSolve, "submit challenge")
	}
	if submitted.Status != 1 {
		return "", apperrors.Newf(apperrors.ErrCodeCaptchaSolve, "submit rejected: %s", submitted.Request)
	}
	taskID := submitted.Request

	if c.initialDelay > 0 {
		timer := time.NewTimer(c.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("action", "get")
	query.Set("id", taskID)
	query.Set("json", "1")
	for poll := 1; poll <= c.maxPolls; poll++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		res, err := c.call(ctx, http.MethodGet, "/res.php", query)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeCaptchaSolve, "poll result").
				WithContext("task_id", taskID).
				WithContext("poll", poll)
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		if res.Request != notReady {
			return "", apperrors.Newf(apperrors.ErrCodeCaptchaSolve, "solver error: %s", res.Request).
				WithContext("task_id", taskID)
		}
	}
	return "", apperrors.Newf(apperrors.ErrCodeCaptchaSolve, "no result after %d polls", c.maxPolls).
		WithContext("task_id", taskID).
		WithRetryable(true)
}

func (c *TwoCaptcha) call(ctx context.Context, method, path string, values url.Values) (*apiResponse, error) {
	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + values.Encode()
	} else {
		body = strings.NewReader(values.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &out, nil
}
