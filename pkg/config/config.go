// Package config loads the server and run settings from yaml files, an env
// file and environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/pipeline"
)

const (
	// DirName is the per-user and per-project config directory.
	DirName = ".parallel-sessions"

	DefaultBind          = "127.0.0.1:8000"
	DefaultSessions      = 5
	DefaultMaxSessions   = 50
	DefaultDriver        = DriverPlaywright
	DefaultSubjectPrefix = "parallel-sessions"
	DefaultLaunchTimeout = 30 * time.Second

	// MinAuthSecretLength is the shortest HS256 secret accepted.
	MinAuthSecretLength = 16
)

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverSim        = "sim"
)

// Config is the complete configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Run       RunConfig          `yaml:"run"`
	Browser   BrowserConfig      `yaml:"browser"`
	Pipeline  pipeline.Config    `yaml:"pipeline"`
	Selectors pipeline.Selectors `yaml:"selectors"`
	Captcha   CaptchaConfig      `yaml:"captcha"`
	Proxy     ProxyConfig        `yaml:"proxy"`
	Bus       BusConfig          `yaml:"bus"`
	Logging   LoggingConfig      `yaml:"logging"`
	Tracing   TracingConfig      `yaml:"tracing"`
}

// ServerConfig controls the control API.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxWSConnections caps websocket observers; 0 is unlimited.
	MaxWSConnections int `yaml:"max_ws_connections"`
	// AuthSecret enables bearer auth on the control endpoints.
	AuthSecret string `yaml:"auth_secret"`
}

// RunConfig supplies defaults for runs started without explicit values.
type RunConfig struct {
	TargetURL         string `yaml:"target_url"`
	Sessions          int    `yaml:"sessions"`
	// MaxSessions caps the session count a start request may ask for.
	MaxSessions       int    `yaml:"max_sessions"`
	UseProxies        bool   `yaml:"use_proxies"`
	HeadedFirst       bool   `yaml:"headed_first"`
	EmailTemplate     string `yaml:"email_template"`
	LaunchConcurrency int    `yaml:"launch_concurrency"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver        string        `yaml:"driver"`
	Engine        string        `yaml:"engine"`
	Install       bool          `yaml:"install"`
	SlowMo        time.Duration `yaml:"slow_mo"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
}

// CaptchaConfig configures the challenge solver. No api key disables the watchdog.
type CaptchaConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// ProxyConfig points at the egress identity pool.
type ProxyConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// BusConfig enables the NATS mirror.
type BusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:           DefaultBind,
			AllowedOrigins: []string{"*"},
		},
		Run: RunConfig{
			Sessions:    DefaultSessions,
			MaxSessions: DefaultMaxSessions,
			HeadedFirst: true,
		},
		Browser: BrowserConfig{
			Driver:        DefaultDriver,
			Engine:        "chromium",
			LaunchTimeout: DefaultLaunchTimeout,
		},
		Pipeline:  pipeline.DefaultConfig(),
		Selectors: pipeline.DefaultSelectors(),
		Captcha: CaptchaConfig{
			BaseURL:      "https://2captcha.com",
			PollInterval: 5 * time.Second,
			MaxPolls:     24,
		},
		Proxy: ProxyConfig{Watch: true},
		Bus: BusConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load merges, in increasing precedence: ~/.parallel-sessions/config.yaml,
// ./.parallel-sessions/config.yaml, the env file and the environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	home := homeDir()

	if home != "" {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, wrapLoadError(err, userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", DirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, wrapLoadError(err, projectConfigPath)
	}

	return finish(cfg, loadConfigEnvVars(home))
}

// LoadFromPath loads a single explicit file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, wrapLoadError(err, path)
	}
	return finish(cfg, loadConfigEnvVars(homeDir()))
}

func finish(cfg *Config, configEnv map[string]string) (*Config, error) {
	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	cfg.Proxy.File = expandHomeDir(cfg.Proxy.File)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables, falling back to values
// read from the env file.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) error {
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	if v := lookup("TARGET_SITE_URL"); v != "" {
		cfg.Run.TargetURL = v
	}
	if v := lookup("CAPTCHA_API_KEY"); v != "" {
		cfg.Captcha.APIKey = v
	}
	if v := lookup("PARALLEL_SESSIONS_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := lookup("PARALLEL_SESSIONS_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "PARALLEL_SESSIONS_COUNT must be an integer").
				WithContext("value", v)
		}
		cfg.Run.Sessions = n
	}
	if v := lookup("PARALLEL_SESSIONS_DRIVER"); v != "" {
		cfg.Browser.Driver = strings.ToLower(v)
	}
	if v := lookup("PARALLEL_SESSIONS_PROXY_FILE"); v != "" {
		cfg.Proxy.File = v
	}
	if v := lookup("PARALLEL_SESSIONS_NATS_URL"); v != "" {
		cfg.Bus.URL = v
		cfg.Bus.Enabled = true
	}
	if v := lookup("PARALLEL_SESSIONS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := lookup("PARALLEL_SESSIONS_AUTH_SECRET"); v != "" {
		cfg.Server.AuthSecret = v
	}
	if v := lookup("PARALLEL_SESSIONS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) *apperrors.Error {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, format, args...)
	}

	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return invalid("server.bind %q must be host:port", c.Server.Bind)
	}
	if c.Server.MaxWSConnections < 0 {
		return invalid("server.max_ws_connections must be zero or positive")
	}
	if c.Server.AuthSecret != "" && len(c.Server.AuthSecret) < MinAuthSecretLength {
		return invalid("server.auth_secret must be at least %d characters", MinAuthSecretLength)
	}
	if !isLoopbackBindAddress(c.Server.Bind) && c.Server.AuthSecret == "" {
		return invalid("server.bind %q is not loopback; set server.auth_secret", c.Server.Bind).
			WithRemediation("Bind to 127.0.0.1 or set PARALLEL_SESSIONS_AUTH_SECRET.")
	}

	if c.Run.TargetURL != "" {
		if err := pipeline.ValidateTargetURL(c.Run.TargetURL); err != nil {
			return invalid("run.target_url %q must be an absolute http(s) URL", c.Run.TargetURL)
		}
	}
	if c.Run.Sessions < 1 {
		return invalid("run.sessions must be at least 1")
	}
	if c.Run.MaxSessions < c.Run.Sessions {
		return invalid("run.max_sessions (%d) must be at least run.sessions (%d)", c.Run.MaxSessions, c.Run.Sessions)
	}
	if c.Run.LaunchConcurrency < 0 {
		return invalid("run.launch_concurrency must be zero or positive")
	}
	if c.Run.UseProxies && c.Proxy.File == "" {
		return invalid("run.use_proxies requires proxy.file")
	}

	switch c.Browser.Driver {
	case DriverPlaywright, DriverSim:
	default:
		return invalid("browser.driver must be %s or %s, got %q", DriverPlaywright, DriverSim, c.Browser.Driver)
	}
	if c.Browser.SlowMo < 0 || c.Browser.LaunchTimeout < 0 {
		return invalid("browser.slow_mo and browser.launch_timeout must be zero or positive")
	}

	if err := c.Pipeline.WithDefaults().Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "pipeline: "+err.Error())
	}
	if err := c.Selectors.WithDefaults().Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "selectors: "+err.Error())
	}

	if c.Captcha.MaxPolls < 0 || c.Captcha.PollInterval < 0 {
		return invalid("captcha.max_polls and captcha.poll_interval must be zero or positive")
	}
	if c.Bus.Enabled && strings.TrimSpace(c.Bus.URL) == "" {
		return invalid("bus.url is required when the bus is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "logging.level: "+err.Error())
	}
	return nil
}

// CaptchaEnabled reports whether a solver should be wired.
func (c *Config) CaptchaEnabled() bool {
	return strings.TrimSpace(c.Captcha.APIKey) != ""
}

func wrapLoadError(err error, path string) error {
	if apperrors.GetCode(err) == apperrors.ErrCodeConfigParse {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, fmt.Sprintf("loading config from %s", path)).
		WithContext("path", path)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandHomeDir(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home := homeDir(); home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "", "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}
