package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/config"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

var envKeys = []string{
	"TARGET_SITE_URL",
	"CAPTCHA_API_KEY",
	"PARALLEL_SESSIONS_BIND",
	"PARALLEL_SESSIONS_COUNT",
	"PARALLEL_SESSIONS_DRIVER",
	"PARALLEL_SESSIONS_PROXY_FILE",
	"PARALLEL_SESSIONS_NATS_URL",
	"PARALLEL_SESSIONS_LOG_LEVEL",
	"PARALLEL_SESSIONS_AUTH_SECRET",
	"PARALLEL_SESSIONS_ALLOWED_ORIGINS",
}

// isolate points HOME and the working directory at fresh temp dirs and clears
// every override variable.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Chdir(project)
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Server.Bind != "127.0.0.1:8000" {
		t.Fatalf("unexpected default bind: %s", cfg.Server.Bind)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Run.Sessions != 5 || !cfg.Run.HeadedFirst {
		t.Fatalf("unexpected run defaults: %+v", cfg.Run)
	}
	if cfg.Pipeline.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.Pipeline.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".parallel-sessions", "config.yaml"), `
run:
  target_url: https://user.example.com/event
  sessions: 4
pipeline:
  max_retries: 5
`)
	writeFile(t, filepath.Join(project, ".parallel-sessions", "config.yaml"), `
run:
  sessions: 2
pipeline:
  retry_delay: 250ms
selectors:
  sold_out: "#gone"
`)
	t.Setenv("PARALLEL_SESSIONS_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Run.TargetURL != "https://user.example.com/event" {
		t.Fatalf("expected user target url, got %s", cfg.Run.TargetURL)
	}
	if cfg.Run.Sessions != 2 {
		t.Fatalf("expected project session count, got %d", cfg.Run.Sessions)
	}
	if cfg.Pipeline.MaxRetries != 5 {
		t.Fatalf("expected user max_retries, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.RetryDelay != 250*time.Millisecond {
		t.Fatalf("expected project retry_delay, got %s", cfg.Pipeline.RetryDelay)
	}
	if cfg.Pipeline.CompletionTimeout != 30*time.Second {
		t.Fatalf("expected untouched default completion_timeout, got %s", cfg.Pipeline.CompletionTimeout)
	}
	if cfg.Selectors.SoldOut != "#gone" || cfg.Selectors.Select == "" {
		t.Fatalf("expected merged selectors, got sold_out=%q select=%q", cfg.Selectors.SoldOut, cfg.Selectors.Select)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %s", cfg.Logging.Level)
	}
}

func TestEnvFileAndEnvironment(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(project, ".env"), `
# dashboard target
TARGET_SITE_URL="https://dotenv.example.com/e/1"
export CAPTCHA_API_KEY=from-dotenv
`)
	writeFile(t, filepath.Join(home, ".parallel-sessions", "config.env"), `
CAPTCHA_API_KEY=from-home
PARALLEL_SESSIONS_COUNT=7
`)
	t.Setenv("TARGET_SITE_URL", "https://env.example.com/e/2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Run.TargetURL != "https://env.example.com/e/2" {
		t.Fatalf("environment should win over env file, got %s", cfg.Run.TargetURL)
	}
	if cfg.Captcha.APIKey != "from-dotenv" {
		t.Fatalf("./.env should win over the home env file, got %s", cfg.Captcha.APIKey)
	}
	if !cfg.CaptchaEnabled() {
		t.Fatalf("expected captcha enabled with an api key")
	}
	if cfg.Run.Sessions != 7 {
		t.Fatalf("expected 7 sessions from home env file, got %d", cfg.Run.Sessions)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PARALLEL_SESSIONS_DRIVER", "SIM")
	t.Setenv("PARALLEL_SESSIONS_NATS_URL", "nats://bus:4222")
	t.Setenv("PARALLEL_SESSIONS_PROXY_FILE", "~/proxies.txt")
	t.Setenv("PARALLEL_SESSIONS_ALLOWED_ORIGINS", "http://localhost:3000, https://dash.example.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Browser.Driver != config.DriverSim {
		t.Fatalf("expected sim driver, got %s", cfg.Browser.Driver)
	}
	if !cfg.Bus.Enabled || cfg.Bus.URL != "nats://bus:4222" {
		t.Fatalf("expected bus enabled by NATS url, got %+v", cfg.Bus)
	}
	if cfg.Proxy.File != filepath.Join(os.Getenv("HOME"), "proxies.txt") {
		t.Fatalf("expected expanded proxy path, got %s", cfg.Proxy.File)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://dash.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestBadSessionCountEnvIsParseError(t *testing.T) {
	isolate(t)
	t.Setenv("PARALLEL_SESSIONS_COUNT", "many")

	_, err := config.Load()
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE, got %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "run.yaml")
	writeFile(t, path, `
browser:
  driver: sim
  slow_mo: 50ms
bus:
  enabled: true
  subject_prefix: tickets
`)

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}
	if cfg.Browser.SlowMo != 50*time.Millisecond {
		t.Fatalf("expected slow_mo 50ms, got %s", cfg.Browser.SlowMo)
	}
	if cfg.Bus.SubjectPrefix != "tickets" || cfg.Bus.URL == "" {
		t.Fatalf("unexpected bus config: %+v", cfg.Bus)
	}

	_, err = config.LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD for a missing file, got %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	writeFile(t, unknown, "run:\n  sesions: 3\n")
	if _, err := config.LoadFromPath(unknown); !apperrors.IsCode(err, apperrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE for an unknown key, got %v", err)
	}

	broken := filepath.Join(dir, "broken.yaml")
	writeFile(t, broken, "run: [\n")
	if _, err := config.LoadFromPath(broken); !apperrors.IsCode(err, apperrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE for broken yaml, got %v", err)
	}

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")
	if _, err := config.LoadFromPath(empty); err != nil {
		t.Fatalf("expected empty file to load, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad bind", func(c *config.Config) { c.Server.Bind = "nowhere" }},
		{"remote bind without auth", func(c *config.Config) { c.Server.Bind = "0.0.0.0:8000" }},
		{"short secret", func(c *config.Config) { c.Server.AuthSecret = "short" }},
		{"relative target", func(c *config.Config) { c.Run.TargetURL = "/event/1" }},
		{"zero sessions", func(c *config.Config) { c.Run.Sessions = 0 }},
		{"sessions above cap", func(c *config.Config) { c.Run.Sessions = config.DefaultMaxSessions + 1 }},
		{"negative concurrency", func(c *config.Config) { c.Run.LaunchConcurrency = -1 }},
		{"proxies without file", func(c *config.Config) { c.Run.UseProxies = true }},
		{"unknown driver", func(c *config.Config) { c.Browser.Driver = "selenium" }},
		{"negative slow mo", func(c *config.Config) { c.Browser.SlowMo = -time.Second }},
		{"negative retries", func(c *config.Config) { c.Pipeline.MaxRetries = -1 }},
		{"negative availability timeout", func(c *config.Config) { c.Pipeline.AvailabilityTimeout = -time.Second }},
		{"negative polls", func(c *config.Config) { c.Captcha.MaxPolls = -1 }},
		{"bus without url", func(c *config.Config) { c.Bus.Enabled = true; c.Bus.URL = "" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid) {
				t.Fatalf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

func TestRemoteBindWithSecretValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Bind = "0.0.0.0:8000"
	cfg.Server.AuthSecret = "0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected remote bind with a secret to validate, got %v", err)
	}
}
