package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	"github.com/chrisalpuerto/parallel-sessions/pkg/browser/adapters/playwright"
	"github.com/chrisalpuerto/parallel-sessions/pkg/browser/adapters/sim"
	"github.com/chrisalpuerto/parallel-sessions/pkg/bus"
	"github.com/chrisalpuerto/parallel-sessions/pkg/captcha"
	"github.com/chrisalpuerto/parallel-sessions/pkg/config"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
	"github.com/chrisalpuerto/parallel-sessions/pkg/ipc"
	"github.com/chrisalpuerto/parallel-sessions/pkg/logging"
	"github.com/chrisalpuerto/parallel-sessions/pkg/pipeline"
	"github.com/chrisalpuerto/parallel-sessions/pkg/proxy"
	"github.com/chrisalpuerto/parallel-sessions/pkg/supervisor"
	"github.com/chrisalpuerto/parallel-sessions/pkg/telemetry"
)

// app holds everything a command needs, built from one loaded config.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	events   *telemetry.Hub
	tracer   *telemetry.TracerProvider
	browsers *browser.Manager
	proxies  *proxy.Pool
	hub      *ipc.Hub
	sup      *supervisor.Supervisor
	bus      bus.MessageBus
	bridge   *ipc.BusBridge
}

var loadConfigFn = func() (*config.Config, error) {
	if strings.TrimSpace(configPath) != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// loadConfig loads the config and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := loadConfigFn()
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if driverName != "" {
		cfg.Browser.Driver = strings.ToLower(driverName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

// newApp wires the supervisor and its collaborators. logOut receives the
// structured logs and, when tracing is enabled, the exported spans.
func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	a := &app{
		cfg:    cfg,
		logger: logging.New(logOut, "cli", level),
		events: telemetry.NewHub(),
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider("parallel-sessions", version, logOut)
		if err != nil {
			return nil, err
		}
		a.tracer = tp
	}

	driver, err := newDriver(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.browsers = browser.NewManager(driver)

	if cfg.Proxy.File != "" {
		pool, err := proxy.Load(cfg.Proxy.File)
		if err != nil {
			a.Close()
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading proxy file").
				WithContext("path", cfg.Proxy.File)
		}
		a.proxies = pool
	}

	var solver captcha.Solver
	if cfg.CaptchaEnabled() {
		solver = captcha.NewTwoCaptcha(cfg.Captcha.APIKey, captcha.Options{
			BaseURL:      cfg.Captcha.BaseURL,
			PollInterval: cfg.Captcha.PollInterval,
			MaxPolls:     cfg.Captcha.MaxPolls,
		})
	}

	a.hub = ipc.NewHub(a.logger)
	sup, err := supervisor.New(supervisor.Options{
		Pipeline: pipeline.Options{
			Config:    cfg.Pipeline,
			Selectors: cfg.Selectors,
			Browsers:  a.browsers,
			Solver:    solver,
		},
		Proxies:     a.proxies,
		Broadcaster: a.hub,
		Events:      a.events,
		Logger:      a.logger,
		Defaults: supervisor.Defaults{
			TargetURL:         cfg.Run.TargetURL,
			Sessions:          cfg.Run.Sessions,
			MaxSessions:       cfg.Run.MaxSessions,
			HeadedFirst:       cfg.Run.HeadedFirst,
			EmailTemplate:     cfg.Run.EmailTemplate,
			LaunchConcurrency: cfg.Run.LaunchConcurrency,
			SlowMo:            cfg.Browser.SlowMo,
			LaunchTimeout:     cfg.Browser.LaunchTimeout,
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sup = sup

	if cfg.Bus.Enabled {
		mb, err := bus.Open(bus.Config{URL: cfg.Bus.URL, Name: "parallel-sessions"})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.bus = mb
		a.bridge = ipc.NewBusBridge(mb, sup, cfg.Bus.SubjectPrefix, a.logger)
		a.hub.AddForwarder(a.bridge)
	}
	return a, nil
}

func newDriver(cfg *config.Config) (browser.Driver, error) {
	switch cfg.Browser.Driver {
	case config.DriverSim:
		return sim.New(pipeline.SimulatedSite(cfg.Selectors, pipeline.SiteOptions{})), nil
	default:
		return playwright.NewDriver(playwright.Config{
			Browser: cfg.Browser.Engine,
			Install: cfg.Browser.Install,
		})
	}
}

// startBackground starts the bus bridge and the proxy file watcher. Both stop with ctx.
func (a *app) startBackground(ctx context.Context, watchProxies bool) error {
	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return err
		}
	}
	if watchProxies && a.proxies != nil && a.cfg.Proxy.Watch {
		go func() {
			if err := a.proxies.Watch(ctx, a.logger); err != nil {
				a.logger.Warn("proxy watch stopped", "error", err)
			}
		}()
	}
	return nil
}

// Close stops every run and releases the browsers, the bus and the tracer.
func (a *app) Close() {
	if a.sup != nil {
		_ = a.sup.Close()
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.browsers != nil {
		_ = a.browsers.Close()
	}
	a.events.Close()
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tracer.Shutdown(ctx)
	}
}
