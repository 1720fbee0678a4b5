package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Session bundles the browser, context and page opened for one pipeline.
// Close releases all three exactly once, however many times it is called.
type Session struct {
	Key     string
	Browser Browser
	Context Context
	Page    Page

	once     sync.Once
	closeErr error
	onClose  func()
}

// Close tears down page, context and browser in that order.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		var errs []error
		if s.Page != nil {
			if err := s.Page.Close(); err != nil && !IsClosed(err) {
				errs = append(errs, err)
			}
		}
		if s.Context != nil {
			if err := s.Context.Close(); err != nil && !IsClosed(err) {
				errs = append(errs, err)
			}
		}
		if s.Browser != nil {
			if err := s.Browser.Close(); err != nil && !IsClosed(err) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// Manager tracks open browser sessions for a driver.
type Manager struct {
	driver   Driver
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewManager creates a Manager backed by the provided driver.
func NewManager(driver Driver) *Manager {
	return &Manager{
		driver:   driver,
		sessions: make(map[string]*Session),
	}
}

// Open launches a browser, creates a context and a page, and registers them
// under key. Anything opened before a failure is closed again.
func (m *Manager) Open(ctx context.Context, key string, launch LaunchOptions, opts ContextOptions) (*Session, error) {
	if m == nil || m.driver == nil {
		return nil, ErrUnavailable
	}
	if key == "" {
		return nil, fmt.Errorf("session key is required")
	}
	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, key)
	}
	// Reserve the key so a concurrent Open cannot race us.
	m.sessions[key] = nil
	m.mu.Unlock()

	sess, err := m.open(ctx, key, launch, opts)
	m.mu.Lock()
	if err != nil {
		delete(m.sessions, key)
	} else {
		m.sessions[key] = sess
	}
	m.mu.Unlock()
	if err != nil {
		recordLaunchFailure()
		return nil, err
	}
	recordSessionOpened(launch.Headless)
	return sess, nil
}

func (m *Manager) open(ctx context.Context, key string, launch LaunchOptions, opts ContextOptions) (*Session, error) {
	b, err := m.driver.Launch(ctx, launch)
	if err != nil {
		return nil, WrapDriverError(CodeLaunch, "launch", "start browser", err)
	}
	bctx, err := b.NewContext(ctx, opts)
	if err != nil {
		_ = b.Close()
		return nil, WrapDriverError(CodeLaunch, "new_context", "create context", err)
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, WrapDriverError(CodeLaunch, "new_page", "open page", err)
	}
	sess := &Session{
		Key:     key,
		Browser: b,
		Context: bctx,
		Page:    Instrument(page),
	}
	sess.onClose = func() {
		m.forget(key, sess)
		recordSessionClosed()
	}
	return sess, nil
}

func (m *Manager) forget(key string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[key]; ok && current == sess {
		delete(m.sessions, key)
	}
}

// Get returns an open session by key.
func (m *Manager) Get(key string) (*Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	return sess, ok && sess != nil
}

// Release closes and removes a session.
func (m *Manager) Release(key string) error {
	if m == nil {
		return ErrUnavailable
	}
	m.mu.Lock()
	sess := m.sessions[key]
	m.mu.Unlock()
	if sess == nil {
		return ErrSessionClosed
	}
	return sess.Close()
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if sess != nil {
			n++
		}
	}
	return n
}

// Close closes all sessions and releases the driver.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	m.mu.Unlock()

	var lastErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			lastErr = err
		}
	}
	if m.driver != nil {
		if err := m.driver.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
