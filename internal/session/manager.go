// Package session owns authentication state: credential exchange, startup
// restoration, inactivity expiry, and identity-change notification.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
)

// ErrLoginInFlight is returned when Login is called while another login
// attempt has not finished.
var ErrLoginInFlight = errors.New("login already in flight")

// Listener observes identity changes. A nil identity means signed out.
type Listener func(identity *model.Identity)

// Manager drives the session lifecycle against the backend auth surface.
// While authenticated, an inactivity timer runs; Touch resets it, and an
// uninterrupted expiry tears the backend session down exactly once.
type Manager struct {
	auth       backend.Auth
	inactivity time.Duration
	log        *slog.Logger

	mu        sync.Mutex
	state     State
	identity  *model.Identity
	session   *backend.Session
	timer     *time.Timer
	timerSeq  int
	listeners []Listener
	onExpire  []func()
}

func NewManager(auth backend.Auth, inactivity time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		auth:       auth,
		inactivity: inactivity,
		log:        log,
		state:      StateUnauthenticated,
	}
}

// OnChange registers an identity-change listener. Listeners fire after
// every transition into or out of the authenticated state.
func (m *Manager) OnChange(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnExpire registers a hook fired only on inactivity expiry, so the UI
// can tell a forced sign-out apart from a deliberate one.
func (m *Manager) OnExpire(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = append(m.onExpire, fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the signed-in identity, or nil.
func (m *Manager) Current() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	ident := *m.identity
	return &ident
}

// Login exchanges credentials for a session and resolves the profile.
// If the profile cannot be resolved after a successful exchange, the
// backend session is torn down: a session without a local identity is
// not a state this client ever holds.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	if m.state == StateAuthenticating {
		m.mu.Unlock()
		return ErrLoginInFlight
	}
	m.state = StateAuthenticating
	m.mu.Unlock()

	sess, err := m.auth.Authenticate(ctx, email, password)
	if err != nil {
		m.setUnauthenticated()
		return err
	}

	ident, err := m.auth.FetchProfile(ctx, sess.IdentityID)
	if err != nil {
		if terr := m.auth.InvalidateSession(ctx, sess); terr != nil {
			m.log.Warn("session teardown after profile failure failed", "error", terr)
		}
		m.setUnauthenticated()
		return fmt.Errorf("resolve profile: %w", err)
	}

	m.setAuthenticated(sess, ident)
	return nil
}

// Restore resolves an existing backend session at startup. The absence
// of a session is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	sess, err := m.auth.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if sess == nil {
		return nil
	}

	ident, err := m.auth.FetchProfile(ctx, sess.IdentityID)
	if err != nil {
		if terr := m.auth.InvalidateSession(ctx, *sess); terr != nil {
			m.log.Warn("session teardown after profile failure failed", "error", terr)
		}
		return fmt.Errorf("resolve restored profile: %w", err)
	}

	m.setAuthenticated(*sess, ident)
	return nil
}

// Touch records a qualifying user interaction and re-arms the inactivity
// timer. Calling it while unauthenticated does nothing.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return
	}
	m.armTimerLocked()
}

// Logout invalidates the backend session and clears the identity. It is
// idempotent: calling it while unauthenticated is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	sess := m.session
	m.clearLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	var err error
	if sess != nil {
		if err = m.auth.InvalidateSession(ctx, *sess); err != nil {
			err = fmt.Errorf("invalidate session: %w", err)
		}
	}
	for _, fn := range listeners {
		fn(nil)
	}
	return err
}

func (m *Manager) setAuthenticated(sess backend.Session, ident model.Identity) {
	m.mu.Lock()
	m.state = StateAuthenticated
	m.session = &sess
	m.identity = &ident
	m.armTimerLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	current := ident
	for _, fn := range listeners {
		fn(&current)
	}
}

func (m *Manager) setUnauthenticated() {
	m.mu.Lock()
	m.state = StateUnauthenticated
	m.mu.Unlock()
}

// armTimerLocked replaces the pending expiry. The sequence number makes a
// stale timer that already fired into a no-op, so a re-arm racing the
// expiry callback can never terminate the session twice.
func (m *Manager) armTimerLocked() {
	if m.inactivity <= 0 {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.inactivity, func() { m.expire(seq) })
}

func (m *Manager) expire(seq int) {
	m.mu.Lock()
	if m.state != StateAuthenticated || seq != m.timerSeq {
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.clearLocked()
	listeners := append([]Listener(nil), m.listeners...)
	expireHooks := append([]func(){}, m.onExpire...)
	m.mu.Unlock()

	m.log.Info("session expired after inactivity", "window", m.inactivity)

	// The backend session may still be valid; it must be invalidated
	// explicitly or the token could be reused later.
	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.auth.InvalidateSession(ctx, *sess); err != nil {
			m.log.Warn("backend invalidation on expiry failed", "error", err)
		}
	}

	for _, fn := range listeners {
		fn(nil)
	}
	for _, fn := range expireHooks {
		fn()
	}
}

func (m *Manager) clearLocked() {
	m.state = StateUnauthenticated
	m.identity = nil
	m.session = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}
