/**
 * @description
 * This file contains the session lifecycle manager. The `Manager` owns the
 * authentication state for one app instance: it guarantees that an
 * authenticated session is automatically invalidated after a fixed period of
 * user inactivity or whenever the app leaves the foreground, and that
 * navigation is forcibly reset to the unauthenticated entry point whenever
 * that happens.
 *
 * Key properties:
 * - Single writer: only the manager mutates session state; readers get a
 *   mutex-guarded snapshot.
 * - A running inactivity timer exists if and only if the session is
 *   authenticated.
 * - Every remote failure degrades to the safe state (unauthenticated,
 *   navigation reset); security-sensitive transitions fail closed with no
 *   retries.
 *
 * @dependencies
 * - context, sync, time, log: Standard Go libraries.
 * - internal/domain: Session and app-state models.
 */

package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rosebank/pix-service/internal/domain"
)

// RouteWelcome is the unauthenticated entry route the navigation controller
// is reset to on every logout path.
const RouteWelcome = "welcome"

// AuthProvider is the remote auth/session platform consumed by the manager.
// GetSession returns (nil, nil) when the remote does not recognize the token.
type AuthProvider interface {
	GetSession(ctx context.Context, accessToken string) (*domain.Session, error)
	SignInWithPassword(ctx context.Context, identifier, secret string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Navigator receives forced navigation resets. It is the only outward
// surface the manager drives besides the auth provider.
type Navigator interface {
	ResetTo(route string)
}

// Manager owns one session and its inactivity window.
type Manager struct {
	auth    AuthProvider
	nav     Navigator
	timeout time.Duration

	mu       sync.Mutex
	session  *domain.Session
	appState domain.AppState
	timer    *time.Timer
	deadline time.Time
}

// NewManager creates a manager in the unauthenticated state. The timeout is
// the fixed inactivity window (3 minutes in production).
func NewManager(auth AuthProvider, nav Navigator, timeout time.Duration) *Manager {
	return &Manager{
		auth:     auth,
		nav:      nav,
		timeout:  timeout,
		appState: domain.AppStateActive,
	}
}

// IsAuthenticated reports whether a session is currently established.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Current returns a snapshot of the session, or nil when unauthenticated.
func (m *Manager) Current() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	snapshot := *m.session
	return &snapshot
}

// IdleDeadline returns the instant the inactivity timer will fire, and
// whether a timer is currently scheduled.
func (m *Manager) IdleDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline, m.timer != nil
}

// CheckSession queries the remote session provider once and establishes
// local state accordingly. On any error it defaults to unauthenticated
// (fail closed) and never blocks beyond the provider's own timeout.
func (m *Manager) CheckSession(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		m.clear(false)
		return nil
	}

	remote, err := m.auth.GetSession(ctx, accessToken)
	if err != nil {
		log.Printf("level=warn component=session msg=\"session check failed; defaulting to unauthenticated\" err=%v", err)
		m.clear(false)
		return nil
	}
	if remote == nil {
		m.clear(false)
		return nil
	}

	remote.AccessToken = accessToken
	m.establish(remote)
	return nil
}

// SignIn performs the credential exchange and, on success, establishes the
// session and starts the inactivity timer.
func (m *Manager) SignIn(ctx context.Context, identifier, secret string) (*domain.Session, error) {
	remote, err := m.auth.SignInWithPassword(ctx, identifier, secret)
	if err != nil {
		return nil, fmt.Errorf("credential exchange failed: %w", err)
	}
	m.establish(remote)
	snapshot := *remote
	return &snapshot, nil
}

// ResetActivityTimer clears any pending inactivity timer and, only if
// currently authenticated, schedules a new one for the fixed timeout. Called
// on every detected user interaction. No-op if not authenticated.
func (m *Manager) ResetActivityTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTimerLocked()
}

// resetTimerLocked assumes m.mu is held.
func (m *Manager) resetTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.session == nil {
		return
	}
	m.session.LastActiveAt = time.Now()
	m.deadline = time.Now().Add(m.timeout)
	scheduled := m.deadline
	m.timer = time.AfterFunc(m.timeout, func() { m.onIdleTimeout(scheduled) })
}

// onIdleTimeout fires when the inactivity window elapses with no activity.
// A timer that was superseded by a reset can still fire in flight; it must
// only log out if the deadline it was armed with is still the current one.
func (m *Manager) onIdleTimeout(scheduled time.Time) {
	m.mu.Lock()
	stale := m.session == nil || !m.deadline.Equal(scheduled)
	m.mu.Unlock()
	if stale {
		return
	}

	log.Printf("level=info component=session msg=\"inactivity timeout reached; logging out\"")
	if err := m.Logout(context.Background()); err != nil {
		log.Printf("level=warn component=session msg=\"remote sign-out failed during inactivity logout\" err=%v", err)
	}
}

// Logout is the idempotent teardown: it cancels the inactivity timer, clears
// in-memory identity state, issues a navigation reset to the unauthenticated
// entry screen, and invalidates the remote session. Local teardown and the
// navigation reset happen regardless of the remote outcome; the remote error
// is returned afterwards so callers can log or report it.
func (m *Manager) Logout(ctx context.Context) error {
	return m.logout(ctx, true)
}

func (m *Manager) logout(ctx context.Context, invalidateRemote bool) error {
	m.mu.Lock()
	var accessToken string
	if m.session != nil {
		accessToken = m.session.AccessToken
	}
	wasAuthenticated := m.session != nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.session = nil
	m.deadline = time.Time{}
	m.mu.Unlock()

	m.nav.ResetTo(RouteWelcome)

	if !invalidateRemote || !wasAuthenticated || accessToken == "" {
		return nil
	}
	if err := m.auth.SignOut(ctx, accessToken); err != nil {
		return fmt.Errorf("remote sign-out failed: %w", err)
	}
	return nil
}

// OnAppStateChange reconciles the session against an OS lifecycle
// transition. Leaving the foreground while authenticated is an immediate
// security boundary: logout fires with no grace period, stricter than the
// inactivity timer. Returning to the foreground triggers a fresh remote
// validity check.
func (m *Manager) OnAppStateChange(ctx context.Context, next domain.AppState) error {
	if !next.Valid() {
		return fmt.Errorf("unknown app state %q", next)
	}

	m.mu.Lock()
	prev := m.appState
	m.appState = next
	authenticated := m.session != nil
	var accessToken string
	if m.session != nil {
		accessToken = m.session.AccessToken
	}
	m.mu.Unlock()

	if prev == next {
		return nil
	}

	switch {
	case prev == domain.AppStateActive && next != domain.AppStateActive:
		if !authenticated {
			return nil
		}
		log.Printf("level=info component=session msg=\"app left foreground; logging out\" next_state=%s", next)
		return m.Logout(ctx)

	case prev != domain.AppStateActive && next == domain.AppStateActive:
		if !authenticated {
			return nil
		}
		remote, err := m.auth.GetSession(ctx, accessToken)
		if err != nil || remote == nil {
			if err != nil {
				log.Printf("level=warn component=session msg=\"session check on foreground failed; forcing local logout\" err=%v", err)
			}
			// Session already gone server-side: local teardown only, no
			// remote invalidation call.
			return m.logout(ctx, false)
		}
		m.ResetActivityTimer()
		return nil
	}

	return nil
}

// establish installs a session as the single source of truth and starts the
// inactivity timer.
func (m *Manager) establish(s *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	copied := *s
	if copied.LastActiveAt.IsZero() {
		copied.LastActiveAt = time.Now()
	}
	m.session = &copied
	m.resetTimerLocked()
}

// clear drops local state without touching the remote session; used when
// there was nothing to tear down.
func (m *Manager) clear(resetNavigation bool) {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.session = nil
	m.deadline = time.Time{}
	m.mu.Unlock()
	if resetNavigation {
		m.nav.ResetTo(RouteWelcome)
	}
}
