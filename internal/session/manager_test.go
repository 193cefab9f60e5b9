package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rosebank/pix-service/internal/domain"
)

// fakeAuth is a configurable AuthProvider for tests.
type fakeAuth struct {
	mu             sync.Mutex
	getSessionFn   func(ctx context.Context, accessToken string) (*domain.Session, error)
	signInFn       func(ctx context.Context, identifier, secret string) (*domain.Session, error)
	signOutErr     error
	signOutCalls   int
	getSessionCall int
}

func (f *fakeAuth) GetSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	f.mu.Lock()
	f.getSessionCall++
	fn := f.getSessionFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, accessToken)
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, identifier, secret string) (*domain.Session, error) {
	if f.signInFn == nil {
		return &domain.Session{UserID: "user-1", Email: identifier, AccessToken: "token-1"}, nil
	}
	return f.signInFn(ctx, identifier, secret)
}

func (f *fakeAuth) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeAuth) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

func validRemoteSession() func(ctx context.Context, accessToken string) (*domain.Session, error) {
	return func(ctx context.Context, accessToken string) (*domain.Session, error) {
		return &domain.Session{UserID: "user-1", AccessToken: accessToken}, nil
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSignIn_StartsInactivityTimer(t *testing.T) {
	auth := &fakeAuth{}
	nav := &ResetRecorder{}
	m := NewManager(auth, nav, 40*time.Millisecond)

	sess, err := m.SignIn(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if sess.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", sess.UserID)
	}
	if !m.IsAuthenticated() {
		t.Fatal("expected authenticated state after sign-in")
	}
	if _, scheduled := m.IdleDeadline(); !scheduled {
		t.Fatal("expected inactivity timer to be scheduled after sign-in")
	}

	// With no activity the timer must fire and tear the session down.
	if !waitFor(t, 500*time.Millisecond, func() bool { return !m.IsAuthenticated() }) {
		t.Fatal("expected inactivity timeout to log the session out")
	}
	if route, pending := nav.Peek(); !pending || route != RouteWelcome {
		t.Fatalf("expected navigation reset to %q, got (%q, %v)", RouteWelcome, route, pending)
	}
	if !waitFor(t, 500*time.Millisecond, func() bool { return auth.signOutCount() == 1 }) {
		t.Fatalf("expected one remote sign-out, got %d", auth.signOutCount())
	}
}

func TestResetActivityTimer_PushesDeadlineForward(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, &ResetRecorder{}, 60*time.Millisecond)
	if _, err := m.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}

	// Keep resetting inside the window; the session must survive well past
	// the original deadline.
	for i := 0; i < 6; i++ {
		time.Sleep(25 * time.Millisecond)
		m.ResetActivityTimer()
		if !m.IsAuthenticated() {
			t.Fatalf("session expired despite activity at iteration %d", i)
		}
	}

	// Stop interacting; the timeout must now fire.
	if !waitFor(t, 500*time.Millisecond, func() bool { return !m.IsAuthenticated() }) {
		t.Fatal("expected logout once activity stopped")
	}
}

func TestOnIdleTimeout_SupersededTimerDoesNotLogOut(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, &ResetRecorder{}, time.Minute)
	if _, err := m.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}

	superseded, _ := m.IdleDeadline()
	time.Sleep(time.Millisecond)
	m.ResetActivityTimer()

	// The old timer fires after the reset already replaced its deadline;
	// the session the user just touched must survive.
	m.onIdleTimeout(superseded)
	if !m.IsAuthenticated() {
		t.Fatal("a superseded timer firing must not tear the session down")
	}
	if got := auth.signOutCount(); got != 0 {
		t.Fatalf("expected no remote sign-out, got %d", got)
	}

	// A firing timer that still owns the current deadline logs out.
	current, _ := m.IdleDeadline()
	m.onIdleTimeout(current)
	if m.IsAuthenticated() {
		t.Fatal("the current timer firing must log the session out")
	}
}

func TestResetActivityTimer_NoOpWhenUnauthenticated(t *testing.T) {
	m := NewManager(&fakeAuth{}, &ResetRecorder{}, time.Minute)

	m.ResetActivityTimer()

	if _, scheduled := m.IdleDeadline(); scheduled {
		t.Fatal("reset on an unauthenticated manager must not schedule a timer")
	}
}

func TestLogout_IsIdempotent(t *testing.T) {
	auth := &fakeAuth{}
	nav := &ResetRecorder{}
	m := NewManager(auth, nav, time.Minute)
	if _, err := m.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("first Logout returned error: %v", err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout returned error: %v", err)
	}

	if m.IsAuthenticated() {
		t.Fatal("expected unauthenticated state after logout")
	}
	if _, scheduled := m.IdleDeadline(); scheduled {
		t.Fatal("expected no timer after logout")
	}
	if got := auth.signOutCount(); got != 1 {
		t.Fatalf("expected exactly one remote sign-out, got %d", got)
	}
}

func TestLogout_ReturnsRemoteErrorAfterTeardown(t *testing.T) {
	auth := &fakeAuth{signOutErr: errors.New("network down")}
	nav := &ResetRecorder{}
	m := NewManager(auth, nav, time.Minute)
	if _, err := m.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}

	err := m.Logout(context.Background())
	if err == nil {
		t.Fatal("expected Logout to surface the remote error")
	}
	if m.IsAuthenticated() {
		t.Fatal("local state must be cleared even when remote sign-out fails")
	}
	if route, pending := nav.Peek(); !pending || route != RouteWelcome {
		t.Fatalf("navigation must be reset even when remote sign-out fails, got (%q, %v)", route, pending)
	}
}

func TestCheckSession_FailsClosedOnError(t *testing.T) {
	auth := &fakeAuth{
		getSessionFn: func(ctx context.Context, accessToken string) (*domain.Session, error) {
			return nil, errors.New("timeout")
		},
	}
	m := NewManager(auth, &ResetRecorder{}, time.Minute)

	if err := m.CheckSession(context.Background(), "some-token"); err != nil {
		t.Fatalf("CheckSession must not propagate remote errors, got: %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatal("expected unauthenticated state when the remote check fails")
	}
}

func TestCheckSession_EstablishesValidSession(t *testing.T) {
	auth := &fakeAuth{getSessionFn: validRemoteSession()}
	m := NewManager(auth, &ResetRecorder{}, time.Minute)

	if err := m.CheckSession(context.Background(), "token-xyz"); err != nil {
		t.Fatalf("CheckSession returned error: %v", err)
	}
	if !m.IsAuthenticated() {
		t.Fatal("expected authenticated state for a valid remote session")
	}
	if _, scheduled := m.IdleDeadline(); !scheduled {
		t.Fatal("expected inactivity timer after establishing a session")
	}
}

func TestCheckSession_EmptyTokenIsUnauthenticated(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, &ResetRecorder{}, time.Minute)

	if err := m.CheckSession(context.Background(), ""); err != nil {
		t.Fatalf("CheckSession returned error: %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatal("expected unauthenticated state for an empty token")
	}
	if auth.getSessionCall != 0 {
		t.Fatalf("expected no remote call for an empty token, got %d", auth.getSessionCall)
	}
}

func TestOnAppStateChange_LeavingForegroundLogsOut(t *testing.T) {
	for _, next := range []domain.AppState{domain.AppStateBackground, domain.AppStateInactive} {
		t.Run(string(next), func(t *testing.T) {
			auth := &fakeAuth{}
			nav := &ResetRecorder{}
			m := NewManager(auth, nav, time.Minute)
			if _, err := m.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
				t.Fatalf("SignIn returned error: %v", err)
			}

			if err := m.OnAppStateChange(context.Background(), next); err != nil {
				t.Fatalf("OnAppStateChange returned error: %v", err)
			}
			if m.IsAuthenticated() {
				t.Fatal("expected immediate logout when the app leaves the foreground")
			}
			if got := auth.signOutCount(); got != 1 {
				t.Fatalf("expected one remote sign-out, got %d", got)
			}
			if route, pending := nav.Peek(); !pending || route != RouteWelcome {
				t.Fatalf("expected navigation reset to %q, got (%q, %v)", RouteWelcome, route, pending)
			}
		})
	}
}

func TestOnAppStateChange_ReturnToActiveKeepsValidSession(t *testing.T) {
	auth := &fakeAuth{getSessionFn: validRemoteSession()}
	m := NewManager(auth, &ResetRecorder{}, time.Minute)
	if err := m.CheckSession(context.Background(), "token-xyz"); err != nil {
		t.Fatalf("CheckSession returned error: %v", err)
	}

	// Simulate the OS transitions without the security logout in between by
	// starting from a non-active state on a still-authenticated manager.
	m.appState = domain.AppStateBackground

	if err := m.OnAppStateChange(context.Background(), domain.AppStateActive); err != nil {
		t.Fatalf("OnAppStateChange returned error: %v", err)
	}
	if !m.IsAuthenticated() {
		t.Fatal("expected session to survive a valid foreground check")
	}
	if _, scheduled := m.IdleDeadline(); !scheduled {
		t.Fatal("expected the inactivity timer to be rescheduled on foreground")
	}
}

func TestOnAppStateChange_ReturnToActiveForcesLocalLogoutWhenRemoteGone(t *testing.T) {
	auth := &fakeAuth{getSessionFn: validRemoteSession()}
	nav := &ResetRecorder{}
	m := NewManager(auth, nav, time.Minute)
	if err := m.CheckSession(context.Background(), "token-xyz"); err != nil {
		t.Fatalf("CheckSession returned error: %v", err)
	}

	// Remote session disappears while the app is backgrounded.
	auth.mu.Lock()
	auth.getSessionFn = func(ctx context.Context, accessToken string) (*domain.Session, error) {
		return nil, nil
	}
	auth.mu.Unlock()
	m.appState = domain.AppStateBackground

	if err := m.OnAppStateChange(context.Background(), domain.AppStateActive); err != nil {
		t.Fatalf("OnAppStateChange returned error: %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatal("expected forced local logout when the remote session is gone")
	}
	if got := auth.signOutCount(); got != 0 {
		t.Fatalf("forced local logout must not call remote sign-out, got %d calls", got)
	}
	if route, pending := nav.Peek(); !pending || route != RouteWelcome {
		t.Fatalf("expected navigation reset to %q, got (%q, %v)", RouteWelcome, route, pending)
	}
}

func TestOnAppStateChange_RejectsUnknownState(t *testing.T) {
	m := NewManager(&fakeAuth{}, &ResetRecorder{}, time.Minute)
	if err := m.OnAppStateChange(context.Background(), domain.AppState("suspended")); err == nil {
		t.Fatal("expected an error for an unknown app state")
	}
}

func TestRegistry_ReturnsSameManagerPerDevice(t *testing.T) {
	r := NewRegistry(&fakeAuth{}, time.Minute)

	m1, rec1 := r.Handle("device-a")
	m2, _ := r.Handle("device-a")
	m3, _ := r.Handle("device-b")

	if m1 != m2 {
		t.Fatal("expected the same manager for repeated device ids")
	}
	if m1 == m3 {
		t.Fatal("expected distinct managers for distinct device ids")
	}

	rec1.ResetTo(RouteWelcome)
	if route, ok := rec1.Consume(); !ok || route != RouteWelcome {
		t.Fatalf("expected pending reset %q, got (%q, %v)", RouteWelcome, route, ok)
	}
	if _, ok := rec1.Consume(); ok {
		t.Fatal("expected Consume to clear the pending reset")
	}
}
