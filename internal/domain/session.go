/**
 * @description
 * Session domain models. A Session is the authenticated principal for one
 * app instance; its validity window is owned by the session lifecycle
 * manager, which is the single writer of session state.
 */

package domain

import "time"

// AppState mirrors the mobile OS application lifecycle states that the
// session manager reconciles against.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// Valid reports whether the value is one of the recognized lifecycle states.
func (s AppState) Valid() bool {
	switch s {
	case AppStateActive, AppStateInactive, AppStateBackground:
		return true
	}
	return false
}

// Session represents the authenticated principal and its validity window.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"-"`
	LastActiveAt time.Time `json:"last_active_at"`
}
