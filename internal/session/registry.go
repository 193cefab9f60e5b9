/**
 * @description
 * This file contains the per-device session registry and the navigation
 * recorder. The service handles one session manager per device installation;
 * the registry hands out the manager for a device id, creating it lazily.
 *
 * The ResetRecorder is the transport-facing Navigator: instead of driving a
 * navigation stack directly, it records the pending reset so the next HTTP
 * response can carry a `reset_to` directive for the client to act on.
 *
 * @dependencies
 * - sync: Standard Go library.
 */

package session

import (
	"sync"
	"time"
)

// ResetRecorder records the most recent forced navigation reset until the
// client consumes it.
type ResetRecorder struct {
	mu      sync.Mutex
	route   string
	pending bool
}

// ResetTo implements Navigator.
func (r *ResetRecorder) ResetTo(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = route
	r.pending = true
}

// Consume returns the pending reset route, if any, and clears it.
func (r *ResetRecorder) Consume() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return "", false
	}
	r.pending = false
	return r.route, true
}

// Peek returns the pending reset route without clearing it.
func (r *ResetRecorder) Peek() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route, r.pending
}

type registryEntry struct {
	manager  *Manager
	recorder *ResetRecorder
}

// Registry owns one Manager per device id.
type Registry struct {
	auth    AuthProvider
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry. All managers it creates share the
// auth provider and the inactivity timeout.
func NewRegistry(auth AuthProvider, timeout time.Duration) *Registry {
	return &Registry{
		auth:    auth,
		timeout: timeout,
		entries: make(map[string]*registryEntry),
	}
}

// Handle returns the manager and navigation recorder for a device id,
// creating them on first use.
func (r *Registry) Handle(deviceID string) (*Manager, *ResetRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[deviceID]
	if !ok {
		recorder := &ResetRecorder{}
		entry = &registryEntry{
			manager:  NewManager(r.auth, recorder, r.timeout),
			recorder: recorder,
		}
		r.entries[deviceID] = entry
	}
	return entry.manager, entry.recorder
}
