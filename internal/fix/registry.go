package fix

import (
	"sync"
	"time"

	"github.com/quickfixgo/quickfix"
)

// Role classifies a session by its function in the gateway.
type Role string

const (
	// RoleDropCopy is the inbound-only acceptor mirroring the primary
	// terminal's activity.
	RoleDropCopy Role = "drop-copy"
	// RoleOrderEntry is the initiator used to inject shadow orders.
	RoleOrderEntry Role = "order-entry"
	// RoleUnknown is assigned to sessions matching no configured identity.
	RoleUnknown Role = "unknown"
)

type sessionState struct {
	id        quickfix.SessionID
	role      Role
	loggedOn  bool
	lastLogon time.Time
}

// SessionRegistry tracks every session the gateway owns, its role, and its
// logon state. It is the single source of truth for "where do outbound
// orders go" via FindLoggedOnInitiator.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[quickfix.SessionID]*sessionState
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[quickfix.SessionID]*sessionState)}
}

// Register records a session under the given role. Re-registering an existing
// session updates its role and preserves logon state.
func (r *SessionRegistry) Register(id quickfix.SessionID, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.role = role
		return
	}
	r.sessions[id] = &sessionState{id: id, role: role}
}

// SetLoggedOn flips the logon state of a session.
func (r *SessionRegistry) SetLoggedOn(id quickfix.SessionID, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &sessionState{id: id, role: RoleUnknown}
		r.sessions[id] = s
	}
	s.loggedOn = on
	if on {
		s.lastLogon = time.Now()
	}
}

// RoleOf returns the role the session was registered under.
func (r *SessionRegistry) RoleOf(id quickfix.SessionID) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok {
		return s.role
	}
	return RoleUnknown
}

// FindLoggedOnInitiator returns a logged-on order-entry session, if any.
func (r *SessionRegistry) FindLoggedOnInitiator() (quickfix.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.role == RoleOrderEntry && s.loggedOn {
			return s.id, true
		}
	}
	return quickfix.SessionID{}, false
}

// SessionsByRole enumerates sessions registered under the role.
func (r *SessionRegistry) SessionsByRole(role Role) []quickfix.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []quickfix.SessionID
	for _, s := range r.sessions {
		if s.role == role {
			out = append(out, s.id)
		}
	}
	return out
}

// IsLoggedOn reports the logon state of one session.
func (r *SessionRegistry) IsLoggedOn(id quickfix.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.loggedOn
}
