package loginmanager

import (
	"sync"

	admission "github.com/goliatone/go-admission"
)

// DefaultBackgroundColor is used when the landing URL carries no bgc.
const DefaultBackgroundColor = "#ffffff"

// SessionUser is the identity currently signed in.
type SessionUser struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Org      string             `json:"org"`
	Role     admission.UserRole `json:"role"`
	Domain   string             `json:"domain,omitempty"`
	Verified bool               `json:"verified"`
}

// SessionState is everything the manager keeps for a client.
type SessionState struct {
	User   SessionUser
	Token  string
	Lang   string
	Bgc    string
	Manage bool
	State  State
}

// Session stores the client state. Implementations must apply Update
// atomically so readers never see half of a sign in.
type Session interface {
	Snapshot() SessionState
	Update(func(*SessionState))
}

// MemorySession keeps the state in process memory.
type MemorySession struct {
	mu    sync.RWMutex
	state SessionState
}

var _ Session = (*MemorySession)(nil)

func NewMemorySession() *MemorySession {
	return &MemorySession{state: SessionState{
		User:  SessionUser{Role: admission.RoleGuest},
		Bgc:   DefaultBackgroundColor,
		State: StateGuest,
	}}
}

func (s *MemorySession) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemorySession) Update(fn func(*SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}
