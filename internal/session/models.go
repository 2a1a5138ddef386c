package session

import (
	"errors"
	"sync"
	"time"

	"github.com/hireloop/interview-engine/internal/interview"
)

// Status tracks a session's lifecycle from creation to archive.
type Status string

const (
	// StatusPending means the session was created but the client has not
	// connected yet.
	StatusPending Status = "pending"
	// StatusLive means a controller is running for this session.
	StatusLive Status = "live"
	// StatusCompleted means the interview finished normally.
	StatusCompleted Status = "completed"
	// StatusFailed means the session ended in an error state.
	StatusFailed Status = "failed"
)

var (
	// ErrSessionNotFound is returned when no session matches the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidToken is returned when a connect token is wrong, expired or
	// already consumed.
	ErrInvalidToken = errors.New("invalid or expired connect token")
	// ErrSessionActive is returned when an operation needs a finished
	// session but the interview is still running.
	ErrSessionActive = errors.New("session is still active")
	// ErrTooManySessions is returned when the concurrent session limit is hit.
	ErrTooManySessions = errors.New("too many concurrent sessions")
)

// Session is one mock interview from creation through archive. The connect
// token is single use: it authorizes exactly one client socket.
type Session struct {
	ID        string
	Config    interview.SessionConfig
	CreatedAt time.Time

	mu           sync.Mutex
	status       Status
	connectToken string
	tokenExpiry  time.Time
	controller   *interview.Controller
	endedAt      time.Time
	finalState   interview.State
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Controller returns the running controller, or nil when not live.
func (s *Session) Controller() *interview.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// EndedAt returns when the session reached a terminal state, zero if it
// has not.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// FinalState returns the controller's terminal state, empty while live.
func (s *Session) FinalState() interview.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalState
}
