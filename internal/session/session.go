package session

import (
	"sync"
	"time"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// Agent is the minimal shape the session manager needs from whatever
// owns the running subprocess for a session — kept here so this
// package does not import the agent package; *agent.Agent satisfies it
// without importing session either.
type Agent interface {
	// Terminate stops the subprocess; called when the session is destroyed.
	Terminate()
}

// Session is a single conversational context: one sender (or the whole
// relay, for global scope), at most one running agent subprocess, and
// a heartbeat timer that both own for their lifetime (§9 "Session
// state" design note — the manager is the single owner; callers act
// through this handle).
type Session struct {
	Key      string
	Provider provider.Kind
	To       string // destination identifier used to send heartbeat replies
	Intro    string // identity prompt computed once, at creation

	CreatedAt time.Time

	mu               sync.Mutex // serialises agent invocation for this session
	lastActivity     time.Time
	idleMinutes      int
	heartbeatMinutes int
	heartbeatTimer   *time.Timer
	agent            Agent
	destroyed        bool
}

// Lock acquires the per-session lock serialising agent stdin writes.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// SetAgent records the running agent handle. Caller must hold the lock.
func (s *Session) SetAgent(a Agent) { s.agent = a }

// GetAgent returns the running agent handle, or nil. Caller must hold the lock.
func (s *Session) GetAgent() Agent { return s.agent }

// touch stamps last-activity to now. Caller must hold the lock or call
// before sharing the session across goroutines.
func (s *Session) touch() { s.lastActivity = time.Now() }

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// IdleMinutes returns the configured idle-expiry threshold (0 = destroy
// immediately after the reply completes).
func (s *Session) IdleMinutes() int { return s.idleMinutes }

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
}

// terminate tears down the session's subprocess and timers. Idempotent.
func (s *Session) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.stopHeartbeatLocked()
	if s.agent != nil {
		s.agent.Terminate()
		s.agent = nil
	}
	L_debug("session: destroyed", "key", s.Key)
}
