package session

import (
	"sync"
	"time"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// DefaultIdleMinutes replaces a negative idle threshold passed to
// Resolve; 0 keeps its meaning of destroy-after-reply.
const DefaultIdleMinutes = 1440

// sweepInterval bounds how promptly idle sessions get reaped; it is
// independent of any one session's configured idle threshold.
const sweepInterval = time.Minute

// HeartbeatFunc fires when a session's heartbeat timer elapses. The
// manager re-arms the timer after every Touch; the callback decides
// whether to actually spawn the agent (it runs on its own goroutine).
type HeartbeatFunc func(sess *Session)

// Manager is the single owner of all live sessions (§9 design note).
// Tasks interact with sessions only through the handles this type hands
// out, never by holding a session map of their own.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	onHeartbeat HeartbeatFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager. onHeartbeat is invoked (off the
// manager's lock) whenever a session's re-armed heartbeat timer fires.
func NewManager(onHeartbeat HeartbeatFunc) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		onHeartbeat: onHeartbeat,
		stopCh:      make(chan struct{}),
	}
}

// SetHeartbeatFunc assigns the heartbeat callback after construction,
// for callers whose callback itself needs a reference to the Manager
// (e.g. the auto-reply engine). Must be called before Start; not safe
// for concurrent use with a running sweeper.
func (m *Manager) SetHeartbeatFunc(f HeartbeatFunc) {
	m.onHeartbeat = f
}

// Start launches the idle-expiry sweeper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper and terminates every live session.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.terminate()
	}
}

// Resolve returns the session for key, creating it if absent. The
// second return value is true when a new session was created.
func (m *Manager) Resolve(key string, kind provider.Kind, to string, idleMinutes, heartbeatMinutes int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		s.mu.Lock()
		s.touch()
		s.mu.Unlock()
		m.rearmHeartbeat(s)
		return s, false
	}

	if idleMinutes <= 0 && idleMinutes != 0 {
		idleMinutes = DefaultIdleMinutes
	}

	s := &Session{
		Key:              key,
		Provider:         kind,
		To:               to,
		CreatedAt:        time.Now(),
		idleMinutes:      idleMinutes,
		heartbeatMinutes: heartbeatMinutes,
	}
	s.touch()
	m.sessions[key] = s
	m.rearmHeartbeat(s)

	L_info("session: created", "key", key, "provider", kind, "idleMinutes", idleMinutes)
	return s, true
}

// Destroy terminates and removes a session immediately, regardless of
// its idle threshold — used for idleMinutes==0 sessions right after
// their reply completes.
func (m *Manager) Destroy(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		s.terminate()
	}
}

// Reschedule stamps key's last-activity and re-arms its heartbeat
// timer, exactly as Resolve does for an existing session. A heartbeat
// firing is itself treated as activity so the periodic schedule
// continues (§4.7 "a new inbound reschedules the heartbeat").
func (m *Manager) Reschedule(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	m.rearmHeartbeat(s)
}

// rearmHeartbeat (re)starts a session's heartbeat timer for
// heartbeatMinutes after now. Resolve calls it with the manager lock
// held, Reschedule without; it takes only the session lock itself.
func (m *Manager) rearmHeartbeat(s *Session) {
	if s.heartbeatMinutes <= 0 || m.onHeartbeat == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	interval := time.Duration(s.heartbeatMinutes) * time.Minute
	if s.heartbeatTimer == nil {
		s.heartbeatTimer = time.AfterFunc(interval, func() { m.fireHeartbeat(s) })
	} else {
		s.heartbeatTimer.Reset(interval)
	}
}

func (m *Manager) fireHeartbeat(s *Session) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return
	}
	L_debug("session: heartbeat fired", "key", s.Key)
	m.onHeartbeat(s)
}

// sweep destroys every session whose idle threshold has elapsed.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for key, s := range m.sessions {
		s.mu.Lock()
		idle := s.idleMinutes
		last := s.lastActivity
		s.mu.Unlock()

		if idle > 0 && now.Sub(last) >= time.Duration(idle)*time.Minute {
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		L_info("session: idle expiry", "key", s.Key)
		s.terminate()
	}
}

// Count returns the number of live sessions (diagnostics only).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
