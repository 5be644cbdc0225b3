package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

type countingAgent struct {
	terminated int32
}

func (a *countingAgent) Terminate() { atomic.AddInt32(&a.terminated, 1) }

func TestResolveCreatesOnceAndReuses(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	s1, isNew1 := m.Resolve("alice", provider.KindWAWeb, "+15551234567", 1440, 0)
	if !isNew1 {
		t.Fatal("expected first resolve to create a new session")
	}
	s2, isNew2 := m.Resolve("alice", provider.KindWAWeb, "+15551234567", 1440, 0)
	if isNew2 {
		t.Fatal("expected second resolve to reuse the existing session")
	}
	if s1 != s2 {
		t.Fatal("expected the same session instance back")
	}
}

func TestDestroyTerminatesAgent(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	s, _ := m.Resolve("bob", provider.KindWAWeb, "+15557654321", 0, 0)
	agent := &countingAgent{}
	s.Lock()
	s.SetAgent(agent)
	s.Unlock()

	m.Destroy("bob")

	if atomic.LoadInt32(&agent.terminated) != 1 {
		t.Error("expected agent to be terminated exactly once")
	}
	if m.Count() != 0 {
		t.Error("expected session to be removed from the manager")
	}
}

func TestDestroyTwiceIsSafe(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	s, _ := m.Resolve("carol", provider.KindWAWeb, "+15550001111", 1440, 0)
	agent := &countingAgent{}
	s.Lock()
	s.SetAgent(agent)
	s.Unlock()

	m.Destroy("carol")
	m.Destroy("carol") // key no longer present; must not panic or double-terminate

	if atomic.LoadInt32(&agent.terminated) != 1 {
		t.Errorf("expected exactly one termination, got %d", agent.terminated)
	}
}

func TestHeartbeatTimerFiresCallback(t *testing.T) {
	fired := make(chan string, 4)
	m := NewManager(func(s *Session) { fired <- s.Key })
	defer m.Stop()

	m.Resolve("dora", provider.KindTelegram, "@dora", 1440, 1) // effectively instant below via tiny interval
	// Replace the real timer with a hand-armed 10ms one wired to
	// fireHeartbeat instead of waiting a full minute.
	m.mu.Lock()
	s := m.sessions["dora"]
	m.mu.Unlock()
	s.mu.Lock()
	s.heartbeatMinutes = 0 // stop the real 1-minute timer from also firing
	s.stopHeartbeatLocked()
	s.heartbeatTimer = time.AfterFunc(10*time.Millisecond, func() { m.fireHeartbeat(s) })
	s.mu.Unlock()

	select {
	case key := <-fired:
		if key != "dora" {
			t.Errorf("got key %q, want dora", key)
		}
	case <-time.After(time.Second):
		t.Fatal("heartbeat never fired")
	}
}
