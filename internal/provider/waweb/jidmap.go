package waweb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
)

// jidMap is the on-disk JID→E.164 reverse mapping consulted for
// messages delivered with LID addressing, where the event's Sender is
// an opaque linked-id rather than a phone number (spec §4.2, §6).
type jidMap struct {
	path string

	mu      sync.Mutex
	entries map[string]string // lid -> E.164
}

func jidMapFileName(deviceID string) string {
	if deviceID == "" {
		deviceID = "pending"
	}
	return fmt.Sprintf("lid-mapping-%s_reverse.json", deviceID)
}

func newJIDMap() (*jidMap, error) {
	dir, err := paths.CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("resolve credentials dir: %w", err)
	}
	if err := paths.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("ensure credentials dir: %w", err)
	}

	m := &jidMap{
		path:    filepath.Join(dir, jidMapFileName("pending")),
		entries: make(map[string]string),
	}
	m.load()
	return m, nil
}

// Rebind moves the map to the filename keyed by the now-known device
// ID, once pairing has completed (the file starts out at the "pending"
// name since the device ID isn't known before the first successful
// connect).
func (m *jidMap) Rebind(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.path)
	newPath := filepath.Join(dir, jidMapFileName(deviceID))
	if newPath == m.path {
		return
	}
	if _, err := os.Stat(m.path); err == nil {
		_ = os.Rename(m.path, newPath)
	}
	m.path = newPath
}

func (m *jidMap) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return // absent file means empty map; not an error
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		L_warn("wa-web: corrupt JID reverse map, starting fresh", "path", m.path, "error", err)
		return
	}
	m.entries = entries
}

func (m *jidMap) save() {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		L_warn("wa-web: failed to marshal JID reverse map", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		L_warn("wa-web: failed to persist JID reverse map", "path", m.path, "error", err)
	}
}

// Resolve looks up the E.164 number for a LID. ok is false if the
// mapping is missing — callers must drop the message rather than
// surface a non-addressable sender (spec §4.2).
func (m *jidMap) Resolve(lid string) (e164 string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e164, ok = m.entries[lid]
	return e164, ok
}

// Record persists a newly-observed LID→E.164 pair.
func (m *jidMap) Record(lid, e164 string) {
	m.mu.Lock()
	m.entries[lid] = e164
	m.mu.Unlock()
	m.save()
}
