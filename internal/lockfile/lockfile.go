// Package lockfile guards the configuration directory against concurrent
// clawdis instances. The credentials/session state underneath it is
// single-writer; running two relays against the same directory corrupts
// whatsmeow's sqlite store and the Telegram session file.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

// FileName is the lock file created inside the configuration directory.
const FileName = "clawdis.lock"

// Lock represents an acquired exclusive lock on a directory.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// Acquire takes an exclusive, non-blocking flock on <dir>/clawdis.lock.
// On failure it reports the PID already holding the lock, if readable.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		info := readLockInfo(path)
		L_error("lockfile: another instance is running", "path", path, "holder", info)
		return nil, &LockedError{Path: path, HeldBy: info, Cause: err}
	}

	if err := file.Truncate(0); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock metadata to %s: %w", path, err)
	}
	if _, err := file.WriteString(fmt.Sprintf("pid=%d\n", os.Getpid())); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock metadata to %s: %w", path, err)
	}
	_ = file.Sync()

	L_debug("lockfile: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path, acquired: true}, nil
}

// Release is idempotent: it unlocks, closes, and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || !l.acquired {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path)
	l.acquired = false
	L_debug("lockfile: released", "path", l.path)
	return nil
}

// LockedError is returned when another process already holds the lock.
type LockedError struct {
	Path   string
	HeldBy string
	Cause  error
}

func (e *LockedError) Error() string {
	msg := fmt.Sprintf("another clawdis instance is already using %s", filepath.Dir(e.Path))
	if e.HeldBy != "" {
		msg += " (" + e.HeldBy + ")"
	}
	return msg
}

func (e *LockedError) Unwrap() error { return e.Cause }

func readLockInfo(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	const prefix = "pid="
	idx := strings.Index(string(data), prefix)
	if idx < 0 {
		return ""
	}
	rest := string(data)[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil {
		return ""
	}
	if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
		return fmt.Sprintf("pid %d, running", pid)
	}
	return fmt.Sprintf("pid %d, stale", pid)
}
