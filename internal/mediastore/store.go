package mediastore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

// OrphanTTL is how long an unreleased temp file is allowed to sit before
// the startup sweep removes it.
const OrphanTTL = time.Hour

// FilePrefix names every file this store creates, so the sweep can
// distinguish its own orphans from anything else living in the directory.
const FilePrefix = "telegram-dl-"

// Handle is a streaming-download result. Release MUST be called on every
// exit path; it is idempotent and best-effort.
type Handle struct {
	Path        string
	Size        int64
	ContentType string
	release     func()
	released    bool
}

// Release deletes the backing file. Safe to call more than once.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	if h.release != nil {
		h.release()
	}
}

// Store manages the shared per-user temp directory for streaming downloads.
type Store struct {
	dir     string
	maxSize int64
}

// New creates a Store rooted at dir, enforcing maxSize bytes per download.
func New(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	return &Store{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// SweepOrphans removes files under FilePrefix older than OrphanTTL. It is
// called once at provider startup per §4.9.
func (s *Store) SweepOrphans() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		L_warn("mediastore: sweep failed to list directory", "dir", s.dir, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-OrphanTTL)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), FilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			L_trace("mediastore: failed to remove orphan", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		L_info("mediastore: swept orphaned temp files", "removed", removed)
	}
	return removed
}

// ErrMediaTooLarge is returned when a declared or observed size exceeds
// the store's configured cap.
type ErrMediaTooLarge struct {
	Limit    int64
	Observed int64
}

func (e *ErrMediaTooLarge) Error() string {
	return fmt.Sprintf("media size %d exceeds limit %d", e.Observed, e.Limit)
}

// DownloadURL streams url to a new temp file, enforcing maxSize both via
// a HEAD probe (when the host reports Content-Length) and via an inline
// size-tracking reader that aborts as soon as the cumulative byte count
// crosses the limit. The returned Handle's Release MUST be invoked by the
// caller on every exit path.
func (s *Store) DownloadURL(ctx context.Context, url string) (*Handle, error) {
	if headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil); err == nil {
		if resp, err := http.DefaultClient.Do(headReq); err == nil {
			resp.Body.Close()
			if cl := resp.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > s.maxSize {
					return nil, &ErrMediaTooLarge{Limit: s.maxSize, Observed: n}
				}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	name := FilePrefix + uuid.New().String() + ".tmp"
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	release := func() {
		os.Remove(path)
	}

	limited := &sizeTrackingReader{r: resp.Body, limit: s.maxSize}
	written, err := io.Copy(f, limited)
	closeErr := f.Close()
	if err != nil {
		release()
		return nil, err
	}
	if closeErr != nil {
		release()
		return nil, fmt.Errorf("close temp file: %w", closeErr)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		if detected, err := mimetype.DetectFile(path); err == nil {
			contentType = detected.String()
		}
	}

	return &Handle{
		Path:        path,
		Size:        written,
		ContentType: contentType,
		release:     release,
	}, nil
}

// sizeTrackingReader wraps an io.Reader and errors as soon as the
// cumulative byte count read exceeds limit, aborting the transfer
// mid-stream rather than after the fact.
type sizeTrackingReader struct {
	r     io.Reader
	limit int64
	total int64
}

func (s *sizeTrackingReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.total += int64(n)
	if s.total > s.limit {
		return n, &ErrMediaTooLarge{Limit: s.limit, Observed: s.total}
	}
	return n, err
}
