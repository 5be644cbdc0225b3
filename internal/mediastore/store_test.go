package mediastore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreSweepOrphans(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fresh := filepath.Join(dir, FilePrefix+"fresh.tmp")
	stale := filepath.Join(dir, FilePrefix+"stale.tmp")
	other := filepath.Join(dir, "not-ours.tmp")

	for _, p := range []string{fresh, stale, other} {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	staleTime := time.Now().Add(-2 * OrphanTTL)
	if err := os.Chtimes(stale, staleTime, staleTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := s.SweepOrphans()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale file should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should survive: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("non-prefixed file should be left alone: %v", err)
	}
}

func TestDownloadURLRejectsOversizeByHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3221225472") // 3 GiB
		if r.Method == http.MethodHead {
			return
		}
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := New(dir, 2*1024*1024*1024) // 2 GiB cap
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.DownloadURL(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected rejection for oversize content-length")
	}
	var tooLarge *ErrMediaTooLarge
	if !strings.Contains(err.Error(), "exceeds limit") && !asErrMediaTooLarge(err, &tooLarge) {
		t.Errorf("expected size-limit error, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), FilePrefix) {
			t.Errorf("no temp file should remain after rejection, found %s", e.Name())
		}
	}
}

func TestDownloadURLAbortsMidStreamOnOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return // no Content-Length, forces the inline tracker to catch it
		}
		flusher, _ := w.(http.Flusher)
		chunk := make([]byte, 64)
		for i := 0; i < 10; i++ {
			w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, err := New(dir, 128) // small cap, well under the 640 bytes served
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := s.DownloadURL(context.Background(), srv.URL)
	if err == nil {
		h.Release()
		t.Fatal("expected mid-stream size rejection")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), FilePrefix) {
			t.Errorf("no temp file should remain after mid-stream rejection, found %s", e.Name())
		}
	}
}

func TestHandleReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FilePrefix+"x.tmp")
	if err := os.WriteFile(path, []byte("data"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	calls := 0
	h := &Handle{Path: path, release: func() { calls++; os.Remove(path) }}
	h.Release()
	h.Release()

	if calls != 1 {
		t.Errorf("release closure should run exactly once, ran %d times", calls)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should not exist after release")
	}
}

func asErrMediaTooLarge(err error, target **ErrMediaTooLarge) bool {
	if e, ok := err.(*ErrMediaTooLarge); ok {
		*target = e
		return true
	}
	return false
}
