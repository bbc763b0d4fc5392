package fetchengine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		JitterFactor:  0,
		BackoffFactor: 1,
	}
}

// TestFetcherSizeMismatchExhaustsRetriesThenErrors: a descriptor whose declared size never matches what the server actually
// sends must retry up to the configured budget and then surface the
// specific mismatch status, with nothing left on disk.
func TestFetcherSizeMismatchExhaustsRetriesThenErrors(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, "wrong-size-body")
	}))
	defer srv.Close()

	destDir := t.TempDir()
	d := &FetchDescriptor{
		FileName:     "a.rpm",
		DownloadURL:  srv.URL,
		SavePath:     destDir,
		ExpectedSize: 99999, // never matches the body above
		ItemType:     ItemRPM,
	}

	f := NewFetcher(FetcherConfig{Retry: fastRetryConfig(2)}, nil)
	outcome := f.Fetch(context.Background(), d)

	if outcome.Status != StatusSizeMismatch {
		t.Fatalf("Status = %v, want %v (detail: %s)", outcome.Status, StatusSizeMismatch, outcome.Detail)
	}
	if requests != 3 { // initial attempt + 2 retries
		t.Errorf("requests = %d, want 3", requests)
	}
	if _, err := os.Stat(filepath.Join(destDir, "a.rpm")); !os.IsNotExist(err) {
		t.Errorf("expected no file left behind after exhausted retries, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "a.rpm.part")); !os.IsNotExist(err) {
		t.Errorf("expected no .part file left behind, stat err = %v", err)
	}
}

// TestFetcherResumesFromExistingPartialFile: a ".part" file already on disk from a prior attempt must be resumed via a
// Range request rather than redownloaded from byte zero.
func TestFetcherResumesFromExistingPartialFile(t *testing.T) {
	full := "0123456789ABCDEF"
	resumeFrom := 10

	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Accept-Ranges", "bytes")
		if gotRange != "" {
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, full[resumeFrom:])
			return
		}
		fmt.Fprint(w, full)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(destDir, "a.rpm.part"), []byte(full[:resumeFrom]), 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	d := &FetchDescriptor{
		FileName:     "a.rpm",
		DownloadURL:  srv.URL,
		SavePath:     destDir,
		ExpectedSize: int64(len(full)),
		ItemType:     ItemRPM,
	}

	f := NewFetcher(FetcherConfig{Retry: fastRetryConfig(1)}, nil)
	outcome := f.Fetch(context.Background(), d)

	if outcome.Status != StatusDownloaded {
		t.Fatalf("Status = %v, want %v (detail: %s)", outcome.Status, StatusDownloaded, outcome.Detail)
	}
	if gotRange == "" {
		t.Error("expected a Range header on the resumed request, got none")
	}

	data, err := os.ReadFile(filepath.Join(destDir, "a.rpm"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(data) != full {
		t.Errorf("final content = %q, want %q", data, full)
	}
}

// TestFetcherLockContentionRequeues: a descriptor
// whose canonical path is already locked by another live holder must come
// back as REQUEUE instead of being retried or errored in place.
func TestFetcherLockContentionRequeues(t *testing.T) {
	destDir := t.TempDir()
	d := &FetchDescriptor{
		FileName:    "a.rpm",
		DownloadURL: "file:///dev/null",
		SavePath:    destDir,
		ItemType:    ItemRPM,
	}

	held := NewLock(d.CanonicalPath())
	if err := held.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	f := NewFetcher(FetcherConfig{Retry: fastRetryConfig(1)}, nil)
	outcome := f.Fetch(context.Background(), d)

	if outcome.Status != StatusRequeue {
		t.Fatalf("Status = %v, want %v (detail: %s)", outcome.Status, StatusRequeue, outcome.Detail)
	}
}

// TestFetcherStopMidFlightAbortsDownload: canceling
// the context while a transfer is in flight must abort the in-progress
// download and report an error rather than hang or silently finish.
func TestFetcherStopMidFlightAbortsDownload(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "first-chunk-")
		if flusher != nil {
			flusher.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	defer srv.Close()
	defer close(unblock)

	destDir := t.TempDir()
	d := &FetchDescriptor{
		FileName:    "a.rpm",
		DownloadURL: srv.URL,
		SavePath:    destDir,
		ItemType:    ItemRPM,
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(FetcherConfig{Retry: fastRetryConfig(0)}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan FetchOutcome, 1)
	go func() {
		done <- f.Fetch(ctx, d)
	}()

	select {
	case outcome := <-done:
		if outcome.Status != StatusError {
			t.Fatalf("Status = %v, want %v (detail: %s)", outcome.Status, StatusError, outcome.Detail)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch did not return after context cancellation")
	}

	if _, err := os.Stat(filepath.Join(destDir, "a.rpm.part")); !os.IsNotExist(err) {
		t.Errorf("expected .part file cleaned up after abort, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "a.rpm")); !os.IsNotExist(err) {
		t.Errorf("expected no final file after abort, stat err = %v", err)
	}
}
