package fetchengine

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/katello/grinder/pkg/logger"
)

// lowSpeedThresholdBytes and lowSpeedWindow implement the watchdog described
// for Fetcher: a transfer averaging below this many bytes over this window
// is presumed stuck and aborted.
const (
	lowSpeedThresholdBytes = 1000
	lowSpeedWindow         = 5 * time.Minute
)

// FetcherConfig carries the per-sync settings that apply to every descriptor
// a Fetcher downloads: retry budget, transport options, and the progress
// sink it reports through.
type FetcherConfig struct {
	Retry     RetryConfig
	Transport *TransportOpts
	Verify    VerifyOptions
	Force     bool
	Log       logger.Logger
}

// Fetcher downloads one FetchDescriptor at a time, following the exact
// pre-check/lock/download/verify/retry/symlink contract.
type Fetcher struct {
	cfg      FetcherConfig
	router   *SchemeRouter
	progress *ProgressTracker
	log      logger.Logger
}

// NewFetcher builds a Fetcher. progress may be nil, in which case a
// no-op tracker that discards every call is used.
func NewFetcher(cfg FetcherConfig, progress *ProgressTracker) *Fetcher {
	log := cfg.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	if progress == nil {
		progress = NewProgressTracker(log, nil)
	}
	return &Fetcher{
		cfg:      cfg,
		router:   NewSchemeRouter(cfg.Transport),
		progress: progress,
		log:      log,
	}
}

// Fetch downloads d, applying the full pre-check/lock/download/verify/retry
// contract, and reports the outcome.
func (f *Fetcher) Fetch(ctx context.Context, d *FetchDescriptor) FetchOutcome {
	if err := d.Validate(); err != nil {
		return FetchOutcome{Status: StatusError, Detail: err.Error()}
	}

	finalPath := d.FinalPath()
	canonicalPath := d.CanonicalPath()

	if err := ValidateDownloadDirectory(filepath.Dir(canonicalPath)); err != nil && !errors.Is(err, ErrDirectoryNotFound) {
		return FetchOutcome{Status: StatusError, Detail: err.Error()}
	}

	// Registration with the progress tracker happens once, at
	// WorkerPool.AddItem time, not here: Fetch is re-entered on every
	// REQUEUE re-pop of the same descriptor, and a second AddItem would
	// inflate TotalCount/TotalSizeBytes with a ghost entry.

	if !f.cfg.Force {
		if info, err := os.Stat(canonicalPath); err == nil && !info.IsDir() {
			if outcome, ok := f.verifyExisting(canonicalPath, d); ok {
				if err := f.publishSymlink(d, finalPath, canonicalPath); err != nil {
					f.progress.ItemComplete(d.DownloadURL, false)
					return FetchOutcome{Status: StatusError, Detail: err.Error()}
				}
				f.progress.ItemComplete(d.DownloadURL, outcome.Status.IsSuccess())
				return outcome
			}
		}
	}

	state := &RetryState{}
	outcome := f.attempt(ctx, d, finalPath, canonicalPath, state)
	if outcome.Status != StatusRequeue {
		// A requeued descriptor is not done: it goes back on the pool's
		// queue and will re-enter Fetch, so its tracker entry must survive.
		f.progress.ItemComplete(d.DownloadURL, outcome.Status.IsSuccess())
	}
	return outcome
}

// verifyExisting checks a file already on disk against VerifyOptions,
// returning (NOOP, true) if it passes, (SKIP_VALIDATE, true) if neither
// check is configured, or (_, false) if the file should be redownloaded.
func (f *Fetcher) verifyExisting(path string, d *FetchDescriptor) (FetchOutcome, bool) {
	if !f.cfg.Verify.Size && !f.cfg.Verify.Checksum {
		return FetchOutcome{Status: StatusSkipValidate}, true
	}
	if f.cfg.Verify.Size && d.ExpectedSize > 0 {
		info, err := os.Stat(path)
		if err != nil || info.Size() != d.ExpectedSize {
			return FetchOutcome{}, false
		}
	}
	if f.cfg.Verify.Checksum && d.Checksum != "" {
		ok, err := verifyChecksum(path, d.ChecksumType, d.Checksum)
		if err != nil || !ok {
			return FetchOutcome{}, false
		}
	}
	return FetchOutcome{Status: StatusNoop}, true
}

// attempt runs one try-or-retry cycle: lock, download, verify, and on a
// retryable failure recurses with the retry budget decremented.
func (f *Fetcher) attempt(ctx context.Context, d *FetchDescriptor, finalPath, canonicalPath string, state *RetryState) FetchOutcome {
	lock := NewLock(canonicalPath)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return FetchOutcome{Status: StatusRequeue, Detail: err.Error()}
		}
		return FetchOutcome{Status: StatusError, Detail: err.Error()}
	}
	defer lock.Release()

	if err := os.MkdirAll(filepath.Dir(canonicalPath), DefaultDirMode); err != nil && !os.IsExist(err) {
		return FetchOutcome{Status: StatusError, Detail: err.Error()}
	}

	if d.ExpectedSize > 0 {
		remaining := d.ExpectedSize
		if info, err := os.Stat(canonicalPath + ".part"); err == nil {
			remaining -= info.Size()
		}
		if err := checkDiskSpace(filepath.Dir(canonicalPath), remaining); err != nil {
			return FetchOutcome{Status: StatusError, Detail: err.Error()}
		}
	}

	status, detail, httpErr := f.download(ctx, d, canonicalPath)
	scheme := urlScheme(d.DownloadURL)
	if httpErr != nil {
		if isUnauthorized(httpErr) {
			return FetchOutcome{Status: StatusUnauthorized, Detail: httpErr.Error()}
		}
		// The retry re-enters attempt, which takes a fresh Lock on the same
		// path; drop this one first so the retry does not see contention.
		lock.Release()
		return f.maybeRetry(ctx, d, finalPath, canonicalPath, state, scheme, StatusError, httpErr, IsPermanentDownloadError(httpErr))
	}
	if status == StatusSizeMismatch || status == StatusChecksumMismatch {
		lock.Release()
		return f.maybeRetry(ctx, d, finalPath, canonicalPath, state, scheme, status, errors.New(detail), false)
	}

	if err := f.publishSymlink(d, finalPath, canonicalPath); err != nil {
		return FetchOutcome{Status: StatusError, Detail: err.Error()}
	}

	return FetchOutcome{Status: status, Detail: detail}
}

// maybeRetry decrements the retry budget, cleans up partial/full state, and
// recurses; once the budget is exhausted it surfaces exhaustedStatus (ERROR
// for transport failures, the specific mismatch status for integrity
// failures) per the error taxonomy. permanent marks err as a DownloadError
// classified non-retryable at the source layer (e.g. an FTP 5xx reply or a
// missing local file; HTTP statuses other than 200/206/226/401 are
// transient and retried); integrity mismatches are always retryable up to
// the budget regardless of message content.
func (f *Fetcher) maybeRetry(ctx context.Context, d *FetchDescriptor, finalPath, canonicalPath string, state *RetryState, scheme string, exhaustedStatus Status, err error, permanent bool) FetchOutcome {
	budgetOK := f.cfg.Retry.MaxRetries <= 0 || state.Attempts < f.cfg.Retry.MaxRetries

	if scheme == "file" || !budgetOK || permanent {
		return FetchOutcome{Status: exhaustedStatus, Detail: err.Error()}
	}

	state.Attempts++
	os.Remove(canonicalPath + ".part")
	os.Remove(canonicalPath)
	f.progress.ResetProgress(d.DownloadURL)

	category := ClassifyError(err)
	if werr := f.cfg.Retry.WaitForRetry(ctx, state, category); werr != nil {
		return FetchOutcome{Status: StatusError, Detail: werr.Error()}
	}

	return f.attempt(ctx, d, finalPath, canonicalPath, state)
}

// download performs the network transfer for one attempt: open the source,
// probe/resume via PartialWriter, copy with rate limiting, progress
// reporting, and the low-speed watchdog, then run the post-transfer verify.
func (f *Fetcher) download(ctx context.Context, d *FetchDescriptor, path string) (Status, string, error) {
	scheme := urlScheme(d.DownloadURL)
	source, err := f.router.Open(scheme)
	if err != nil {
		return "", "", err
	}

	expected := d.ExpectedSize
	if expected == 0 {
		// No repository-advertised size: ask the source, so progress has a
		// real total and the remote's resume support is known up front.
		if probe, perr := source.Probe(ctx, d.DownloadURL); perr == nil && probe.ContentLength > 0 {
			expected = probe.ContentLength
		}
	}

	pw, err := NewPartialWriter(path)
	if err != nil {
		return "", "", err
	}

	rc, err := source.Open(ctx, d.DownloadURL, pw.Offset())
	if err != nil {
		pw.Close()
		return "", "", err
	}
	defer rc.Close()

	var respHeader http.Header
	if hs, ok := source.(HeaderSource); ok {
		respHeader = hs.ResponseHeader()
	}

	watchdog := newLowSpeedWatchdog(lowSpeedThresholdBytes, lowSpeedWindow)
	reader := NewCallbackProxyReader(f.cfg.Transport.LimitReader(rc), watchdog.observe)
	downloaded := pw.Offset()
	buf := make([]byte, DEF_CHUNK_SIZE)
	for {
		select {
		case <-ctx.Done():
			pw.Abort()
			return "", ctx.Err().Error(), ctx.Err()
		default:
		}

		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := pw.Write(buf[:n]); werr != nil {
				pw.Abort()
				return "", werr.Error(), werr
			}
			downloaded += int64(n)
			if expected > 0 {
				f.progress.UpdateProgressDownload(d.DownloadURL, expected, downloaded)
			} else {
				f.progress.UpdateProgressDownload(d.DownloadURL, downloaded, downloaded)
			}
			if watchdog.stuck() {
				pw.Abort()
				return "", "", fmt.Errorf("%w: throughput below %d bytes over %s", ErrPrematureEOF, lowSpeedThresholdBytes, lowSpeedWindow)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			pw.Abort()
			return "", rerr.Error(), rerr
		}
	}

	if err := pw.Finalize(); err != nil {
		return "", "", err
	}

	return f.verifyPostTransfer(path, d, respHeader)
}

// verifyPostTransfer applies the full post-transfer check: size mismatch
// deletes and reports, checksum mismatch deletes and reports, else
// DOWNLOADED. When the descriptor carries neither a size nor a checksum,
// it falls back to whatever the server advertised in respHeader (RFC 3230
// Digest or RFC 2616 Content-MD5) before giving up with SKIP_VALIDATE.
func (f *Fetcher) verifyPostTransfer(path string, d *FetchDescriptor, respHeader http.Header) (Status, string, error) {
	haveSize := d.ExpectedSize > 0
	haveChecksum := d.Checksum != ""
	if !haveSize && !haveChecksum {
		return f.verifyAgainstResponseHeader(path, d, respHeader)
	}

	if haveSize {
		info, err := os.Stat(path)
		if err != nil {
			return "", "", err
		}
		if info.Size() != d.ExpectedSize {
			os.Remove(path)
			return StatusSizeMismatch, fmt.Sprintf("got %d bytes, expected %d", info.Size(), d.ExpectedSize), nil
		}
	}

	if haveChecksum {
		ok, err := verifyChecksum(path, d.ChecksumType, d.Checksum)
		if err != nil {
			return "", "", err
		}
		if !ok {
			os.Remove(path)
			return StatusChecksumMismatch, fmt.Sprintf("checksum mismatch for %s", d.FileName), nil
		}
	}

	return StatusDownloaded, "", nil
}

// publishSymlink creates the repo-local symlink to the shared store when
// SharedStorePath is set. A no-op when the canonical path equals the final
// path. Tolerates a concurrent creation of the same link (EEXIST).
func (f *Fetcher) publishSymlink(d *FetchDescriptor, finalPath, canonicalPath string) error {
	if d.SharedStorePath == "" || finalPath == canonicalPath {
		return nil
	}
	if _, err := os.Lstat(finalPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), DefaultDirMode); err != nil && !os.IsExist(err) {
		return err
	}
	rel, err := filepath.Rel(filepath.Dir(finalPath), canonicalPath)
	if err != nil {
		rel = canonicalPath
	}
	if err := os.Symlink(rel, finalPath); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// verifyAgainstResponseHeader is the fallback a descriptor without its own
// size or checksum falls into: if the server advertised a Digest or
// Content-MD5 header on the response, verify against the strongest one and
// report DOWNLOADED with a note rather than giving up with SKIP_VALIDATE.
func (f *Fetcher) verifyAgainstResponseHeader(path string, d *FetchDescriptor, respHeader http.Header) (Status, string, error) {
	if respHeader == nil {
		return StatusSkipValidate, "", nil
	}
	checksums := ExtractChecksums(respHeader)
	if len(checksums) == 0 {
		return StatusSkipValidate, "", nil
	}
	algo := SelectBestAlgorithm(checksums)
	var expected []byte
	for _, c := range checksums {
		if c.Algorithm == algo {
			expected = c.Value
			break
		}
	}

	ok, err := verifyChecksumBytes(path, algo, expected)
	if err != nil {
		return "", "", err
	}
	if !ok {
		os.Remove(path)
		return StatusChecksumMismatch, fmt.Sprintf("checksum mismatch for %s (from response %s digest)", d.FileName, algo), nil
	}
	return StatusDownloaded, fmt.Sprintf("verified via response %s digest", algo), nil
}

// verifyChecksum hashes the file at path with algo and compares it against
// expectedHex using a constant-time comparison.
func verifyChecksum(path string, algo ChecksumAlgorithm, expectedHex string) (bool, error) {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrChecksumUnavailable, expectedHex)
	}
	return verifyChecksumBytes(path, algo, expected)
}

// verifyChecksumBytes hashes the file at path with algo and compares it
// against expected using a constant-time comparison.
func verifyChecksumBytes(path string, algo ChecksumAlgorithm, expected []byte) (bool, error) {
	h, err := NewHasher(algo)
	if err != nil {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	actual := h.Sum(nil)
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func urlScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func isUnauthorized(err error) bool {
	var de *DownloadError
	for e := error(err); e != nil; {
		if d, ok := e.(*DownloadError); ok {
			de = d
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if de == nil {
		return false
	}
	return de.Permanent && strings.Contains(de.Error(), "401")
}

// lowSpeedWatchdog tracks whether recent throughput has fallen below a
// threshold for a sustained window, guarding against half-open sockets that
// accept the connection but then trickle data. Fetcher consults it only
// after a read that returned bytes, so a connection that sends nothing at
// all stays blocked in Read and is not aborted by the watchdog.
type lowSpeedWatchdog struct {
	threshold int
	window    time.Duration
	started   time.Time
	bytes     int
}

func newLowSpeedWatchdog(threshold int, window time.Duration) *lowSpeedWatchdog {
	return &lowSpeedWatchdog{threshold: threshold, window: window, started: time.Now()}
}

func (w *lowSpeedWatchdog) observe(n int) {
	w.bytes += n
}

// stuck evaluates the window once it has fully elapsed and starts the next
// one, so each window is judged exactly once.
func (w *lowSpeedWatchdog) stuck() bool {
	if time.Since(w.started) < w.window {
		return false
	}
	slow := w.bytes < w.threshold
	w.started = time.Now()
	w.bytes = 0
	return slow
}
