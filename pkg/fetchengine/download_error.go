package fetchengine

import "fmt"

// DownloadError carries the protocol and operation a Source failed during,
// plus whether Fetcher should retry it. Transient errors (connection resets,
// timeouts, 5xx-equivalents) are retryable; permanent errors (401, missing
// file, bad credentials) are not.
type DownloadError struct {
	Proto     string
	Op        string
	Err       error
	Permanent bool
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Proto, e.Op, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable DownloadError.
func NewTransientError(proto, op string, err error) *DownloadError {
	return &DownloadError{Proto: proto, Op: op, Err: err, Permanent: false}
}

// NewPermanentError wraps err as a non-retryable DownloadError.
func NewPermanentError(proto, op string, err error) *DownloadError {
	return &DownloadError{Proto: proto, Op: op, Err: err, Permanent: true}
}

// IsPermanentDownloadError reports whether err is a DownloadError marked
// permanent, for callers deciding between UNAUTHORIZED/ERROR and REQUEUE.
func IsPermanentDownloadError(err error) bool {
	var de *DownloadError
	if ok := asDownloadError(err, &de); ok {
		return de.Permanent
	}
	return false
}

func asDownloadError(err error, target **DownloadError) bool {
	for err != nil {
		if de, ok := err.(*DownloadError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
