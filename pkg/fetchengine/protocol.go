package fetchengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// SourceProbe is what Open discovers about the remote object before any
// bytes are transferred: its size (when the server/server-equivalent can
// report it) and whether a byte-offset resume is possible.
type SourceProbe struct {
	ContentLength int64 // -1 when unknown
	Resumable     bool
}

// Source is the single-stream scheme-dispatch abstraction Fetcher downloads
// through. Unlike a multi-segment downloader that models parallel transfer
// of one file, Fetcher downloads exactly one stream per descriptor, so
// Source only needs to open a byte range and report what it found.
type Source interface {
	// Probe inspects the remote object without transferring its body.
	Probe(ctx context.Context, rawURL string) (SourceProbe, error)

	// Open returns a reader positioned at offset bytes into the remote
	// object. offset is 0 for a fresh download. The caller closes the
	// returned ReadCloser.
	Open(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, error)
}

// HeaderSource is an optional capability a Source can expose alongside Open:
// the response headers observed on the most recent call. Fetcher type-asserts
// for it after a successful Open so it can recover a repository-advertised
// checksum (RFC 3230 Digest, RFC 2616 Content-MD5) for descriptors that carry
// none of their own. Sources with no notion of headers, such as fileSource,
// simply don't implement it.
type HeaderSource interface {
	ResponseHeader() http.Header
}

// SourceFactory resolves a URL scheme (e.g. "http", "ftp", "sftp", "file")
// to a Source implementation.
type SourceFactory func(opts *TransportOpts) (Source, error)

// TransportOpts carries the optional transport configuration a FetchDescriptor
// does not itself carry: proxying, TLS material, rate limiting, and SSH auth.
type TransportOpts struct {
	Proxy       *ProxyConfig
	CACertPath  string
	ClientCert  string
	ClientKey   string
	SSLVerify   bool
	SSHKeyPath  string
	MaxSpeedKBs int64
}

// SchemeRouter dispatches a URL to the Source registered for its scheme.
// Register is safe to call concurrently with Open, so a caller can plug a
// custom scheme in while workers are already fetching.
type SchemeRouter struct {
	factories VMap[string, SourceFactory]
	opts      *TransportOpts
}

// NewSchemeRouter builds a router with the standard http/https/file/ftp/sftp
// sources registered.
func NewSchemeRouter(opts *TransportOpts) *SchemeRouter {
	if opts == nil {
		opts = &TransportOpts{}
	}
	r := &SchemeRouter{opts: opts}
	r.factories.Make()
	r.Register("http", newHTTPSource)
	r.Register("https", newHTTPSource)
	r.Register("file", newFileSource)
	r.Register("ftp", newFTPSource)
	r.Register("ftps", newFTPSource)
	r.Register("sftp", newSFTPSource)
	return r
}

// Register adds or replaces the factory for scheme.
func (r *SchemeRouter) Register(scheme string, f SourceFactory) {
	r.factories.Set(scheme, f)
}

// Open resolves scheme to its registered Source factory and builds it.
func (r *SchemeRouter) Open(scheme string) (Source, error) {
	f := r.factories.Get(scheme)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, scheme)
	}
	return f(r.opts)
}
