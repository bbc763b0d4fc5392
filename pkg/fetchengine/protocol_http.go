package fetchengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
)

// httpSource implements Source for http:// and https:// URLs, with optional
// client certificate, CA certificate, and proxy configuration, and with
// byte-range resume via the Range header.
type httpSource struct {
	client     *http.Client
	lastHeader http.Header
}

// ResponseHeader implements HeaderSource with the headers from the most
// recent successful Open call. A router builds a fresh httpSource per
// download attempt, so there is no concurrent access to guard against.
func (s *httpSource) ResponseHeader() http.Header {
	return s.lastHeader
}

func newHTTPSource(opts *TransportOpts) (Source, error) {
	var client *http.Client
	var err error
	if opts.Proxy != nil {
		client, err = NewHTTPClientWithProxy(opts.Proxy.URL())
	} else {
		client, err = NewHTTPClientFromEnvironment()
	}
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	if opts.CACertPath != "" || opts.ClientCert != "" || !opts.SSLVerify {
		tlsConfig := &tls.Config{InsecureSkipVerify: !opts.SSLVerify}
		if opts.CACertPath != "" {
			caCert, err := os.ReadFile(opts.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("read ca cert %s: %w", opts.CACertPath, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("parse ca cert %s", opts.CACertPath)
			}
			tlsConfig.RootCAs = pool
		}
		if opts.ClientCert != "" && opts.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client cert/key: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		transport, ok := client.Transport.(*http.Transport)
		if !ok || transport == nil {
			transport = &http.Transport{}
		}
		transport.TLSClientConfig = tlsConfig
		client.Transport = transport
	}

	client.CheckRedirect = RedirectPolicy(DefaultMaxRedirects)

	return &httpSource{client: client}, nil
}

// baseHeaders builds the header set applied to every request an httpSource
// issues: just the grinder user agent today, kept as an ordered Headers
// value so a future caller can layer on repository-specific headers with
// InitOrUpdate without disturbing it.
func baseHeaders() Headers {
	var h Headers
	h.InitOrUpdate(USER_AGENT_KEY, DEF_USER_AGENT)
	return h
}

func (s *httpSource) Probe(ctx context.Context, rawURL string) (SourceProbe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return SourceProbe{}, fmt.Errorf("build HEAD request: %w", err)
	}
	baseHeaders().Set(req.Header)
	resp, err := s.client.Do(req)
	if err != nil {
		return SourceProbe{}, NewTransientError("http", "probe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return SourceProbe{}, NewPermanentError("http", "probe", fmt.Errorf("401 unauthorized"))
	}
	cl := resp.ContentLength
	if cl < 0 {
		cl = -1
	}
	return SourceProbe{
		ContentLength: cl,
		Resumable:     resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

func (s *httpSource) Open(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET request: %w", err)
	}
	baseHeaders().Set(req.Header)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewTransientError("http", "open", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent, http.StatusIMUsed:
		s.lastHeader = resp.Header
		return resp.Body, nil
	case http.StatusUnauthorized:
		resp.Body.Close()
		return nil, NewPermanentError("http", "open", fmt.Errorf("401 unauthorized"))
	default:
		resp.Body.Close()
		return nil, NewTransientError("http", "open", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// fileSource implements Source for file:// URLs and bare local paths, used
// when a metadata-reader points directly at a mirror already on disk.
type fileSource struct{}

func newFileSource(_ *TransportOpts) (Source, error) {
	return &fileSource{}, nil
}

func (fileSource) Probe(_ context.Context, rawURL string) (SourceProbe, error) {
	path := localPathFromFileURL(rawURL)
	info, err := os.Stat(path)
	if err != nil {
		return SourceProbe{}, NewPermanentError("file", "probe", err)
	}
	return SourceProbe{ContentLength: info.Size(), Resumable: true}, nil
}

func (fileSource) Open(_ context.Context, rawURL string, offset int64) (io.ReadCloser, error) {
	path := localPathFromFileURL(rawURL)
	f, err := os.Open(path)
	if err != nil {
		return nil, NewPermanentError("file", "open", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, NewPermanentError("file", "seek", err)
		}
	}
	return f, nil
}

func localPathFromFileURL(rawURL string) string {
	const prefix = "file://"
	if len(rawURL) >= len(prefix) && rawURL[:len(prefix)] == prefix {
		return rawURL[len(prefix):]
	}
	return rawURL
}
