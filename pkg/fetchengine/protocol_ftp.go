package fetchengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpSource implements Source for ftp:// and ftps:// URLs. Each Open call
// establishes its own control connection; grinder downloads one stream per
// descriptor so there is no benefit to a persistent per-downloader
// connection.
type ftpSource struct{}

func newFTPSource(_ *TransportOpts) (Source, error) {
	return &ftpSource{}, nil
}

type ftpTarget struct {
	host     string
	ftpPath  string
	user     string
	password string
	useTLS   bool
}

func parseFTPURL(rawURL string) (ftpTarget, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, NewPermanentError("ftp", "parse", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return ftpTarget{}, NewPermanentError("ftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected ftp or ftps", scheme))
	}

	ftpPath := parsed.Path
	if ftpPath == "" || ftpPath == "/" {
		return ftpTarget{}, NewPermanentError("ftp", "parse",
			fmt.Errorf("empty or root path in FTP URL: file path is required"))
	}

	user, password := "anonymous", "anonymous"
	if parsed.User != nil {
		user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			password = p
		}
	}

	host := parsed.Host
	if !strings.Contains(host, ":") {
		host = host + ":21"
	}

	return ftpTarget{
		host:     host,
		ftpPath:  ftpPath,
		user:     user,
		password: password,
		useTLS:   scheme == "ftps",
	}, nil
}

// StripURLCredentials removes userinfo (username:password) from a URL string.
// Returns the cleaned URL string. If parsing fails (should not happen for
// already-validated URLs), returns the original URL unchanged.
func StripURLCredentials(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.User = nil
	return parsed.String()
}

// connectFTP establishes a connection to the FTP server with optional TLS.
func connectFTP(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(30 * time.Second),
		ftp.DialWithContext(ctx),
	}

	if t.useTLS {
		hostname := t.host
		if h, _, err := net.SplitHostPort(t.host); err == nil {
			hostname = h
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(t.host, dialOpts...)
	if err != nil {
		return nil, err
	}

	if err := conn.Login(t.user, t.password); err != nil {
		conn.Quit()
		return nil, err
	}

	return conn, nil
}

func (s *ftpSource) Probe(ctx context.Context, rawURL string) (SourceProbe, error) {
	t, err := parseFTPURL(rawURL)
	if err != nil {
		return SourceProbe{}, err
	}

	conn, err := connectFTP(ctx, t)
	if err != nil {
		return SourceProbe{}, classifyFTPError("ftp", "probe:connect", err)
	}
	defer conn.Quit()

	size, err := conn.FileSize(t.ftpPath)
	if err != nil {
		return SourceProbe{}, classifyFTPError("ftp", "probe:size", err)
	}

	return SourceProbe{ContentLength: size, Resumable: true}, nil
}

// ftpReadCloser wraps the ftp response plus its owning control connection so
// Close tears down the whole session.
type ftpReadCloser struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReadCloser) Read(p []byte) (int, error) {
	n, err := r.resp.Read(p)
	if err != nil && err != io.EOF {
		return n, classifyFTPError("ftp", "read", err)
	}
	return n, err
}

func (r *ftpReadCloser) Close() error {
	r.resp.Close()
	return r.conn.Quit()
}

func (s *ftpSource) Open(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, error) {
	t, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := connectFTP(ctx, t)
	if err != nil {
		return nil, classifyFTPError("ftp", "open:connect", err)
	}

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return nil, NewPermanentError("ftp", "open:type", err)
	}

	var resp *ftp.Response
	if offset > 0 {
		resp, err = conn.RetrFrom(t.ftpPath, uint64(offset))
	} else {
		resp, err = conn.Retr(t.ftpPath)
	}
	if err != nil {
		conn.Quit()
		return nil, classifyFTPError("ftp", "open:retr", err)
	}

	return &ftpReadCloser{resp: resp, conn: conn}, nil
}

// classifyFTPError classifies FTP errors into transient or permanent.
// RFC 959: 4xx codes are transient (retry), 5xx are permanent (no retry).
// Network errors are treated as transient.
func classifyFTPError(proto, op string, err error) *DownloadError {
	if err == nil {
		return nil
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return NewTransientError(proto, op, err)
		}
		return NewPermanentError(proto, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(proto, op, err)
	}

	return NewPermanentError(proto, op, err)
}
