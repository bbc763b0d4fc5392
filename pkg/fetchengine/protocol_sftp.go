package fetchengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpSource implements Source for sftp:// URLs over an SSH connection.
// Each Open call establishes its own SSH+SFTP session; a design that reused
// one connection across parallel segments would need to serialize access,
// but this engine downloads one stream per descriptor, so session-per-open
// keeps the lifetime simple and avoids cross-goroutine client sharing.
type sftpSource struct {
	sshKeyPath string
}

func newSFTPSource(opts *TransportOpts) (Source, error) {
	return &sftpSource{sshKeyPath: opts.SSHKeyPath}, nil
}

// connect parses rawURL for host/user/password, dials SSH, and opens an SFTP
// subsystem. Credentials found in the URL userinfo are used only for this
// connection and never persisted.
func (s *sftpSource) connect(rawURL string) (*ssh.Client, *sftp.Client, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, "", NewPermanentError("sftp", "parse", err)
	}
	if strings.ToLower(parsed.Scheme) != "sftp" {
		return nil, nil, "", NewPermanentError("sftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected sftp", parsed.Scheme))
	}

	remotePath := parsed.Path
	if remotePath == "" || remotePath == "/" {
		return nil, nil, "", NewPermanentError("sftp", "parse",
			fmt.Errorf("empty or root path in SFTP URL: file path is required"))
	}

	var user, password string
	if parsed.User != nil {
		user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			password = p
		}
	}

	host := parsed.Host
	if !strings.Contains(host, ":") {
		host = host + ":22"
	}

	authMethods, err := buildAuthMethods(password, s.sshKeyPath)
	if err != nil {
		return nil, nil, "", NewPermanentError("sftp", "auth", err)
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: newTOFUHostKeyCallback(KnownHostsPath),
	}

	sshConn, err := ssh.Dial("tcp", host, config)
	if err != nil {
		return nil, nil, "", classifySFTPError("sftp", "connect", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, nil, "", classifySFTPError("sftp", "connect", err)
	}

	return sshConn, sftpClient, remotePath, nil
}

func (s *sftpSource) Probe(ctx context.Context, rawURL string) (SourceProbe, error) {
	sshConn, sftpClient, remotePath, err := s.connect(rawURL)
	if err != nil {
		return SourceProbe{}, err
	}
	defer sshConn.Close()
	defer sftpClient.Close()

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		return SourceProbe{}, classifySFTPError("sftp", "probe:stat", err)
	}

	return SourceProbe{ContentLength: info.Size(), Resumable: true}, nil
}

// sftpReadCloser wraps the remote sftp.File plus its owning connections so
// Close tears down the whole session.
type sftpReadCloser struct {
	remote *sftp.File
	sftpC  *sftp.Client
	sshC   *ssh.Client
}

func (r *sftpReadCloser) Read(p []byte) (int, error) {
	n, err := r.remote.Read(p)
	if err != nil && err != io.EOF {
		return n, classifySFTPError("sftp", "read", err)
	}
	return n, err
}

func (r *sftpReadCloser) Close() error {
	r.remote.Close()
	r.sftpC.Close()
	return r.sshC.Close()
}

func (s *sftpSource) Open(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, error) {
	sshConn, sftpClient, remotePath, err := s.connect(rawURL)
	if err != nil {
		return nil, err
	}

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		sftpClient.Close()
		sshConn.Close()
		return nil, classifySFTPError("sftp", "open", err)
	}

	if offset > 0 {
		if _, err := remoteFile.Seek(offset, io.SeekStart); err != nil {
			remoteFile.Close()
			sftpClient.Close()
			sshConn.Close()
			return nil, NewPermanentError("sftp", "seek", err)
		}
	}

	return &sftpReadCloser{remote: remoteFile, sftpC: sftpClient, sshC: sshConn}, nil
}

// buildAuthMethods constructs SSH auth methods based on available credentials.
// Priority: password auth (if provided) > explicit SSH key > default SSH key paths.
func buildAuthMethods(password, sshKeyPath string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if password != "" {
		methods = append(methods, ssh.Password(password))
		return methods, nil
	}

	keyPaths := resolveSSHKeyPaths(sshKeyPath)
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected; passphrase-protected keys are not supported", kp)
			}
			continue
		}

		methods = append(methods, ssh.PublicKeys(signer))
		return methods, nil
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("sftp: no authentication method available — provide password in URL or SSH key at %s", strings.Join(keyPaths, ", "))
	}
	return methods, nil
}

// resolveSSHKeyPaths returns the list of SSH key paths to try.
// If explicitPath is set, only that path is returned.
// Otherwise, returns default paths: ~/.ssh/id_ed25519, ~/.ssh/id_rsa.
func resolveSSHKeyPaths(explicitPath string) []string {
	if explicitPath != "" {
		return []string{explicitPath}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		home + "/.ssh/id_ed25519",
		home + "/.ssh/id_rsa",
	}
}

// classifySFTPError classifies SFTP/SSH errors into transient or permanent.
// os.ErrNotExist and *ssh.ExitError are permanent. net.Error is transient.
func classifySFTPError(proto, op string, err error) *DownloadError {
	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return NewPermanentError(proto, op, err)
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return NewPermanentError(proto, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(proto, op, err)
	}

	return NewPermanentError(proto, op, err)
}
