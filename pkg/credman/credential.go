// Package credman stores repository authentication credentials (username,
// password, or bearer token) for the grinder CLI, preferring the OS keyring
// and falling back to a permission-restricted file when no keyring service
// is available (e.g. headless CI runners).
package credman

import (
	"encoding/json"
	"fmt"

	"github.com/katello/grinder/pkg/credman/keyring"
)

// RepoCredential is the secret material for one repository label.
type RepoCredential struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Logger is satisfied by logger.Logger; declared locally so pkg/credman does
// not import pkg/logger.
type Logger interface {
	Warning(format string, args ...interface{})
}

// Store persists RepoCredential values keyed by repo label.
type Store struct {
	kr   *keyring.Keyring
	file *keyring.FileKeyStore
	log  Logger
}

// NewStore creates a credential Store that tries the OS keyring first and
// falls back to configDir on failure.
func NewStore(configDir string, log Logger) *Store {
	return &Store{
		kr:   keyring.NewKeyring(),
		file: keyring.NewFileKeyStore(configDir),
		log:  log,
	}
}

// Put saves cred under repoLabel.
func (s *Store) Put(repoLabel string, cred RepoCredential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential for %s: %w", repoLabel, err)
	}
	if err := s.kr.SetValue(repoLabel, string(raw)); err == nil {
		return nil
	} else if s.log != nil {
		s.log.Warning("system keyring unavailable for %s, using file fallback: %v", repoLabel, err)
	}
	return s.file.SetValue(repoLabel, string(raw))
}

// Get retrieves the credential for repoLabel, or a zero-value RepoCredential
// and an error if none is stored.
func (s *Store) Get(repoLabel string) (RepoCredential, error) {
	raw, err := s.kr.GetValue(repoLabel)
	if err != nil {
		raw, err = s.file.GetValue(repoLabel)
		if err != nil {
			return RepoCredential{}, fmt.Errorf("no credential stored for %s: %w", repoLabel, err)
		}
	}
	var cred RepoCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return RepoCredential{}, fmt.Errorf("decode credential for %s: %w", repoLabel, err)
	}
	return cred, nil
}

// Delete removes any stored credential for repoLabel from both backends.
func (s *Store) Delete(repoLabel string) error {
	err1 := s.kr.DeleteValue(repoLabel)
	err2 := s.file.DeleteValue(repoLabel)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("delete credential for %s: keyring: %v, file: %v", repoLabel, err1, err2)
	}
	return nil
}
