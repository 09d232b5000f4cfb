package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/artifact"
)

// CredentialStore loads and persists the credential.
type CredentialStore interface {
	Load() (Credential, error)
	Save(cred Credential) (Credential, error)
}

// FileStore keeps the credential as JSON in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a credential file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the credential. A missing file is apperr.ErrNotFound and an
// unreadable one is apperr.ErrCorruptRecord.
func (s *FileStore) Load() (Credential, error) {
	const op = "credential.load"

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("no credential at %s", s.path))
	}
	if err != nil {
		return Credential{}, apperr.Wrap(apperr.KindCorruptRecord, op, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, apperr.Wrap(apperr.KindCorruptRecord, op, fmt.Errorf("failed to parse %s: %w", s.path, err))
	}
	if cred.AccessToken == "" {
		return Credential{}, apperr.New(apperr.KindCorruptRecord, op, fmt.Sprintf("%s has no access_token", s.path))
	}
	return cred, nil
}

// Save writes the credential atomically: a temp file in the same directory
// is synced, restricted to 0600 and renamed over the target. A crash at any
// point leaves either the old file or the new one.
func (s *FileStore) Save(cred Credential) (Credential, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cred, fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return cred, fmt.Errorf("failed to encode credential: %w", err)
	}

	if err := artifact.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return cred, fmt.Errorf("failed to save credential: %w", err)
	}
	return cred, nil
}
