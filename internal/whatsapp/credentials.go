package whatsapp

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CredentialStore keeps whatsmeow pairing credentials under a dedicated
// directory. Only the lifecycle manager reads or writes it.
type CredentialStore struct {
	dir    string
	logger *zap.Logger
}

// NewCredentialStore creates a store rooted at dir.
func NewCredentialStore(dir string, logger *zap.Logger) *CredentialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{dir: dir, logger: logger}
}

// Dir returns the credential directory.
func (s *CredentialStore) Dir() string {
	return s.dir
}

// DSN returns the sqlite DSN for the whatsmeow session container.
func (s *CredentialStore) DSN() string {
	return fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(s.dir, "session.db"))
}

// Ensure creates the credential directory if it does not exist.
func (s *CredentialStore) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	return nil
}

// Wipe removes all persisted credential state, recursively and
// unconditionally, then recreates the empty directory. The caller is
// responsible for closing any live session first.
func (s *CredentialStore) Wipe() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove credential directory: %w", err)
	}
	s.logger.Info("credential directory removed", zap.String("dir", s.dir))
	return s.Ensure()
}
