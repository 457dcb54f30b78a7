package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// storeLockTimeout bounds how long a writer waits for the advisory lock.
	storeLockTimeout = 5 * time.Second

	// storeLockRetryInterval is the poll interval while the lock is contended.
	storeLockRetryInterval = 100 * time.Millisecond
)

// storeFile is the on-disk shape of the OAuth store. Both maps are keyed by
// the normalized server URL (see NormalizeServerURL) so that the /mcp and
// /sse endpoints of one server share credentials.
type storeFile struct {
	ClientRegistrations map[string]*ClientRegistration `json:"client_registrations"`
	Tokens              map[string]*Token              `json:"tokens"`
}

func newStoreFile() *storeFile {
	return &storeFile{
		ClientRegistrations: make(map[string]*ClientRegistration),
		Tokens:              make(map[string]*Token),
	}
}

// FileStore persists OAuth tokens and dynamic client registrations in a
// single JSON file. The file may be shared by several processes: writers
// serialize through an advisory lock on a sibling .lock file and replace
// the file atomically, readers go lock-free.
//
// Tokens are credentials, so the file is created with mode 0600.
type FileStore struct {
	path     string
	lockPath string
	logger   *slog.Logger

	// mu serializes writers within this process; the flock only guards
	// against other processes.
	mu sync.Mutex
}

// FileStoreOption configures the file store.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets a custom logger.
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore returns a store backed by the given JSON file. The file and
// its parent directory are created on first write.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:     path,
		lockPath: path + ".lock",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// GetToken returns a copy of the stored token for the server, or nil when
// none is stored.
func (s *FileStore) GetToken(serverURL string) (*Token, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Tokens[NormalizeServerURL(serverURL)].Clone(), nil
}

// SetToken stores the token for the server, replacing any previous one.
func (s *FileStore) SetToken(ctx context.Context, serverURL string, token *Token) error {
	if token == nil {
		return fmt.Errorf("cannot store nil token for %s", serverURL)
	}
	return s.mutate(ctx, func(data *storeFile) {
		data.Tokens[NormalizeServerURL(serverURL)] = token.Clone()
	})
}

// DeleteToken removes the stored token for the server. Deleting an absent
// token is not an error.
func (s *FileStore) DeleteToken(ctx context.Context, serverURL string) error {
	return s.mutate(ctx, func(data *storeFile) {
		delete(data.Tokens, NormalizeServerURL(serverURL))
	})
}

// GetRegistration returns a copy of the stored client registration for the
// server, or nil when none is stored.
func (s *FileStore) GetRegistration(serverURL string) (*ClientRegistration, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.ClientRegistrations[NormalizeServerURL(serverURL)].Clone(), nil
}

// SetRegistration stores the client registration for the server so later
// authorization flows reuse the same client identity.
func (s *FileStore) SetRegistration(ctx context.Context, serverURL string, reg *ClientRegistration) error {
	if reg == nil {
		return fmt.Errorf("cannot store nil registration for %s", serverURL)
	}
	return s.mutate(ctx, func(data *storeFile) {
		data.ClientRegistrations[NormalizeServerURL(serverURL)] = reg.Clone()
	})
}

// Clear removes both the token and the client registration for the server.
func (s *FileStore) Clear(ctx context.Context, serverURL string) error {
	return s.mutate(ctx, func(data *storeFile) {
		key := NormalizeServerURL(serverURL)
		delete(data.Tokens, key)
		delete(data.ClientRegistrations, key)
	})
}

// mutate runs the locked read-apply-write cycle.
func (s *FileStore) mutate(ctx context.Context, fn func(*storeFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create OAuth store directory: %w", err)
	}

	fileLock := flock.New(s.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, storeLockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, storeLockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire OAuth store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire OAuth store lock: timeout after %v", storeLockTimeout)
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			s.logger.Warn("Failed to release OAuth store lock",
				"path", s.lockPath,
				"error", unlockErr)
		}
	}()

	data, err := s.read()
	if err != nil {
		// A corrupt store means re-authorizing, not wedging the hub.
		s.logger.Warn("OAuth store unreadable, starting fresh",
			"path", s.path,
			"error", err)
		data = newStoreFile()
	}

	fn(data)
	return s.write(data)
}

func (s *FileStore) read() (*storeFile, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newStoreFile(), nil
		}
		return nil, fmt.Errorf("failed to read OAuth store: %w", err)
	}
	if len(blob) == 0 {
		return newStoreFile(), nil
	}

	var data storeFile
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("failed to parse OAuth store: %w", err)
	}
	if data.ClientRegistrations == nil {
		data.ClientRegistrations = make(map[string]*ClientRegistration)
	}
	if data.Tokens == nil {
		data.Tokens = make(map[string]*Token)
	}
	return &data, nil
}

// write replaces the store file atomically so lock-free readers never
// observe a half-written object. CreateTemp yields mode 0600, which the
// rename preserves.
func (s *FileStore) write(data *storeFile) error {
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal OAuth store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".oauth-storage-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp OAuth store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write OAuth store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush OAuth store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace OAuth store: %w", err)
	}
	return nil
}
