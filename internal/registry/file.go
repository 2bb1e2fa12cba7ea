package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps device identities in a single JSON file, keyed by device
// name. The file is written with 0600 permissions and replaced atomically
// so a crash mid-write cannot corrupt an existing identity.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at the given path. Parent
// directories are created on first save, not here.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context, deviceName string) (*DeviceIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	identity, ok := records[deviceName]
	if !ok {
		return nil, ErrNotFound
	}
	return &identity, nil
}

func (s *FileStore) Save(ctx context.Context, identity *DeviceIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[identity.DeviceName] = *identity
	return s.write(records)
}

func (s *FileStore) Clear(ctx context.Context, deviceName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[deviceName]; !ok {
		return nil
	}
	delete(records, deviceName)
	return s.write(records)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (map[string]DeviceIdentity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]DeviceIdentity), nil
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	records := make(map[string]DeviceIdentity)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return records, nil
}

func (s *FileStore) write(records map[string]DeviceIdentity) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identities: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}
