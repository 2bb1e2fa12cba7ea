package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var _ Store = (*BoltStore)(nil)

var bucketDevices = []byte("devices")

// BoltStore is a BoltDB-backed Store implementation, for deployments that
// already keep state in a bbolt file and want the identity in the same
// place.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the Bolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(ctx context.Context, deviceName string) (*DeviceIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var identity *DeviceIdentity
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevices).Get([]byte(deviceName))
		if raw == nil {
			return ErrNotFound
		}
		var rec DeviceIdentity
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode identity record: %w", err)
		}
		identity = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *BoltStore) Save(ctx context.Context, identity *DeviceIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Put([]byte(identity.DeviceName), payload)
	})
}

func (s *BoltStore) Clear(ctx context.Context, deviceName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Delete([]byte(deviceName))
	})
}

// Close closes the underlying Bolt DB.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
