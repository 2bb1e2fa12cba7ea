// Package registry persists device identities across restarts. A device
// identity is created once per device name by registration and reused on
// every subsequent start; Clear is the only path to re-registration.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound indicates no identity is stored for the requested device name.
var ErrNotFound = errors.New("device identity not found")

// DeviceIdentity is the (device_id, secret) pair that authenticates one
// client instance to the provider. The secret must never be logged or
// included in event payloads.
type DeviceIdentity struct {
	DeviceID   string `json:"device_id"`
	Secret     string `json:"secret"`
	DeviceName string `json:"device_name"`
}

// Store abstracts identity persistence. Implementations must serialize
// writes against concurrent reads by the connection bootstrap.
type Store interface {
	// Load returns the identity for deviceName, or ErrNotFound.
	Load(ctx context.Context, deviceName string) (*DeviceIdentity, error)

	// Save persists the identity, overwriting any existing record for the
	// same device name.
	Save(ctx context.Context, identity *DeviceIdentity) error

	// Clear removes the identity for deviceName. Removing an absent record
	// is not an error.
	Clear(ctx context.Context, deviceName string) error

	Close() error
}
