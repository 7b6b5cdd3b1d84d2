// Package state persists the small amount of sync bookkeeping that must
// survive process restarts, keyed strings such as the last commit applied to
// each device.
package state

import (
	"errors"
	"strings"
)

// Store is a persisted key-value store.
type Store interface {
	// Get retrieves the value for a key.
	Get(key string) (string, error)

	// Put stores a value under a key, replacing any previous value.
	Put(key, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrKeyNotFound = errors.New("key not found")
)

const lastCommitPrefix = "lastCommitId/"

// LastCommitID returns the identifier of the last commit applied to a device,
// or ErrKeyNotFound if the device has never completed a sync.
func LastCommitID(s Store, deviceID string) (string, error) {
	return s.Get(lastCommitPrefix + deviceID)
}

// SetLastCommitID records the last commit applied to a device.
func SetLastCommitID(s Store, deviceID, commitID string) error {
	return s.Put(lastCommitPrefix+deviceID, commitID)
}

// DeviceFromKey extracts the device id from a last-commit key. Reports false
// for keys outside the last-commit namespace.
func DeviceFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, lastCommitPrefix)
}
