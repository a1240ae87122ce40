package storage

import "github.com/pkg/errors"

// ErrKeyNotFound is returned by Repo.Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// Repo defines the interface for durable key/value persistence of session
// artifacts. Implementations must survive a full-page navigation or process
// restart: a pending authorization written before the redirect to the
// authorization server has to be readable when the callback arrives.
type Repo interface {
	// Get retrieves the value for a key, or ErrKeyNotFound
	Get(key string) (string, error)

	// Set creates or replaces the value for a key
	Set(key, value string) error

	// Remove deletes a key; removing an absent key is not an error
	Remove(key string) error
}
