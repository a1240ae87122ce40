// Package storage persists session state: tokens, the user profile and the
// in-flight authorization artifacts. The durable key/value backend is
// abstracted behind Repo and injected at construction time, so tests can
// substitute an in-memory implementation and two session instances never
// silently share state through a package-level handle.
package storage

import (
	"encoding/json"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

// keyPrefix namespaces every session key so the backing store can be shared
// with unrelated application data.
const keyPrefix = "goauth_"

const (
	tokensKey  = keyPrefix + "tokens"
	userKey    = keyPrefix + "user"
	pendingKey = keyPrefix + "pending_authorization"
)

// Store wraps a Repo with the session namespace and JSON codecs for the
// persisted records. Absent records read back as nil, not as an error.
type Store struct {
	repo Repo
}

// NewStore creates a Store over the given repo.
func NewStore(repo Repo) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] repo is required")
	}
	return &Store{repo: repo}, nil
}

// SetTokens persists the token set, replacing any previous one.
func (s *Store) SetTokens(tokens *oauthmodel.AuthTokens) error {
	return s.setJSON(tokensKey, tokens, "[SetTokens]")
}

// Tokens returns the persisted token set, or nil when none is stored.
func (s *Store) Tokens() (*oauthmodel.AuthTokens, error) {
	var tokens oauthmodel.AuthTokens
	ok, err := s.getJSON(tokensKey, &tokens, "[Tokens]")
	if err != nil || !ok {
		return nil, err
	}
	return &tokens, nil
}

// RemoveTokens deletes the persisted token set.
func (s *Store) RemoveTokens() error {
	return errors.Wrap(s.repo.Remove(tokensKey), "[RemoveTokens] repo.Remove")
}

// SetUser persists the user profile.
func (s *Store) SetUser(user *oauthmodel.User) error {
	return s.setJSON(userKey, user, "[SetUser]")
}

// User returns the persisted user profile, or nil when none is stored.
func (s *Store) User() (*oauthmodel.User, error) {
	var user oauthmodel.User
	ok, err := s.getJSON(userKey, &user, "[User]")
	if err != nil || !ok {
		return nil, err
	}
	return &user, nil
}

// RemoveUser deletes the persisted user profile.
func (s *Store) RemoveUser() error {
	return errors.Wrap(s.repo.Remove(userKey), "[RemoveUser] repo.Remove")
}

// SetPending persists the in-flight authorization record, overwriting any
// previous one. Only one flow may be outstanding at a time.
func (s *Store) SetPending(pending *oauthmodel.PendingAuthorization) error {
	return s.setJSON(pendingKey, pending, "[SetPending]")
}

// Pending returns the in-flight authorization record, or nil when none is
// stored.
func (s *Store) Pending() (*oauthmodel.PendingAuthorization, error) {
	var pending oauthmodel.PendingAuthorization
	ok, err := s.getJSON(pendingKey, &pending, "[Pending]")
	if err != nil || !ok {
		return nil, err
	}
	return &pending, nil
}

// RemovePending deletes the in-flight authorization record.
func (s *Store) RemovePending() error {
	return errors.Wrap(s.repo.Remove(pendingKey), "[RemovePending] repo.Remove")
}

// Clear removes every persisted session record: tokens, user and any stray
// pending authorization. Removal is attempted for all keys; the first error
// is returned.
func (s *Store) Clear() error {
	var firstErr error
	for _, key := range []string{tokensKey, userKey, pendingKey} {
		if err := s.repo.Remove(key); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "[Clear] repo.Remove %s", key)
		}
	}
	return firstErr
}

func (s *Store) setJSON(key string, value any, context string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, context+" json.Marshal")
	}
	return errors.Wrap(s.repo.Set(key, string(data)), context+" repo.Set")
}

// getJSON reports whether a value was present via its first return.
func (s *Store) getJSON(key string, out any, context string) (bool, error) {
	data, err := s.repo.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, context+" repo.Get")
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, errors.Wrap(err, context+" json.Unmarshal")
	}
	return true, nil
}
