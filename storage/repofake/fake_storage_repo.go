package repofake

import (
	"sync"

	"github.com/jrsteele09/go-auth-client/storage"
)

var _ storage.Repo = (*FakeStorageRepo)(nil)

// FakeStorageRepo is an in-memory storage.Repo for tests. It is durable only
// for the lifetime of the process, which is enough for tests that drive the
// whole flow without a real page navigation.
type FakeStorageRepo struct {
	values map[string]string
	lock   sync.RWMutex
}

func NewFakeStorageRepo() *FakeStorageRepo {
	return &FakeStorageRepo{values: make(map[string]string)}
}

func (fr *FakeStorageRepo) Get(key string) (string, error) {
	fr.lock.RLock()
	defer fr.lock.RUnlock()

	value, ok := fr.values[key]
	if !ok {
		return "", storage.ErrKeyNotFound
	}
	return value, nil
}

func (fr *FakeStorageRepo) Set(key, value string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	fr.values[key] = value
	return nil
}

func (fr *FakeStorageRepo) Remove(key string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	delete(fr.values, key)
	return nil
}

// Len returns the number of stored keys.
func (fr *FakeStorageRepo) Len() int {
	fr.lock.RLock()
	defer fr.lock.RUnlock()

	return len(fr.values)
}
