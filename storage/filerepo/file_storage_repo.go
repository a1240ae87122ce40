// Package filerepo provides a JSON-file-backed storage.Repo, the durable
// backend a CLI or desktop client needs so an in-flight authorization
// survives the process restart between redirect and callback.
package filerepo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
)

var _ storage.Repo = (*FileStorageRepo)(nil)

// FileStorageRepo persists key/value pairs as a single JSON document,
// written with owner-only permissions. Every mutation rewrites the file via
// a temp-file rename so a crash never leaves a half-written store.
type FileStorageRepo struct {
	path   string
	values map[string]string
	lock   sync.Mutex
}

// New loads (or initialises) the store at path.
func New(path string) (*FileStorageRepo, error) {
	if path == "" {
		return nil, errors.New("[filerepo.New] path is required")
	}

	fr := &FileStorageRepo{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fr, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filerepo.New] os.ReadFile")
	}
	if err := json.Unmarshal(data, &fr.values); err != nil {
		return nil, errors.Wrap(err, "[filerepo.New] json.Unmarshal")
	}
	return fr, nil
}

func (fr *FileStorageRepo) Get(key string) (string, error) {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	value, ok := fr.values[key]
	if !ok {
		return "", storage.ErrKeyNotFound
	}
	return value, nil
}

func (fr *FileStorageRepo) Set(key, value string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	fr.values[key] = value
	return fr.flush()
}

func (fr *FileStorageRepo) Remove(key string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	if _, ok := fr.values[key]; !ok {
		return nil
	}
	delete(fr.values, key)
	return fr.flush()
}

// flush writes the store atomically. Callers must hold the lock.
func (fr *FileStorageRepo) flush() error {
	data, err := json.MarshalIndent(fr.values, "", "\t")
	if err != nil {
		return errors.Wrap(err, "[flush] json.MarshalIndent")
	}

	dir := filepath.Dir(fr.path)
	tmp, err := os.CreateTemp(dir, ".goauth-*")
	if err != nil {
		return errors.Wrap(err, "[flush] os.CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[flush] Chmod")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[flush] Write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[flush] Close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), fr.path), "[flush] os.Rename")
}
