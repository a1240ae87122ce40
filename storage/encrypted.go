package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must be 32 bytes")
	ErrCiphertextCorrupt    = errors.New("stored ciphertext is corrupt")
)

// EncryptedRepo wraps a Repo and encrypts every value at rest with
// ChaCha20-Poly1305. The storage key is bound into the ciphertext as
// additional data, so a value copied under a different key fails to decrypt.
// Useful when the backing store is a file in the user's home directory.
type EncryptedRepo struct {
	repo Repo
	aead cipher.AEAD
}

var _ Repo = (*EncryptedRepo)(nil)

// NewEncryptedRepo creates an encrypting wrapper over repo. The key must be
// chacha20poly1305.KeySize (32) bytes and is the caller's to manage.
func NewEncryptedRepo(repo Repo, key []byte) (*EncryptedRepo, error) {
	if repo == nil {
		return nil, errors.New("[NewEncryptedRepo] repo is required")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Wrapf(ErrInvalidEncryptionKey, "[NewEncryptedRepo] got %d", len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "[NewEncryptedRepo] chacha20poly1305.New")
	}
	return &EncryptedRepo{repo: repo, aead: aead}, nil
}

func (r *EncryptedRepo) Get(key string) (string, error) {
	stored, err := r.repo.Get(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawStdEncoding.DecodeString(stored)
	if err != nil {
		return "", errors.Wrap(ErrCiphertextCorrupt, "[Get] base64 decode")
	}
	if len(raw) < r.aead.NonceSize() {
		return "", errors.Wrap(ErrCiphertextCorrupt, "[Get] short ciphertext")
	}

	nonce, ciphertext := raw[:r.aead.NonceSize()], raw[r.aead.NonceSize():]
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", errors.Wrap(ErrCiphertextCorrupt, "[Get] aead.Open")
	}
	return string(plaintext), nil
}

func (r *EncryptedRepo) Set(key, value string) error {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "[Set] rand.Read")
	}
	sealed := r.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return r.repo.Set(key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (r *EncryptedRepo) Remove(key string) error {
	return r.repo.Remove(key)
}
