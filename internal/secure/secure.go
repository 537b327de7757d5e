// Package secure implements the AEAD-sealed store for the two values that
// must never leave the device in the clear: the long-term SharedSecret and
// the device's serial number (spec.md §6 "Persisted state layout").
// Grounded on the teacher's ecies package: an AEAD (here
// chacha20poly1305 rather than AES-GCM, since the teacher's own go.mod
// already pulls in golang.org/x/crypto for this primitive) keyed directly
// with the caller's master key when Open is called, persisted in a bbolt
// bucket.
package secure

import (
	"crypto/rand"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
)

var bucketName = []byte("secure")

const (
	keySharedSecret = "sharedSecret"
	keySerialNumber = "serialNumber"
)

// ErrNotFound indicates the requested key has never been written.
var ErrNotFound = errors.New("secure: key not found")

// Store is a chacha20poly1305-sealed key-value store over a bbolt file.
// Every value is sealed independently with a fresh random nonce.
type Store struct {
	db    *bbolt.DB
	aead  chacher
}

type chacher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Open opens (creating if necessary) the bbolt file at path, sealing all
// values under masterKey (32 bytes, e.g. derived from platform keychain
// material by the caller; this package never generates or stores it).
func Open(path string, masterKey [32]byte) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("secure: opening store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("secure: creating bucket: %w", err)
	}
	aead, err := chacha20poly1305.New(masterKey[:])
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("secure: constructing AEAD: %w", err)
	}
	return &Store{db: db, aead: aead}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, plaintext []byte) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secure: reading nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	record := append(nonce, sealed...)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), record)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var record []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		record = append([]byte(nil), v...)
		return nil
	}); err != nil {
		return nil, err
	}
	n := s.aead.NonceSize()
	if len(record) < n {
		return nil, fmt.Errorf("secure: stored record for %q is truncated", key)
	}
	nonce, ciphertext := record[:n], record[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secure: decrypting %q: %w", key, err)
	}
	return plaintext, nil
}

// PutSharedSecret seals and persists the long-term shared secret issued at
// registration.
func (s *Store) PutSharedSecret(secret []byte) error {
	return s.put(keySharedSecret, secret)
}

// SharedSecret returns the previously sealed shared secret.
func (s *Store) SharedSecret() ([]byte, error) {
	return s.get(keySharedSecret)
}

// PutSerialNumber seals and persists the device's assigned serial number.
func (s *Store) PutSerialNumber(serial []byte) error {
	return s.put(keySerialNumber, serial)
}

// SerialNumber returns the previously sealed serial number.
func (s *Store) SerialNumber() ([]byte, error) {
	return s.get(keySerialNumber)
}
