// Package keyring holds the vault master key for the life of the process
// and derives the data key used for field encryption.
package keyring

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"aegis/internal/vault/cipher"
	dErrors "aegis/pkg/domain-errors"
)

// Keyring is immutable after construction. It is safe for concurrent use.
type Keyring struct {
	version int
	dataKey cipher.Key
}

// New derives the data key for version from master. The master key itself is
// not retained.
func New(master cipher.Key, version int) (*Keyring, error) {
	if master.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "master key not loaded")
	}
	if version < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key version must be >= 1")
	}
	raw, err := Derive(master, fmt.Sprintf("aegis/vault/field-encryption/v%d", version))
	if err != nil {
		return nil, err
	}
	dataKey, err := cipher.NewKey(raw)
	if err != nil {
		return nil, err
	}
	return &Keyring{version: version, dataKey: dataKey}, nil
}

// Derive expands master into a 256-bit key bound to purpose. Keys for
// different purposes are independent of each other and of master.
func Derive(master cipher.Key, purpose string) ([]byte, error) {
	if master.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "master key not loaded")
	}
	r := hkdf.New(sha256.New, master.Bytes(), nil, []byte(purpose))
	raw := make([]byte, cipher.KeySize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return raw, nil
}

// Version identifies the master key generation.
func (k *Keyring) Version() int { return k.version }

// DataKey returns the derived field encryption key.
func (k *Keyring) DataKey() cipher.Key { return k.dataKey }

func (k *Keyring) String() string {
	return fmt.Sprintf("keyring(v%d)", k.version)
}
