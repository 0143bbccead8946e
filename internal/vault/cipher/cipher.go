// Package cipher implements authenticated field-level encryption for PII.
//
// Every value is sealed with AES-256-GCM under a fresh 96-bit random nonce.
// Associated data binds a ciphertext to where it belongs (subject, field,
// key version) so a valid ciphertext copied to another field or subject
// fails authentication.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	dErrors "aegis/pkg/domain-errors"
)

// Algorithm tags an EncryptedField with the construction that produced it.
type Algorithm string

const AlgorithmAES256GCM Algorithm = "AES-256-GCM"

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// ErrIntegrity is wrapped by every decryption failure.
var ErrIntegrity = errors.New("field integrity check failed")

// Key is a 256-bit data key. It never renders or serializes its bytes.
type Key struct {
	b [KeySize]byte
}

// NewKey copies raw into a Key.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("key must be %d bytes", KeySize))
	}
	copy(k.b[:], raw)
	return k, nil
}

// GenerateKey returns a random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k.b[:]); err != nil {
		return k, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// IsZero reports an unset key.
func (k Key) IsZero() bool {
	var zero [KeySize]byte
	return subtle.ConstantTimeCompare(k.b[:], zero[:]) == 1
}

// Equal compares keys in constant time.
func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k.b[:], other.b[:]) == 1
}

const redacted = "[REDACTED]"

func (Key) String() string   { return redacted }
func (Key) GoString() string { return redacted }

// Format covers every fmt verb, including %x and %+v.
func (Key) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }

func (Key) MarshalJSON() ([]byte, error) { return nil, errors.New("cipher: key is not serializable") }
func (Key) MarshalText() ([]byte, error) { return nil, errors.New("cipher: key is not serializable") }

// Bytes exposes key material to key derivation only.
func (k Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.b[:])
	return out
}

// EncryptedField is a sealed PII value. Ciphertext carries the GCM tag.
type EncryptedField struct {
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	Algorithm  Algorithm `json:"algorithm"`
}

func newAEAD(key Key) (gocipher.AEAD, error) {
	if key.IsZero() {
		return nil, dErrors.New(dErrors.CodeInternal, "encryption key not loaded")
	}
	block, err := aes.NewCipher(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	return gocipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(key Key, plaintext, aad []byte) (EncryptedField, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return EncryptedField{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedField{}, dErrors.Wrap(err, dErrors.CodeInternal, "nonce generation failed")
	}
	return EncryptedField{
		Ciphertext: aead.Seal(nil, nonce, plaintext, aad),
		Nonce:      nonce,
		Algorithm:  AlgorithmAES256GCM,
	}, nil
}

// Decrypt opens field. It fails closed: any mismatch in algorithm, nonce,
// ciphertext, tag, key or associated data returns a CodeIntegrity error and
// no plaintext.
func Decrypt(key Key, field EncryptedField, aad []byte) ([]byte, error) {
	if field.Algorithm != AlgorithmAES256GCM {
		return nil, integrityError("unsupported algorithm")
	}
	if len(field.Nonce) != NonceSize {
		return nil, integrityError("malformed nonce")
	}
	if len(field.Ciphertext) < TagSize {
		return nil, integrityError("truncated ciphertext")
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, field.Nonce, field.Ciphertext, aad)
	if err != nil {
		return nil, integrityError("authentication failed")
	}
	return plaintext, nil
}

func integrityError(reason string) error {
	return dErrors.Wrap(ErrIntegrity, dErrors.CodeIntegrity, reason)
}
