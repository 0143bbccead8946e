// Package secrets loads key material once at process start and handles the
// reviewer API token secrets.
package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"aegis/internal/platform/config"
	"aegis/internal/vault/cipher"
	dErrors "aegis/pkg/domain-errors"
)

// MinRSABits is the smallest signing key accepted for credentials.
const MinRSABits = 2048

// LoadMasterKey reads the vault master key from the inline hex value or the
// key file. In development a missing key is replaced by an ephemeral one;
// anything encrypted with it is unreadable after restart.
func LoadMasterKey(cfg config.VaultConfig, development bool, logger *slog.Logger) (cipher.Key, error) {
	raw, err := readSecret(cfg.MasterKeyHex, cfg.MasterKeyFile)
	if err != nil {
		return cipher.Key{}, err
	}
	if raw == "" {
		if !development {
			return cipher.Key{}, dErrors.New(dErrors.CodeInvalidInput, "vault master key is not configured")
		}
		logger.Warn("VAULT_MASTER_KEY not set; using an ephemeral development key")
		return cipher.GenerateKey()
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil || len(decoded) != cipher.KeySize {
		return cipher.Key{}, dErrors.New(dErrors.CodeInvalidInput, "vault master key must be 64 hex characters")
	}
	key, err := cipher.NewKey(decoded)
	clear(decoded)
	return key, err
}

// LoadSigningKey reads the credential issuer's RSA private key (PKCS#1 or
// PKCS#8 PEM). In development a missing key is generated.
func LoadSigningKey(cfg config.CredentialConfig, development bool, logger *slog.Logger) (*rsa.PrivateKey, error) {
	raw, err := readSecret(cfg.PrivateKeyPEM, cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		if !development {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "credential signing key is not configured")
		}
		logger.Warn("CREDENTIAL_PRIVATE_KEY not set; generating an ephemeral development key")
		key, err := rsa.GenerateKey(rand.Reader, MinRSABits)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		return key, nil
	}
	return ParseRSAPrivateKey([]byte(raw))
}

// ParseRSAPrivateKey decodes the first PEM block of data.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key is not PEM encoded")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid PKCS#1 signing key")
		}
		key = k
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid PKCS#8 signing key")
		}
		k, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key is not RSA")
		}
		key = k
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported PEM block "+block.Type)
	}
	if key.N.BitLen() < MinRSABits {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("signing key must be at least %d bits", MinRSABits))
	}
	return key, nil
}

// EncodeRSAPrivateKey renders key as PKCS#8 PEM.
func EncodeRSAPrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func readSecret(inline, file string) (string, error) {
	if inline != "" && file != "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "configure a secret inline or by file, not both")
	}
	if file == "" {
		return inline, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return string(b), nil
}

// Generate creates a random token secret, base64url encoded.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of a token secret for configuration.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a presented secret against its bcrypt hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid secret")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
