package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/platform/config"
	dErrors "aegis/pkg/domain-errors"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestLoadMasterKey(t *testing.T) {
	raw := strings.Repeat("ab", 32)

	t.Run("inline hex", func(t *testing.T) {
		key, err := LoadMasterKey(config.VaultConfig{MasterKeyHex: raw}, false, quiet)
		require.NoError(t, err)
		assert.Equal(t, raw, hex.EncodeToString(key.Bytes()))
	})

	t.Run("from file with trailing newline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte(raw+"\n"), 0o600))
		key, err := LoadMasterKey(config.VaultConfig{MasterKeyFile: path}, false, quiet)
		require.NoError(t, err)
		assert.False(t, key.IsZero())
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := LoadMasterKey(config.VaultConfig{MasterKeyHex: "abcd"}, false, quiet)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.NotContains(t, err.Error(), "abcd")
	})

	t.Run("missing outside development", func(t *testing.T) {
		_, err := LoadMasterKey(config.VaultConfig{}, false, quiet)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("ephemeral in development", func(t *testing.T) {
		key, err := LoadMasterKey(config.VaultConfig{}, true, quiet)
		require.NoError(t, err)
		assert.False(t, key.IsZero())
	})

	t.Run("both sources", func(t *testing.T) {
		_, err := LoadMasterKey(config.VaultConfig{MasterKeyHex: raw, MasterKeyFile: "/x"}, false, quiet)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestParseRSAPrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs8, err := EncodeRSAPrivateKey(key)
	require.NoError(t, err)
	parsed, err := ParseRSAPrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	parsed, err = ParseRSAPrivateKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	weak := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(small)})
	_, err = ParseRSAPrivateKey(weak)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseRSAPrivateKey([]byte("not pem"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestLoadSigningKeyRequiredOutsideDevelopment(t *testing.T) {
	_, err := LoadSigningKey(config.CredentialConfig{}, false, quiet)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestTokenHashRoundTrip(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)
	hash, err := Hash(secret)
	require.NoError(t, err)

	assert.NoError(t, Verify(secret, hash))
	err = Verify(secret+"x", hash)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
