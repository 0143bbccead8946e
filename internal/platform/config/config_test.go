package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.False(t, cfg.Server.TrustProxy)
		assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
		assert.Zero(t, cfg.Credential.Validity)
		assert.Equal(t, time.Hour, cfg.Credential.SweepInterval)
		assert.Empty(t, cfg.Review.ReviewerTokens)
		assert.Equal(t, 5, cfg.Verification.MaxTransitionAttempts)
		assert.Equal(t, 24*time.Hour, cfg.Verification.SubjectTokenTTL)
		assert.Empty(t, cfg.Verification.ProviderTokenHash)
		assert.True(t, cfg.IsDevelopment())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
		t.Setenv("SIGNAL_TIMEOUT", "750ms")
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("REVIEWER_TOKENS", "11111111-1111-1111-1111-111111111111=$2a$10$abc")
		t.Setenv("CHECK_PROVIDER_TOKEN_HASH", "$2a$10$def")
		t.Setenv("SUBJECT_TOKEN_TTL", "30m")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 750*time.Millisecond, cfg.Signals.Timeout)
		assert.False(t, cfg.IsDevelopment())
		assert.Equal(t, "$2a$10$abc", cfg.Review.ReviewerTokens["11111111-1111-1111-1111-111111111111"])
		assert.Equal(t, "$2a$10$def", cfg.Verification.ProviderTokenHash)
		assert.Equal(t, 30*time.Minute, cfg.Verification.SubjectTokenTTL)
	})

	t.Run("malformed values are reported together", func(t *testing.T) {
		t.Setenv("SIGNAL_TIMEOUT", "soon")
		t.Setenv("VAULT_KEY_VERSION", "zero")
		t.Setenv("REVIEWER_TOKENS", "no-separator")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SIGNAL_TIMEOUT")
		assert.Contains(t, err.Error(), "VAULT_KEY_VERSION")
		assert.Contains(t, err.Error(), "REVIEWER_TOKENS")
	})
}

func TestVaultConfigPrevious(t *testing.T) {
	t.Setenv("VAULT_KEY_VERSION", "2")
	t.Setenv("VAULT_PREVIOUS_MASTER_KEY_FILE", "/run/secrets/old-master")
	t.Setenv("VAULT_PREVIOUS_KEY_VERSION", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)

	prev := cfg.Vault.Previous()
	assert.Equal(t, "/run/secrets/old-master", prev.MasterKeyFile)
	assert.Equal(t, 1, prev.KeyVersion)
	assert.Empty(t, prev.MasterKeyHex)
	assert.Equal(t, 2, cfg.Vault.KeyVersion)
}
