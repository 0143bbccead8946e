package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "aegis/pkg/platform/strings"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Environment    string
	LogLevel       string
	Server         Server
	Postgres       PostgresConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Audit          AuditConfig
	Vault          VaultConfig
	Credential     CredentialConfig
	Signals        SignalsConfig
	Verification   VerificationConfig
	Review         ReviewConfig
	RiskPolicyFile string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	TrustProxy     bool
	RequestTimeout time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

type AuditConfig struct {
	BadgerDir     string
	OpsSampleRate float64
}

// VaultConfig locates the master key. Exactly one of MasterKeyHex and
// MasterKeyFile is expected outside development.
type VaultConfig struct {
	MasterKeyHex  string
	MasterKeyFile string
	KeyVersion    int

	// Previous* locate the key being retired. Only the offline migration
	// reads them.
	PreviousMasterKeyHex  string
	PreviousMasterKeyFile string
	PreviousKeyVersion    int
}

// Previous returns the retired key's settings in the shape LoadMasterKey
// expects.
func (v VaultConfig) Previous() VaultConfig {
	return VaultConfig{
		MasterKeyHex:  v.PreviousMasterKeyHex,
		MasterKeyFile: v.PreviousMasterKeyFile,
		KeyVersion:    v.PreviousKeyVersion,
	}
}

type CredentialConfig struct {
	PrivateKeyPEM  string
	PrivateKeyFile string
	Issuer         string
	// Validity of zero means five calendar years.
	Validity      time.Duration
	SweepInterval time.Duration
}

type SignalsConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// GeoLookupURL contains {ip}; empty disables the geolocation producer.
	GeoLookupURL     string
	AllowedCountries []string
}

type VerificationConfig struct {
	MaxTransitionAttempts int
	// ProviderTokenHash is the bcrypt hash of the token check providers
	// present when reporting steps. Empty closes the step route.
	ProviderTokenHash string
	SubjectTokenTTL   time.Duration
}

// ReviewConfig authenticates reviewers and operators. ReviewerTokens maps a
// reviewer ID to the bcrypt hash of that reviewer's token secret.
type ReviewConfig struct {
	ReviewerTokens map[string]string
	AdminTokenHash string
}

// IsDevelopment reports whether ephemeral secrets may be generated.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return n
	}
	float := func(key string, def float64) float64 {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return f
	}

	cfg := Config{
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Server: Server{
			Addr:           getenv("AEGIS_ADDR", ":8080"),
			TrustProxy:     os.Getenv("TRUST_PROXY_HEADERS") == "true",
			RequestTimeout: dur("HTTP_REQUEST_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: integer("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: integer("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			ConsumerGroup: getenv("KAFKA_CONSUMER_GROUP", "aegis"),
		},
		Audit: AuditConfig{
			BadgerDir:     getenv("AUDIT_BADGER_DIR", "./data/audit"),
			OpsSampleRate: float("AUDIT_OPS_SAMPLE_RATE", 1.0),
		},
		Vault: VaultConfig{
			MasterKeyHex:  os.Getenv("VAULT_MASTER_KEY"),
			MasterKeyFile: os.Getenv("VAULT_MASTER_KEY_FILE"),
			KeyVersion:    integer("VAULT_KEY_VERSION", 1),

			PreviousMasterKeyHex:  os.Getenv("VAULT_PREVIOUS_MASTER_KEY"),
			PreviousMasterKeyFile: os.Getenv("VAULT_PREVIOUS_MASTER_KEY_FILE"),
			PreviousKeyVersion:    integer("VAULT_PREVIOUS_KEY_VERSION", 0),
		},
		Credential: CredentialConfig{
			PrivateKeyPEM:  os.Getenv("CREDENTIAL_PRIVATE_KEY"),
			PrivateKeyFile: os.Getenv("CREDENTIAL_PRIVATE_KEY_FILE"),
			Issuer:         getenv("CREDENTIAL_ISSUER", "aegis-kyc"),
			Validity:       dur("CREDENTIAL_VALIDITY", 0),
			SweepInterval:  dur("CREDENTIAL_SWEEP_INTERVAL", time.Hour),
		},
		Signals: SignalsConfig{
			Timeout:          dur("SIGNAL_TIMEOUT", 2*time.Second),
			RatePerSecond:    float("SIGNAL_RATE_PER_SECOND", 50),
			Burst:            integer("SIGNAL_RATE_BURST", 100),
			GeoLookupURL:     os.Getenv("SIGNAL_GEO_LOOKUP_URL"),
			AllowedCountries: splitList(os.Getenv("SIGNAL_ALLOWED_COUNTRIES")),
		},
		Verification: VerificationConfig{
			MaxTransitionAttempts: integer("TRANSITION_MAX_ATTEMPTS", 5),
			ProviderTokenHash:     os.Getenv("CHECK_PROVIDER_TOKEN_HASH"),
			SubjectTokenTTL:       dur("SUBJECT_TOKEN_TTL", 24*time.Hour),
		},
		Review: ReviewConfig{
			ReviewerTokens: pairs("REVIEWER_TOKENS", &errs),
			AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		},
		RiskPolicyFile: os.Getenv("RISK_POLICY_FILE"),
	}

	if cfg.Vault.KeyVersion < 1 {
		errs = append(errs, "VAULT_KEY_VERSION: must be >= 1")
	}
	if cfg.Verification.MaxTransitionAttempts < 1 {
		errs = append(errs, "TRANSITION_MAX_ATTEMPTS: must be >= 1")
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// pairs reads "key=value" entries separated by commas.
func pairs(key string, errs *[]string) map[string]string {
	out := make(map[string]string)
	for _, entry := range splitList(os.Getenv(key)) {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" || v == "" {
			*errs = append(*errs, fmt.Sprintf("%s: malformed entry %q", key, entry))
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return strutil.DedupeAndTrim(strings.Split(v, ","))
}
