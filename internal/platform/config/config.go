package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates all runtime configuration so main stays lean.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Signer    SignerConfig
	SMTP      SMTPConfig
	Issuer    IssuerConfig
	Issuance  IssuanceConfig
	TrustList TrustFrameworkConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr          string
	JWTSigningKey string
	ExternalURL   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
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
	Brokers         string
	AuditTopic      string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// SignerConfig points at the remote signature provider.
type SignerConfig struct {
	SignURL        string
	TokenURL       string
	CertificateURL string
	ClientID       string
	ClientSecret   string
	CredentialID   string
	RequestTimeout time.Duration
}

type SMTPConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// IssuerConfig is the static default-signer identity embedded as credential
// issuer when the organization signs with its own keypair.
type IssuerConfig struct {
	DID                    string
	OrganizationIdentifier string
	Organization           string
	Country                string
	CommonName             string
	EmailAddress           string
	SerialNumber           string
}

// IssuanceConfig holds issuance workflow tunables.
type IssuanceConfig struct {
	// ValidityDays is the credential validity window. The upstream deployments
	// disagreed between 30 and 365 days, so it is configuration, not code.
	ValidityDays          int
	TransactionCodeLength int
	OfferTTL              time.Duration
	// CertSyncMarksPending controls whether a SYNC VerifiableCertification
	// passes through PEND_SIGNATURE before VALID.
	CertSyncMarksPending bool
	CredentialOfferPath  string
}

type TrustFrameworkConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// FromEnv builds the full configuration from environment variables, applying
// development defaults where a value is absent.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:          envOr("ISSUER_ADDR", ":8080"),
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			ExternalURL:   envOr("ISSUER_EXTERNAL_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			AuditTopic:      envOr("KAFKA_AUDIT_TOPIC", "issuer.audit.events"),
			Acks:            envOr("KAFKA_ACKS", "all"),
			Retries:         envInt("KAFKA_RETRIES", 3),
			DeliveryTimeout: envDuration("KAFKA_DELIVERY_TIMEOUT", 10*time.Second),
		},
		Signer: SignerConfig{
			SignURL:        os.Getenv("SIGNER_SIGN_URL"),
			TokenURL:       os.Getenv("SIGNER_TOKEN_URL"),
			CertificateURL: os.Getenv("SIGNER_CERTIFICATE_URL"),
			ClientID:       os.Getenv("SIGNER_CLIENT_ID"),
			ClientSecret:   os.Getenv("SIGNER_CLIENT_SECRET"),
			CredentialID:   os.Getenv("SIGNER_CREDENTIAL_ID"),
			RequestTimeout: envDuration("SIGNER_REQUEST_TIMEOUT", 10*time.Second),
		},
		SMTP: SMTPConfig{
			Host:      envOr("SMTP_HOST", "localhost"),
			Port:      envOr("SMTP_PORT", "587"),
			Username:  os.Getenv("SMTP_USERNAME"),
			Password:  os.Getenv("SMTP_PASSWORD"),
			FromEmail: envOr("SMTP_FROM_EMAIL", "noreply@issuer.local"),
			FromName:  envOr("SMTP_FROM_NAME", "Credential Issuer"),
		},
		Issuer: IssuerConfig{
			DID:                    os.Getenv("DEFAULT_ISSUER_DID"),
			OrganizationIdentifier: os.Getenv("DEFAULT_ISSUER_ORG_ID"),
			Organization:           os.Getenv("DEFAULT_ISSUER_ORGANIZATION"),
			Country:                os.Getenv("DEFAULT_ISSUER_COUNTRY"),
			CommonName:             os.Getenv("DEFAULT_ISSUER_COMMON_NAME"),
			EmailAddress:           os.Getenv("DEFAULT_ISSUER_EMAIL"),
			SerialNumber:           os.Getenv("DEFAULT_ISSUER_SERIAL_NUMBER"),
		},
		Issuance: IssuanceConfig{
			ValidityDays:          envInt("CREDENTIAL_VALIDITY_DAYS", 365),
			TransactionCodeLength: envInt("TRANSACTION_CODE_LENGTH", 32),
			OfferTTL:              envDuration("CREDENTIAL_OFFER_TTL", 10*time.Minute),
			CertSyncMarksPending:  os.Getenv("CERT_SYNC_MARKS_PENDING") == "true",
			CredentialOfferPath:   envOr("CREDENTIAL_OFFER_PATH", "/oid4vci/credential-offer"),
		},
		TrustList: TrustFrameworkConfig{
			BaseURL:        os.Getenv("TRUST_FRAMEWORK_URL"),
			RequestTimeout: envDuration("TRUST_FRAMEWORK_TIMEOUT", 10*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
