package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort          int
	SMTPPort          int
	SMTPIntakeEnabled bool
	SMTPAuthEnabled   bool
	SMTPUsername      string
	SMTPPassword      string
	AuthSecret        string

	StoreBackend      string
	DBPath            string
	StorePrefix       string
	StoreChunkSize    int
	StoreCapacity     int64
	StoreEnforceQuota bool

	S3 S3Config

	MailTMBaseURL string
	MailTMTimeout time.Duration
	KeyringDir    string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

// DefaultSMTPCredential is the username and password used when none is
// configured.
const DefaultSMTPCredential = "mailstash"

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

func Load() Config {
	return Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 3025),
		SMTPPort:          getEnvInt("SMTP_PORT", 2025),
		SMTPIntakeEnabled: getEnvBool("SMTP_INTAKE_ENABLED", true),
		SMTPAuthEnabled:   getEnvBool("SMTP_AUTH_ENABLED", true),
		SMTPUsername:      getEnvString("SMTP_USERNAME", DefaultSMTPCredential),
		SMTPPassword:      getEnvString("SMTP_PASSWORD", DefaultSMTPCredential),
		AuthSecret:        getEnvString("AUTH_SECRET", ""),

		StoreBackend:      strings.ToLower(getEnvString("STORE_BACKEND", BackendSQLite)),
		DBPath:            getEnvString("DB_PATH", ""),
		StorePrefix:       getEnvString("STORE_PREFIX", "mail_storage_"),
		StoreChunkSize:    getEnvInt("STORE_CHUNK_SIZE", 1024*1024),
		StoreCapacity:     getEnvInt64("STORE_CAPACITY", 50*1024*1024),
		StoreEnforceQuota: getEnvBool("STORE_ENFORCE_QUOTA", true),

		S3: S3Config{
			Bucket:    getEnvString("S3_BUCKET", ""),
			Region:    getEnvString("S3_REGION", "us-east-1"),
			Endpoint:  getEnvString("S3_ENDPOINT", ""),
			Prefix:    getEnvString("S3_PREFIX", ""),
			AccessKey: getEnvString("S3_ACCESS_KEY", ""),
			SecretKey: getEnvString("S3_SECRET_KEY", ""),
		},

		MailTMBaseURL: getEnvString("MAILTM_BASE_URL", "https://api.mail.tm"),
		MailTMTimeout: time.Duration(getEnvInt("MAILTM_TIMEOUT_SECONDS", 10)) * time.Second,
		KeyringDir:    getEnvString("KEYRING_DIR", ""),
	}
}

// DefaultSMTPAuth reports whether the intake requires auth but still uses
// the built-in username or password.
func (c Config) DefaultSMTPAuth() bool {
	return c.SMTPIntakeEnabled && c.SMTPAuthEnabled &&
		(c.SMTPUsername == DefaultSMTPCredential || c.SMTPPassword == DefaultSMTPCredential)
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
