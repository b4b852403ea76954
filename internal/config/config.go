package config

import (
	"fmt"
	"strings"

	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/rcm/rcm/internal/platform/audit"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	LogLevel            string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string   `mapstructure:"REDIS_URL"`
	AuthIssuer          string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL         string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey      string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	EncryptionKeySource string   `mapstructure:"ENCRYPTION_KEY_SOURCE"`
	EncryptionKeyVer    int      `mapstructure:"ENCRYPTION_KEY_VERSION"`
	EncryptionAlgorithm string   `mapstructure:"ENCRYPTION_ALGORITHM"`
	AuditLogFile        string   `mapstructure:"AUDIT_LOG_FILE"`
	AuditLogMaxSizeMB   int      `mapstructure:"AUDIT_LOG_MAX_SIZE_MB"`
	AuditLogMaxBackups  int      `mapstructure:"AUDIT_LOG_MAX_BACKUPS"`
	AuditLogMaxAgeDays  int      `mapstructure:"AUDIT_LOG_MAX_AGE_DAYS"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit           string   `mapstructure:"BODY_LIMIT"`
	ComplianceBodyLimit string   `mapstructure:"COMPLIANCE_BODY_LIMIT"`
	VaultAddr           string   `mapstructure:"VAULT_ADDR"`
	VaultToken          string   `mapstructure:"VAULT_TOKEN"`
	TLSEnabled          bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile         string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile          string   `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS",
	"ENCRYPTION_KEY_SOURCE", "ENCRYPTION_KEY_VERSION", "ENCRYPTION_ALGORITHM",
	"AUDIT_LOG_FILE", "AUDIT_LOG_MAX_SIZE_MB", "AUDIT_LOG_MAX_BACKUPS", "AUDIT_LOG_MAX_AGE_DAYS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "COMPLIANCE_BODY_LIMIT",
	"VAULT_ADDR", "VAULT_TOKEN",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads the configuration from the environment and an optional .env
// file in the working directory. Environment variables win.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ENCRYPTION_KEY_SOURCE", "env:PHI_ENCRYPTION_KEY")
	v.SetDefault("ENCRYPTION_KEY_VERSION", 1)
	v.SetDefault("AUDIT_LOG_MAX_SIZE_MB", 100)
	v.SetDefault("AUDIT_LOG_MAX_BACKUPS", 30)
	v.SetDefault("AUDIT_LOG_MAX_AGE_DAYS", audit.DefaultMaxAgeDays)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("COMPLIANCE_BODY_LIMIT", "10M")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// UsesDatabase reports whether repositories are backed by PostgreSQL. Only
// development may run on in-memory repositories.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// Level returns the zerolog level for LOG_LEVEL.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to run and reports every
// problem at once, keyed by variable name.
func (c *Config) Validate() error {
	var errs errsx.Map

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs.Set("ENV", fmt.Sprintf("must be development, staging or production, got %q", c.Env))
	}
	if c.Port == "" {
		errs.Set("PORT", "is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs.Set("LOG_LEVEL", err)
	}

	if !c.IsDev() && c.DatabaseURL == "" {
		errs.Set("DATABASE_URL", "is required outside development")
	}
	if c.DBMaxConns <= 0 {
		errs.Set("DB_MAX_CONNS", "must be positive")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs.Set("DB_MIN_CONNS", fmt.Sprintf("must be between 0 and DB_MAX_CONNS (%d)", c.DBMaxConns))
	}

	if !c.IsDev() {
		if c.AuthJWKSURL == "" {
			errs.Set("AUTH_JWKS_URL", "is required outside development")
		}
		if c.AuthSigningKey != "" {
			errs.Set("AUTH_SIGNING_KEY", "is only allowed in development")
		}
	}

	if c.EncryptionKeySource == "" {
		errs.Set("ENCRYPTION_KEY_SOURCE", "is required")
	}
	if strings.HasPrefix(c.EncryptionKeySource, "vault:") && c.VaultAddr == "" {
		errs.Set("VAULT_ADDR", "is required when ENCRYPTION_KEY_SOURCE is a vault path")
	}
	if c.EncryptionKeyVer < 1 {
		errs.Set("ENCRYPTION_KEY_VERSION", "must be at least 1")
	}

	if c.AuditLogMaxSizeMB < 0 {
		errs.Set("AUDIT_LOG_MAX_SIZE_MB", "must not be negative")
	}
	if c.AuditLogMaxBackups < 0 {
		errs.Set("AUDIT_LOG_MAX_BACKUPS", "must not be negative")
	}
	if c.AuditLogMaxAgeDays <= 0 {
		errs.Set("AUDIT_LOG_MAX_AGE_DAYS", "must be positive")
	}

	if c.RateLimitRPS <= 0 {
		errs.Set("RATE_LIMIT_RPS", "must be positive")
	}
	if c.RateLimitBurst <= 0 {
		errs.Set("RATE_LIMIT_BURST", "must be positive")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			errs.Set("TLS_CERT_FILE", "is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			errs.Set("TLS_KEY_FILE", "is required when TLS_ENABLED is true")
		}
	}

	return errs.AsError()
}
