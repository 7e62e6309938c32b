package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const defaultJWTSecret = "dev_secret"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	Refresh   RefreshConfig
	Cookie    CookieConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	CORS      CORSConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Audience   []string
	Expiration time.Duration
}

// PasswordConfig carries the argon2id cost parameters.
type PasswordConfig struct {
	Time      uint32
	MemoryKB  uint32
	Threads   uint8
	KeyLength uint32
	SaltBytes uint32
}

// LockoutConfig controls the failed-attempt lockout policy.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// RefreshConfig controls refresh token issuance and replay handling.
type RefreshConfig struct {
	Expiration     time.Duration
	SecretBytes    int
	ReuseDetection bool
	// ReuseGrace tolerates presenting a just-rotated token, as happens when
	// a client races itself, without revoking the whole chain.
	ReuseGrace time.Duration
}

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Secure bool
	Domain string
}

// RateLimitConfig throttles the auth endpoints per client IP. The global
// budget applies to every route on top of the per-endpoint one.
type RateLimitConfig struct {
	Enabled      bool
	Max          int
	Window       time.Duration
	GlobalMax    int
	GlobalWindow time.Duration
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Audience:   splitAndTrim(v.GetString("JWT_AUDIENCE")),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
	}

	cfg.Password = PasswordConfig{
		Time:      v.GetUint32("AUTH_ARGON_TIME"),
		MemoryKB:  v.GetUint32("AUTH_ARGON_MEMORY_KB"),
		Threads:   uint8(v.GetUint("AUTH_ARGON_THREADS")),
		KeyLength: v.GetUint32("AUTH_ARGON_KEY_LENGTH"),
		SaltBytes: v.GetUint32("AUTH_SALT_BYTES"),
	}

	cfg.Lockout = LockoutConfig{
		Threshold: v.GetInt("AUTH_LOCKOUT_THRESHOLD"),
		Duration:  parseDuration(v.GetString("AUTH_LOCKOUT_DURATION"), 15*time.Minute),
	}

	cfg.Refresh = RefreshConfig{
		Expiration:     parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 30*24*time.Hour),
		SecretBytes:    v.GetInt("REFRESH_TOKEN_BYTES"),
		ReuseDetection: v.GetBool("REFRESH_REUSE_DETECTION"),
		ReuseGrace:     parseDuration(v.GetString("REFRESH_REUSE_GRACE"), 5*time.Second),
	}

	cfg.Cookie = CookieConfig{
		Secure: v.GetBool("COOKIE_SECURE"),
		Domain: v.GetString("COOKIE_DOMAIN"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
		Max:     v.GetInt("RATE_LIMIT_MAX"),
		Window:  parseDuration(v.GetString("RATE_LIMIT_WINDOW"), 15*time.Minute),

		GlobalMax:    v.GetInt("RATE_LIMIT_GLOBAL_MAX"),
		GlobalWindow: parseDuration(v.GetString("RATE_LIMIT_GLOBAL_WINDOW"), time.Minute),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would weaken the credential core.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Env == EnvProduction && (c.JWT.Secret == "" || c.JWT.Secret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Env == EnvProduction && !c.Cookie.Secure {
		return errors.New("COOKIE_SECURE cannot be disabled in production")
	}
	if c.Password.Time < 1 || c.Password.Threads < 1 {
		return errors.New("argon2 time and threads must be >= 1")
	}
	if c.Password.MemoryKB < 8*1024 {
		return errors.New("argon2 memory must be >= 8192 KB")
	}
	if c.Password.SaltBytes < 16 || c.Password.KeyLength < 16 {
		return errors.New("argon2 salt and key length must be >= 16 bytes")
	}
	if c.Lockout.Threshold < 1 || c.Lockout.Duration <= 0 {
		return errors.New("lockout threshold and duration must be positive")
	}
	if c.Refresh.SecretBytes < 32 {
		return errors.New("REFRESH_TOKEN_BYTES must be >= 32")
	}
	if c.JWT.Expiration <= 0 || c.Refresh.Expiration <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Refresh.ReuseGrace < 0 {
		return errors.New("REFRESH_REUSE_GRACE cannot be negative")
	}
	if c.Refresh.ReuseGrace >= c.Refresh.Expiration {
		return errors.New("REFRESH_REUSE_GRACE must be shorter than the refresh token lifetime")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "secure_login")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("SQLITE_PATH", "./secure_login.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "secure-login-api")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_EXPIRATION", "15m")

	v.SetDefault("AUTH_ARGON_TIME", 3)
	v.SetDefault("AUTH_ARGON_MEMORY_KB", 64*1024)
	v.SetDefault("AUTH_ARGON_THREADS", 1)
	v.SetDefault("AUTH_ARGON_KEY_LENGTH", 32)
	v.SetDefault("AUTH_SALT_BYTES", 16)
	v.SetDefault("AUTH_LOCKOUT_THRESHOLD", 5)
	v.SetDefault("AUTH_LOCKOUT_DURATION", "15m")

	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "720h")
	v.SetDefault("REFRESH_TOKEN_BYTES", 64)
	v.SetDefault("REFRESH_REUSE_DETECTION", true)
	v.SetDefault("REFRESH_REUSE_GRACE", "5s")

	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_DOMAIN", "")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_MAX", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_GLOBAL_MAX", 200)
	v.SetDefault("RATE_LIMIT_GLOBAL_WINDOW", "1m")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// viper reports a missing explicit config file as a plain fs error.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory") ||
		strings.Contains(err.Error(), "cannot find the file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
