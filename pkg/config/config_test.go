package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", EnvDevelopment)
	t.Setenv("DB_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, 30*24*time.Hour, cfg.Refresh.Expiration)
	assert.Equal(t, 5, cfg.Lockout.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, 64, cfg.Refresh.SecretBytes)
	assert.True(t, cfg.Refresh.ReuseDetection)
	assert.Equal(t, 5*time.Second, cfg.Refresh.ReuseGrace)
	assert.Equal(t, 200, cfg.RateLimit.GlobalMax)
	assert.Equal(t, time.Minute, cfg.RateLimit.GlobalWindow)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, uint32(16), cfg.Password.SaltBytes)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/auth.db")
	t.Setenv("AUTH_LOCKOUT_THRESHOLD", "3")
	t.Setenv("AUTH_LOCKOUT_DURATION", "90s")
	t.Setenv("JWT_AUDIENCE", "web, mobile ,")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("REFRESH_REUSE_DETECTION", "false")
	t.Setenv("JWT_EXPIRATION", "not-a-duration")
	t.Setenv("REFRESH_REUSE_GRACE", "0s")
	t.Setenv("RATE_LIMIT_GLOBAL_MAX", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/auth.db", cfg.Database.SQLitePath)
	assert.Equal(t, 3, cfg.Lockout.Threshold)
	assert.Equal(t, 90*time.Second, cfg.Lockout.Duration)
	assert.Equal(t, []string{"web", "mobile"}, cfg.JWT.Audience)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Refresh.ReuseDetection)
	assert.Zero(t, cfg.Refresh.ReuseGrace)
	assert.Equal(t, 50, cfg.RateLimit.GlobalMax)
	assert.Equal(t, 15*time.Minute, cfg.JWT.Expiration, "unparseable durations fall back")
}

func validConfig() *Config {
	return &Config{
		Env:      EnvProduction,
		Database: DatabaseConfig{Driver: DriverMemory},
		JWT:      JWTConfig{Secret: "a-long-production-secret", Expiration: 15 * time.Minute},
		Password: PasswordConfig{Time: 3, MemoryKB: 64 * 1024, Threads: 1, KeyLength: 32, SaltBytes: 16},
		Lockout:  LockoutConfig{Threshold: 5, Duration: 15 * time.Minute},
		Refresh:  RefreshConfig{Expiration: 720 * time.Hour, SecretBytes: 64},
		Cookie:   CookieConfig{Secure: true},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"default secret":       func(c *Config) { c.JWT.Secret = defaultJWTSecret },
		"insecure cookies":     func(c *Config) { c.Cookie.Secure = false },
		"weak argon2 memory":   func(c *Config) { c.Password.MemoryKB = 1024 },
		"short salt":           func(c *Config) { c.Password.SaltBytes = 8 },
		"zero lockout":         func(c *Config) { c.Lockout.Threshold = 0 },
		"short refresh secret": func(c *Config) { c.Refresh.SecretBytes = 16 },
		"zero access lifetime": func(c *Config) { c.JWT.Expiration = 0 },
		"negative reuse grace": func(c *Config) { c.Refresh.ReuseGrace = -time.Second },
		"grace outlives token": func(c *Config) { c.Refresh.ReuseGrace = 721 * time.Hour },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsDevDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Env = EnvDevelopment
	cfg.JWT.Secret = defaultJWTSecret
	cfg.Cookie.Secure = false
	assert.NoError(t, cfg.Validate())
}
