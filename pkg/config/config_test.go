package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "PORT", "USE_LOCAL_DB", "DB_DRIVER", "JWT_SECRET", "CASCADE_MODE", "STORE_RETRY_DELAY", "ALLOWED_ORIGINS", "POSTGRES_DSN"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "3000", cfg.Port)
	assert.True(t, cfg.UseLocalDB)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, CascadeBestEffort, cfg.CascadeMode)
	assert.Equal(t, 100*time.Millisecond, cfg.StoreRetryDelay)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.UsesDefaultJWTSecret())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("POSTGRES_DSN", " postgres://u:p@db/app \n")
	t.Setenv("DB_DRIVER", "PGX")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CASCADE_MODE", "Transactional")
	t.Setenv("STORE_RETRY_DELAY", "250")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DEBUG", "true")

	cfg := LoadConfig()
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.UseLocalDB)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "postgres://u:p@db/app", cfg.PostgresDSN)
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, CascadeTransactional, cfg.CascadeMode)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreRetryDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Port:        "3000",
			UseLocalDB:  true,
			DBDriver:    "postgres",
			JWTSecret:   defaultJWTSecret,
			CascadeMode: CascadeBestEffort,
		}
	}

	cases := map[string]func(c *Config){
		"missing port":        func(c *Config) { c.Port = "" },
		"unknown driver":      func(c *Config) { c.DBDriver = "mysql" },
		"unknown cascade":     func(c *Config) { c.CascadeMode = "eventual" },
		"negative delay":      func(c *Config) { c.StoreRetryDelay = -time.Second },
		"no store":            func(c *Config) { c.UseLocalDB = false },
		"default prod secret": func(c *Config) { c.Environment = "production" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DELAY", "1s")
	assert.Equal(t, time.Second, getEnvDuration("X_DELAY", 0))
	t.Setenv("X_DELAY", "nope")
	assert.Equal(t, time.Minute, getEnvDuration("X_DELAY", time.Minute))
}
