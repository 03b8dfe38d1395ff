package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Cascade modes for multi-record operations.
const (
	CascadeBestEffort    = "best-effort"
	CascadeTransactional = "transactional"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	UseLocalDB   bool
	LocalDataDir string
	PostgresDSN  string
	DBDriver     string

	// JWT配置
	JWTSecret string

	// CORS配置
	AllowedOrigins []string

	// 日志与调试配置
	Debug    bool
	LogLevel string

	// 多记录操作
	CascadeMode     string
	StoreRetryDelay time.Duration
}

// LoadConfig 加载配置
func LoadConfig() *Config {
	// 根据环境加载对应的 .env 文件
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// godotenv.Load never overrides variables that are already set
	switch env {
	case "production":
		_ = godotenv.Load(".env.production")
	default:
		_ = godotenv.Load(".env.local")
	}

	config := &Config{
		Environment:     getEnvWithDefault("ENVIRONMENT", "development"),
		Port:            getEnvWithDefault("PORT", "3000"),
		UseLocalDB:      getEnvBool("USE_LOCAL_DB", true),
		LocalDataDir:    strings.TrimSpace(os.Getenv("LOCAL_DATA_DIR")),
		DBDriver:        strings.ToLower(getEnvWithDefault("DB_DRIVER", "postgres")),
		JWTSecret:       getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		Debug:           getEnvBool("DEBUG", false),
		LogLevel:        strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		CascadeMode:     strings.ToLower(getEnvWithDefault("CASCADE_MODE", CascadeBestEffort)),
		StoreRetryDelay: getEnvDuration("STORE_RETRY_DELAY", 100*time.Millisecond),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, origin := range strings.Split(allowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, origin)
			}
		}
	}

	// 生产环境强制使用外部数据库并关闭调试
	if config.Environment == "production" {
		if config.PostgresDSN != "" {
			config.UseLocalDB = false
		}
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	if !c.UseLocalDB && c.PostgresDSN == "" {
		return fmt.Errorf("database configuration incomplete: set POSTGRES_DSN or USE_LOCAL_DB=true")
	}

	switch c.DBDriver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (expected postgres or pgx)", c.DBDriver)
	}

	switch c.CascadeMode {
	case CascadeBestEffort, CascadeTransactional:
	default:
		return fmt.Errorf("unsupported CASCADE_MODE %q (expected %s or %s)", c.CascadeMode, CascadeBestEffort, CascadeTransactional)
	}

	if c.StoreRetryDelay < 0 {
		return fmt.Errorf("STORE_RETRY_DELAY must not be negative")
	}

	return nil
}

// UsesDefaultJWTSecret reports whether the built-in development secret is active.
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// 辅助函数

// getEnvWithDefault 获取环境变量，如果不存在则使用默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型的环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("250ms") or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
