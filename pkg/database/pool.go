package database

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	poolIdleTTL       = 30 * time.Minute
	poolHealthTimeout = 5 * time.Second
)

// DatabasePool 数据库连接池. One store instance is shared by every request of a warm instance.
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

func (p *DatabasePool) touch() {
	p.mu.Lock()
	p.lastUsed = time.Now()
	p.mu.Unlock()
}

func (p *DatabasePool) idleFor() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.lastUsed)
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式 + 连接池）
func GetDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	log := zap.L().Named("database")

	if globalPool != nil && globalPool.reusableFor(config, log) {
		globalPool.touch()
		log.Debug("reusing existing database connection", zap.String("type", globalPool.instance.Type()))
		return globalPool.instance, nil
	}

	// 关闭旧连接（如果存在）
	if globalPool != nil {
		if err := globalPool.instance.Close(); err != nil {
			log.Warn("failed to close previous store", zap.Error(err))
		}
		globalPool = nil
	}

	instance, err := NewDatabase(config)
	if err != nil {
		return nil, err
	}
	log.Info("database pool created", zap.String("type", instance.Type()))

	globalPool = &DatabasePool{instance: instance, config: config, lastUsed: time.Now()}
	return instance, nil
}

// reusableFor reports whether the cached store still serves config: same settings, recently
// used and answering pings.
func (p *DatabasePool) reusableFor(config DatabaseConfig, log *zap.Logger) bool {
	if p.instance == nil {
		return false
	}
	if p.config != config {
		log.Info("database configuration changed, recreating connection")
		return false
	}
	if idle := p.idleFor(); idle > poolIdleTTL {
		log.Info("database connection expired, recreating", zap.Duration("idle", idle))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), poolHealthTimeout)
	defer cancel()
	if err := p.instance.HealthCheck(ctx); err != nil {
		log.Warn("database health check failed, recreating", zap.Error(err))
		return false
	}
	return true
}

// ResetPool closes and forgets the cached connection.
func ResetPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
	}
	globalPool = nil
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	idle := globalPool.idleFor()
	return map[string]interface{}{
		"status":    "connected",
		"type":      globalPool.instance.Type(),
		"last_used": time.Now().Add(-idle).Format(time.RFC3339),
		"idle":      idle.String(),
		"config": map[string]interface{}{
			"use_local_db": globalPool.config.UseLocalDB,
			"driver":       globalPool.config.Driver,
			"has_postgres": globalPool.config.PostgresDSN != "",
		},
	}
}
