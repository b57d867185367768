package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailbin/backend/internal/storage"
	"mailbin/backend/internal/storage/redis"
)

// maxGoroutines 存活检查的协程数上限，超过视为泄漏
const maxGoroutines = 2000

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 协程数检查
	hc.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(maxGoroutines))

	// 存储连接检查
	hc.health.AddReadinessCheck("storage", healthcheck.Timeout(func() error {
		return hc.store.Health()
	}, 5*time.Second))
}

// AddReadinessCheck 注册额外的就绪检查
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
}

// LiveHandler 返回存活探针处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪探针处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// RedisPingCheck Redis 连通性检查
func RedisPingCheck(cache *redis.Cache) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		return cache.Ping(ctx)
	}
}
