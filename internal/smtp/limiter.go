package smtp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorIdleTTL 不活跃来源的限流状态保留时长
const visitorIdleTTL = 10 * time.Minute

// ConnectionLimiter SMTP 连接限流器
//
// 同时限制全局并发连接数和单个来源 IP 的新建连接速率。
type ConnectionLimiter struct {
	maxConns int
	connRate rate.Limit
	burst    int

	mu       sync.Mutex
	current  int
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - connRate: 单个来源每秒允许的新建连接数
//   - burst: 单个来源允许的突发连接数
func NewConnectionLimiter(maxConns int, connRate float64, burst int) *ConnectionLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		connRate: rate.Limit(connRate),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// Acquire 获取连接许可
//
// 返回值:
//   - bool: 是否获取成功
func (l *ConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 检查连接数限制
	if l.current >= l.maxConns {
		return false
	}

	// 检查来源速率限制
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.connRate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	if !v.limiter.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// CleanupLoop 周期清理不活跃来源的限流状态，防止 visitors 无界增长
func (l *ConnectionLimiter) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *ConnectionLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-visitorIdleTTL)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}
