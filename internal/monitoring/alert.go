package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailbin/backend/internal/storage"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 一次告警事件
type Alert struct {
	Rule      string     `json:"rule"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Level     AlertLevel `json:"level"`
	Component string     `json:"component"`
	Timestamp time.Time  `json:"timestamp"`
}

// AlertRule 告警规则。Condition 为真且冷却期已过时触发，
// 冷却期内规则不再评估，避免同一故障刷屏。
type AlertRule struct {
	ID            string
	Name          string
	Condition     func() bool
	Level         AlertLevel
	Component     string
	Message       string
	Cooldown      time.Duration
	lastTriggered time.Time
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 周期性评估规则，把命中分发给全部接收器。
type AlertManager struct {
	mu        sync.Mutex
	rules     []*AlertRule
	receivers []AlertReceiver
	logger    *zap.Logger
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	return &AlertManager{logger: logger}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, &rule)
}

// CheckRules 评估一轮全部规则。
// Condition 可能做探活等慢操作，评估在锁外进行。
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	now := time.Now()
	due := make([]*AlertRule, 0, len(am.rules))
	for _, rule := range am.rules {
		if now.Sub(rule.lastTriggered) >= rule.Cooldown {
			due = append(due, rule)
		}
	}
	receivers := make([]AlertReceiver, len(am.receivers))
	copy(receivers, am.receivers)
	am.mu.Unlock()

	for _, rule := range due {
		if !rule.Condition() {
			continue
		}

		am.mu.Lock()
		rule.lastTriggered = time.Now()
		am.mu.Unlock()

		alert := &Alert{
			Rule:      rule.ID,
			Title:     rule.Name,
			Message:   rule.Message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: time.Now(),
		}

		am.logger.Info("alert triggered",
			zap.String("rule", rule.ID),
			zap.String("level", string(rule.Level)),
			zap.String("component", rule.Component),
		)

		for _, receiver := range receivers {
			if err := receiver.SendAlert(alert); err != nil {
				am.logger.Error("failed to send alert",
					zap.String("rule", rule.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// StartMonitoring 按 interval 周期评估规则，直到 ctx 取消。
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// ========== 内置告警规则 ==========

// HighMemoryUsageRule 堆内存超限告警
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("heap allocation exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// StorageHealthRule 存储探活失败告警
func StorageHealthRule(store storage.Store) AlertRule {
	return AlertRule{
		ID:   "storage_health",
		Name: "Storage Health",
		Condition: func() bool {
			return store.Health() != nil
		},
		Level:     AlertLevelCritical,
		Component: "storage",
		Message:   "storage health check failed",
		Cooldown:  time.Minute,
	}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 把告警写进结构化日志
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 按告警级别选择日志级别输出
func (r *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("rule", alert.Rule),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		r.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		r.logger.Warn("WARNING ALERT", fields...)
	default:
		r.logger.Info("INFO ALERT", fields...)
	}
	return nil
}
