package service

import (
	"time"

	"go.uber.org/zap"

	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/storage"
)

// SweepResult 汇总一轮回收各遍的删除数量。
type SweepResult struct {
	Mailboxes int `json:"mailboxes"`
	Messages  int `json:"messages"`
	Orphans   int `json:"orphans"`
}

// Sweeper 周期性回收器：到期邮箱、超龄或已读邮件、孤儿邮件。
// 三遍各自独立提交，单遍失败记日志后继续，不中断整轮。
// 永久邮箱及其邮件从不进入任何一遍的候选集。
type Sweeper struct {
	store     storage.SweepRepository
	retention time.Duration
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewSweeper 创建回收器。retention 是非永久邮箱里邮件的保留时长。
func NewSweeper(store storage.SweepRepository, retention time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		logger:    logger,
	}
}

// SetMetrics 设置指标收集器（可选）
func (s *Sweeper) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Run 以 now 为基准执行一轮回收。
// 幂等，可与在线流量并发，也可与自身并发；外部 cron 单次触发
// 与进程内定时器走的都是这同一个入口。
func (s *Sweeper) Run(now time.Time) SweepResult {
	start := time.Now()
	var result SweepResult

	mailboxes, err := s.store.DeleteExpiredMailboxes(now)
	if err != nil {
		s.logger.Error("expired mailbox pass failed", zap.Error(err))
	} else {
		result.Mailboxes = mailboxes
	}

	messages, err := s.store.PurgeMessages(now, s.retention)
	if err != nil {
		s.logger.Error("message purge pass failed", zap.Error(err))
	} else {
		result.Messages = messages
	}

	orphans, err := s.store.DeleteOrphanMessages()
	if err != nil {
		s.logger.Error("orphan pass failed", zap.Error(err))
	} else {
		result.Orphans = orphans
	}

	if s.metrics != nil {
		s.metrics.RecordSweep(time.Since(start), result.Mailboxes, result.Messages, result.Orphans)
	}

	s.logger.Info("sweep finished",
		zap.Time("now", now),
		zap.Int("mailboxes", result.Mailboxes),
		zap.Int("messages", result.Messages),
		zap.Int("orphans", result.Orphans),
		zap.Duration("took", time.Since(start)),
	)
	return result
}
