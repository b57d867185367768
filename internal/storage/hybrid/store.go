package hybrid

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/storage"
	"mailbin/backend/internal/storage/postgres"
	"mailbin/backend/internal/storage/redis"
)

// Store 混合存储实现：SQL 落盘，Redis 作旁路读缓存。
// 缓存只是加速层，存活性判定始终依据行内 expires_at 在读取时复查，
// 到期或失效的缓存条目在读取路径上剔除。
type Store struct {
	db    *postgres.Store
	cache *redis.Cache
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建混合存储实例
func NewStore(db *postgres.Store, cache *redis.Cache) *Store {
	return &Store{
		db:    db,
		cache: cache,
	}
}

// ========== Mailbox Repository ==========

// SaveMailbox 保存邮箱信息
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	if err := s.db.SaveMailbox(mailbox); err != nil {
		return err
	}

	// 缓存失败不影响主流程
	s.cache.CacheMailbox(mailbox, 24*time.Hour)
	return nil
}

// GetMailboxByAddress 根据地址获取 now 时刻存活的邮箱
func (s *Store) GetMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	if mailbox, err := s.cache.GetCachedMailbox(address); err == nil {
		if mailbox.Live(now) {
			// 命中缓存同样要刷新访问时间
			s.db.TouchMailbox(address, now)
			mailbox.LastAccessedAt = now
			return mailbox.Hydrate(), nil
		}
		// 缓存里的行已到期：当作不存在，剔除后落库确认
		s.cache.DeleteCachedMailbox(address)
	}

	mailbox, err := s.db.GetMailboxByAddress(address, now)
	if err != nil {
		return nil, err
	}

	s.cache.CacheMailbox(mailbox, 24*time.Hour)
	return mailbox, nil
}

// UpdateMailboxExpiry 改写过期时间
func (s *Store) UpdateMailboxExpiry(address string, expiresAt time.Time) error {
	if err := s.db.UpdateMailboxExpiry(address, expiresAt); err != nil {
		return err
	}

	// 旧快照作废，下次读取回填
	s.cache.DeleteCachedMailbox(address)
	return nil
}

// DeleteMailbox 删除邮箱及其邮件与附件
func (s *Store) DeleteMailbox(address string) error {
	if err := s.db.DeleteMailbox(address); err != nil {
		return err
	}

	// 邮件列表缓存以 mailbox_id 为键，邮箱删除后服务层已无法定位到它，
	// 留给 TTL 自然过期
	s.cache.DeleteCachedMailbox(address)
	return nil
}

// CountMailboxes 返回物理存在的邮箱行数
func (s *Store) CountMailboxes() (int64, error) {
	return s.db.CountMailboxes()
}

// ========== Message Repository ==========

// SaveMessage 保存邮件及其附件
func (s *Store) SaveMessage(message *domain.Message) error {
	if err := s.db.SaveMessage(message); err != nil {
		return err
	}

	// 单封缓存不超过回收间隔，被清理邮件的陈旧窗口以此为上界
	s.cache.CacheMessage(message, time.Hour)

	// 列表已变化，作废列表缓存
	s.cache.DeleteCachedMessageList(message.MailboxID)
	return nil
}

// ListMessages 返回某个邮箱下的全部邮件，按接收时间倒序
func (s *Store) ListMessages(mailboxID string) ([]domain.Message, error) {
	if messages, err := s.cache.GetCachedMessageList(mailboxID); err == nil {
		return messages, nil
	}

	messages, err := s.db.ListMessages(mailboxID)
	if err != nil {
		return nil, err
	}

	s.cache.CacheMessageList(mailboxID, messages, time.Hour)
	return messages, nil
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(mailboxID, messageID string) (*domain.Message, error) {
	if message, err := s.cache.GetCachedMessage(mailboxID, messageID); err == nil {
		return message, nil
	}

	message, err := s.db.GetMessage(mailboxID, messageID)
	if err != nil {
		return nil, err
	}

	s.cache.CacheMessage(message, time.Hour)
	return message, nil
}

// MarkMessageRead 将邮件标记为已读
func (s *Store) MarkMessageRead(mailboxID, messageID string) error {
	if err := s.db.MarkMessageRead(mailboxID, messageID); err != nil {
		return err
	}

	s.cache.DeleteCachedMessage(mailboxID, messageID)
	s.cache.DeleteCachedMessageList(mailboxID)
	return nil
}

// DeleteMessage 删除单封邮件及其附件
func (s *Store) DeleteMessage(mailboxID, messageID string) error {
	if err := s.db.DeleteMessage(mailboxID, messageID); err != nil {
		return err
	}

	s.cache.DeleteCachedMessage(mailboxID, messageID)
	s.cache.DeleteCachedMessageList(mailboxID)
	return nil
}

// GetAttachment 按 ID 获取附件
func (s *Store) GetAttachment(attachmentID string) (*domain.Attachment, error) {
	// 附件内容较大，不进缓存
	return s.db.GetAttachment(attachmentID)
}

// ========== Sweep Repository ==========
//
// 回收遍历直接走数据库。被清掉的行若还留在缓存里，
// 读取路径的存活性复查会把它们当作不存在。

// DeleteExpiredMailboxes 删除已到期且非永久的邮箱
func (s *Store) DeleteExpiredMailboxes(now time.Time) (int, error) {
	return s.db.DeleteExpiredMailboxes(now)
}

// PurgeMessages 删除超过保留期或已读的邮件
func (s *Store) PurgeMessages(now time.Time, retention time.Duration) (int, error) {
	return s.db.PurgeMessages(now, retention)
}

// DeleteOrphanMessages 删除属主已不存在的邮件与附件
func (s *Store) DeleteOrphanMessages() (int, error) {
	return s.db.DeleteOrphanMessages()
}

// ========== 工具方法 ==========

// PoolStats 透传底层数据库的连接池统计
func (s *Store) PoolStats() (*pgxpool.Stat, bool) {
	return s.db.PoolStats()
}

// Health 探活：数据库与 Redis 都要通
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.cache.Ping(ctx)
}

// Close 关闭存储连接
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.cache.Close()
		return err
	}
	return s.cache.Close()
}
