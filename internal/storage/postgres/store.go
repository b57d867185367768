package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/storage"
)

// Store 基于 GORM 的 SQL 存储实现，同一套查询跑 PostgreSQL 与 MySQL。
type Store struct {
	db *gorm.DB
	// client 仅 postgres 方言持有，用于健康检查与连接池统计
	client *Client
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	store, err := NewStoreWithDialector(postgres.Open(cfg.DSN), cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	store.client = client
	return store, nil
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(cfg *config.DatabaseConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(cfg.DSN), cfg)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// 唯一键冲突翻译成 gorm.ErrDuplicatedKey，SaveMailbox 依赖它
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移表结构，并为历史行补默认地址类别。
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
		&domain.Attachment{},
	); err != nil {
		return err
	}

	// 缺失类别的行一律按 random 处理：宁可让老行永久不适格，也不报错
	return s.db.Exec(
		"UPDATE mailboxes SET address_class = 'random' WHERE address_class IS NULL OR address_class = ''",
	).Error
}

// ========== Mailbox Repository ==========

// SaveMailbox 插入新邮箱，地址唯一索引冲突时返回 ErrAddressTaken。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	if err := s.db.Create(mailbox).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrAddressTaken
		}
		return err
	}
	return nil
}

// GetMailboxByAddress 返回 now 时刻存活的邮箱：未过期，或持有永久哨兵。
func (s *Store) GetMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.
		Where("address = ? AND (expires_at > ? OR expires_at = ?)", address, now, domain.PermanentExpiry).
		First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}

	// 访问时间刷新是尽力而为，失败不影响读取结果
	s.db.Model(&domain.Mailbox{}).Where("id = ?", mailbox.ID).UpdateColumn("last_accessed_at", now)
	mailbox.LastAccessedAt = now
	return mailbox.Hydrate(), nil
}

// UpdateMailboxExpiry 改写过期时间，无匹配行时返回 ErrMailboxNotFound。
func (s *Store) UpdateMailboxExpiry(address string, expiresAt time.Time) error {
	res := s.db.Model(&domain.Mailbox{}).Where("address = ?", address).Update("expires_at", expiresAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// DeleteMailbox 删除邮箱及其邮件与附件。
func (s *Store) DeleteMailbox(address string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		if err := tx.Where("address = ?", address).First(&mailbox).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return err
		}

		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("mailbox_id = ?", mailbox.ID)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("mailbox_id = ?", mailbox.ID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", mailbox.ID).Delete(&domain.Mailbox{}).Error
	})
}

// TouchMailbox 只刷新访问时间，供命中缓存的读取路径使用。
func (s *Store) TouchMailbox(address string, now time.Time) error {
	return s.db.Model(&domain.Mailbox{}).
		Where("address = ?", address).
		UpdateColumn("last_accessed_at", now).Error
}

// CountMailboxes 返回物理存在的邮箱行数。
func (s *Store) CountMailboxes() (int64, error) {
	var count int64
	err := s.db.Model(&domain.Mailbox{}).Count(&count).Error
	return count, err
}

// ========== Message Repository ==========

// SaveMessage 保存邮件及其附件。
func (s *Store) SaveMessage(message *domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		if len(message.Attachments) > 0 {
			return tx.Create(message.Attachments).Error
		}
		return nil
	})
}

// ListMessages 返回某个邮箱下的全部邮件，按接收时间倒序。
func (s *Store) ListMessages(mailboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.Where("mailbox_id = ?", mailboxID).Order("received_at DESC").Find(&messages).Error
	return messages, err
}

// GetMessage 获取单封邮件，附带附件元数据（不含内容）。
func (s *Store) GetMessage(mailboxID, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.Where("id = ? AND mailbox_id = ?", messageID, mailboxID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}

	var attachments []*domain.Attachment
	err = s.db.Model(&domain.Attachment{}).
		Select("id", "message_id", "filename", "content_type", "size").
		Where("message_id = ?", messageID).
		Order("filename").
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	message.Attachments = attachments
	return &message, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(mailboxID, messageID string) error {
	res := s.db.Model(&domain.Message{}).
		Where("id = ? AND mailbox_id = ?", messageID, mailboxID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 删除指定邮件及其附件。
func (s *Store) DeleteMessage(mailboxID, messageID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND mailbox_id = ?", messageID, mailboxID).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrMessageNotFound
		}
		return tx.Where("message_id = ?", messageID).Delete(&domain.Attachment{}).Error
	})
}

// GetAttachment 按 ID 获取附件（含内容）。
func (s *Store) GetAttachment(attachmentID string) (*domain.Attachment, error) {
	var attachment domain.Attachment
	err := s.db.Where("id = ?", attachmentID).First(&attachment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &attachment, nil
}

// ========== Sweep Repository ==========

// DeleteExpiredMailboxes 删除已到期且非永久的邮箱，连带邮件与附件。
// 谓词两个条件都显式写出：expires_at <= now AND expires_at <> 哨兵。
func (s *Store) DeleteExpiredMailboxes(now time.Time) (int, error) {
	var count int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Mailbox{}).
			Where("expires_at <= ? AND expires_at <> ?", now, domain.PermanentExpiry).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = len(ids)
		if count == 0 {
			return nil
		}

		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("mailbox_id IN ?", ids)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("mailbox_id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Mailbox{}).Error
	})
	return count, err
}

// PurgeMessages 删除超过保留期或已读的邮件，属主持永久哨兵的豁免。
func (s *Store) PurgeMessages(now time.Time, retention time.Duration) (int, error) {
	horizon := now.Add(-retention)
	var count int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		purgeable := tx.Model(&domain.Mailbox{}).Select("id").Where("expires_at <> ?", domain.PermanentExpiry)

		var ids []string
		if err := tx.Model(&domain.Message{}).
			Where("mailbox_id IN (?)", purgeable).
			Where("received_at < ? OR is_read = ?", horizon, true).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = len(ids)
		if count == 0 {
			return nil
		}

		if err := tx.Where("message_id IN ?", ids).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Message{}).Error
	})
	return count, err
}

// DeleteOrphanMessages 删除属主邮箱已不存在的邮件，以及属主邮件
// 已不存在的附件。
func (s *Store) DeleteOrphanMessages() (int, error) {
	var count int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Message{}).
			Where("mailbox_id NOT IN (?)", tx.Model(&domain.Mailbox{}).Select("id")).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = len(ids)

		if count > 0 {
			if err := tx.Where("message_id IN ?", ids).Delete(&domain.Attachment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
				return err
			}
		}

		return tx.
			Where("message_id NOT IN (?)", tx.Model(&domain.Message{}).Select("id")).
			Delete(&domain.Attachment{}).Error
	})
	return count, err
}

// ========== 工具方法 ==========

// PoolStats 返回 pgx 连接池统计，仅 postgres 方言可用。
func (s *Store) PoolStats() (*pgxpool.Stat, bool) {
	if s.client == nil {
		return nil, false
	}
	return s.client.Stats(), true
}

// Health 探活：postgres 走 pgx 连接池，其余方言走 database/sql。
func (s *Store) Health() error {
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.client.Ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
