package storage

import (
	"errors"
	"time"

	"mailbin/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱不存在（或已过期、对调用方等同不存在）
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrAddressTaken 地址唯一性冲突
	ErrAddressTaken = errors.New("address already taken")
	// ErrMessageNotFound 邮件未找到
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound 附件未找到
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// SaveMailbox 以 address 为冲突键做原子"不存在才插入"；
	// 地址已被占用时返回 ErrAddressTaken，绝不产生重复行。
	SaveMailbox(mailbox *domain.Mailbox) error
	// GetMailboxByAddress 只返回 now 时刻存活的行：未过期，或持有永久哨兵。
	// 已过期未清扫的行等同不存在。命中时刷新 last_accessed_at。
	GetMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error)
	// UpdateMailboxExpiry 改写过期时间；无匹配行时返回 ErrMailboxNotFound。
	UpdateMailboxExpiry(address string, expiresAt time.Time) error
	// DeleteMailbox 删除邮箱及其全部邮件与附件。
	DeleteMailbox(address string) error
	CountMailboxes() (int64, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	ListMessages(mailboxID string) ([]domain.Message, error)
	GetMessage(mailboxID, messageID string) (*domain.Message, error)
	MarkMessageRead(mailboxID, messageID string) error
	DeleteMessage(mailboxID, messageID string) error
	GetAttachment(attachmentID string) (*domain.Attachment, error)
}

// SweepRepository 定义回收清扫操作。全部幂等，可与在线流量并发执行，
// 各删除谓词只看行自身当前的 expires_at，不要求全局一致快照。
type SweepRepository interface {
	// DeleteExpiredMailboxes 删除 expires_at <= now 且 不等于永久哨兵的邮箱，
	// 连带其邮件与附件。两个条件必须同时出现在删除谓词里。
	DeleteExpiredMailboxes(now time.Time) (int, error)
	// PurgeMessages 删除超过保留期或已读的邮件（含附件）。
	// 属主邮箱持永久哨兵的一律豁免，无论邮件多旧、是否已读。
	PurgeMessages(now time.Time, retention time.Duration) (int, error)
	// DeleteOrphanMessages 删除属主邮箱已不存在的邮件及其附件。
	DeleteOrphanMessages() (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	MessageRepository
	SweepRepository

	// 工具方法
	Close() error
	Health() error
}
