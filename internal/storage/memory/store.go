package memory

import (
	"sort"
	"sync"
	"time"

	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/storage"
)

// Store 使用内存保存邮箱与邮件数据，主要用于开发验证与测试。
//
// 过期行不会在普通读写时顺手清理：读取路径只做存活判断（表现为不存在），
// 物理删除完全交给清扫操作，保证"先隐身、后回收"的时序可观测。
type Store struct {
	mu          sync.RWMutex
	mailboxes   map[string]*domain.Mailbox            // mailboxID -> mailbox
	byAddress   map[string]string                     // address -> mailboxID
	messages    map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	attachments map[string]*domain.Attachment         // attachmentID -> attachment
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes:   make(map[string]*domain.Mailbox),
		byAddress:   make(map[string]string),
		messages:    make(map[string]map[string]*domain.Message),
		attachments: make(map[string]*domain.Attachment),
	}
}

// SaveMailbox 保存新邮箱。地址已被占用时返回 ErrAddressTaken，
// 即使占用者已过期未清扫也算冲突，与数据库唯一索引的行为一致。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byAddress[mailbox.Address]; taken {
		return storage.ErrAddressTaken
	}

	mb := *mailbox
	s.mailboxes[mb.ID] = &mb
	s.byAddress[mb.Address] = mb.ID
	return nil
}

// GetMailboxByAddress 根据地址获取存活的邮箱，命中时刷新访问时间。
func (s *Store) GetMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}

	mb := s.mailboxes[id]
	if !mb.Live(now) {
		// 已过期未清扫：对调用方表现为不存在，物理删除留给清扫器
		return nil, storage.ErrMailboxNotFound
	}

	mb.LastAccessedAt = now
	out := *mb
	return out.Hydrate(), nil
}

// UpdateMailboxExpiry 改写指定邮箱的过期时间。
func (s *Store) UpdateMailboxExpiry(address string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[address]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	s.mailboxes[id].ExpiresAt = expiresAt
	return nil
}

// DeleteMailbox 删除指定邮箱及其全部邮件与附件。
func (s *Store) DeleteMailbox(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[address]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	s.deleteMailboxLocked(id)
	return nil
}

// CountMailboxes 返回当前物理存在的邮箱行数（含过期未清扫的行）。
func (s *Store) CountMailboxes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.mailboxes)), nil
}

func (s *Store) deleteMailboxLocked(id string) {
	mb, ok := s.mailboxes[id]
	if !ok {
		return
	}
	delete(s.byAddress, mb.Address)
	delete(s.mailboxes, id)
	for msgID := range s.messages[id] {
		s.deleteMessageLocked(id, msgID)
	}
	delete(s.messages, id)
}

// ========== Message Repository ==========

// SaveMessage 保存邮件及其附件。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[message.MailboxID]; !ok {
		return storage.ErrMailboxNotFound
	}

	if _, ok := s.messages[message.MailboxID]; !ok {
		s.messages[message.MailboxID] = make(map[string]*domain.Message)
	}
	msg := *message
	s.messages[message.MailboxID][message.ID] = &msg

	for _, att := range message.Attachments {
		a := *att
		s.attachments[a.ID] = &a
	}
	return nil
}

// ListMessages 返回某个邮箱下的全部邮件，按接收时间倒序。
func (s *Store) ListMessages(mailboxID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.mailboxes[mailboxID]; !ok {
		return nil, storage.ErrMailboxNotFound
	}

	msgMap, ok := s.messages[mailboxID]
	if !ok {
		return []domain.Message{}, nil
	}

	result := make([]domain.Message, 0, len(msgMap))
	for _, msg := range msgMap {
		result = append(result, *msg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	return result, nil
}

// GetMessage 获取单封邮件，附带附件元数据（不含内容）。
func (s *Store) GetMessage(mailboxID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgMap, ok := s.messages[mailboxID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg, ok := msgMap[messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}

	out := *msg
	out.Attachments = s.listAttachmentMetaLocked(messageID)
	return &out, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(mailboxID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgMap, ok := s.messages[mailboxID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg, ok := msgMap[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// DeleteMessage 删除指定邮件及其附件。
func (s *Store) DeleteMessage(mailboxID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgMap, ok := s.messages[mailboxID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	if _, ok := msgMap[messageID]; !ok {
		return storage.ErrMessageNotFound
	}
	s.deleteMessageLocked(mailboxID, messageID)
	return nil
}

// GetAttachment 按 ID 获取附件（含内容）。
func (s *Store) GetAttachment(attachmentID string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[attachmentID]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	out := *att
	return &out, nil
}

func (s *Store) deleteMessageLocked(mailboxID, messageID string) {
	for attID, att := range s.attachments {
		if att.MessageID == messageID {
			delete(s.attachments, attID)
		}
	}
	if msgMap, ok := s.messages[mailboxID]; ok {
		delete(msgMap, messageID)
	}
}

func (s *Store) listAttachmentMetaLocked(messageID string) []*domain.Attachment {
	var result []*domain.Attachment
	for _, att := range s.attachments {
		if att.MessageID == messageID {
			meta := *att
			meta.Content = nil
			result = append(result, &meta)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Filename < result[j].Filename
	})
	return result
}

// ========== Sweep Repository ==========

// DeleteExpiredMailboxes 删除所有已到期且非永久的邮箱，返回删除数量。
func (s *Store) DeleteExpiredMailboxes(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, mb := range s.mailboxes {
		if reclaimableAt(mb, now) {
			s.deleteMailboxLocked(id)
			count++
		}
	}
	return count, nil
}

// PurgeMessages 删除超过保留期或已读的邮件，永久邮箱的邮件豁免。
func (s *Store) PurgeMessages(now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := now.Add(-retention)
	count := 0
	for mailboxID, msgMap := range s.messages {
		mb, ok := s.mailboxes[mailboxID]
		if !ok {
			// 属主已不存在的留给孤儿清理
			continue
		}
		if domain.ExemptFromPurge(mb.ExpiresAt) {
			continue
		}
		for msgID, msg := range msgMap {
			if msg.IsRead || msg.ReceivedAt.Before(horizon) {
				s.deleteMessageLocked(mailboxID, msgID)
				count++
			}
		}
	}
	return count, nil
}

// DeleteOrphanMessages 删除属主邮箱已不存在的邮件，以及属主邮件
// 已不存在的附件，返回删除的邮件数量。
func (s *Store) DeleteOrphanMessages() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for mailboxID, msgMap := range s.messages {
		if _, ok := s.mailboxes[mailboxID]; ok {
			continue
		}
		for msgID := range msgMap {
			s.deleteMessageLocked(mailboxID, msgID)
			count++
		}
		delete(s.messages, mailboxID)
	}

	for attID, att := range s.attachments {
		if !s.messageExistsLocked(att.MessageID) {
			delete(s.attachments, attID)
		}
	}
	return count, nil
}

// reclaimableAt 清扫谓词：已到期 且 不持有永久哨兵。
// 哨兵值本身位于远未来，谓词仍显式排除它，不依赖这一事实。
func reclaimableAt(mb *domain.Mailbox, now time.Time) bool {
	return !mb.ExpiresAt.After(now) && !domain.IsPermanentExpiry(mb.ExpiresAt)
}

func (s *Store) messageExistsLocked(messageID string) bool {
	for _, msgMap := range s.messages {
		if _, ok := msgMap[messageID]; ok {
			return true
		}
	}
	return false
}

// Close 实现 storage.Store 接口。
func (s *Store) Close() error {
	return nil
}

// Health 实现 storage.Store 接口。
func (s *Store) Health() error {
	return nil
}
