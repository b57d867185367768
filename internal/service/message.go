package service

import (
	"time"

	"github.com/google/uuid"

	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/storage"
)

// MessageService 封装邮件读写逻辑。
// 每个操作都先按地址做存活定位，过期未清理邮箱里的邮件因此不可达。
type MessageService struct {
	mailboxes storage.MailboxRepository
	messages  storage.MessageRepository
	metrics   *monitoring.Metrics
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(mailboxes storage.MailboxRepository, messages storage.MessageRepository) *MessageService {
	return &MessageService{
		mailboxes: mailboxes,
		messages:  messages,
	}
}

// SetMetrics 设置指标收集器（可选）
func (s *MessageService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// resolve 统一的存活邮箱定位入口。
func (s *MessageService) resolve(addr string) (*domain.Mailbox, error) {
	return s.mailboxes.GetMailboxByAddress(normalizeAddress(addr), time.Now().UTC())
}

// ListMessages 列出地址名下的全部邮件，按接收时间倒序。
func (s *MessageService) ListMessages(addr string) ([]domain.Message, error) {
	mailbox, err := s.resolve(addr)
	if err != nil {
		return nil, err
	}
	return s.messages.ListMessages(mailbox.ID)
}

// GetMessage 获取单封邮件详情，附带附件元数据。
func (s *MessageService) GetMessage(addr, messageID string) (*domain.Message, error) {
	mailbox, err := s.resolve(addr)
	if err != nil {
		return nil, err
	}
	return s.messages.GetMessage(mailbox.ID, messageID)
}

// MarkRead 将邮件标记为已读。已读邮件进入下一轮清理的候选集。
func (s *MessageService) MarkRead(addr, messageID string) error {
	mailbox, err := s.resolve(addr)
	if err != nil {
		return err
	}
	if err := s.messages.MarkMessageRead(mailbox.ID, messageID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordMessageRead()
	}
	return nil
}

// DeleteMessage 删除单封邮件及其附件。
func (s *MessageService) DeleteMessage(addr, messageID string) error {
	mailbox, err := s.resolve(addr)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteMessage(mailbox.ID, messageID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordMessageDeleted()
	}
	return nil
}

// GetAttachment 获取附件内容，归属链路逐级确认。
func (s *MessageService) GetAttachment(addr, messageID, attachmentID string) (*domain.Attachment, error) {
	mailbox, err := s.resolve(addr)
	if err != nil {
		return nil, err
	}

	message, err := s.messages.GetMessage(mailbox.ID, messageID)
	if err != nil {
		return nil, err
	}

	attachment, err := s.messages.GetAttachment(attachmentID)
	if err != nil {
		return nil, err
	}
	// 防止拿着别的邮件的附件 ID 越界下载
	if attachment.MessageID != message.ID {
		return nil, storage.ErrAttachmentNotFound
	}
	return attachment, nil
}

// IngestInput 定义入站邮件的落库输入。
// Mailbox 由接入层完成存活校验后传入。
type IngestInput struct {
	Mailbox     *domain.Mailbox
	From        string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	Size        int64
	ReceivedAt  time.Time
	Attachments []*domain.Attachment
}

// Ingest 持久化一封入站邮件及其附件。
func (s *MessageService) Ingest(input IngestInput) (*domain.Message, error) {
	now := time.Now().UTC()
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = now
	}

	message := &domain.Message{
		ID:         uuid.NewString(),
		MailboxID:  input.Mailbox.ID,
		From:       input.From,
		To:         input.To,
		Subject:    input.Subject,
		TextBody:   input.TextBody,
		HTMLBody:   input.HTMLBody,
		Size:       input.Size,
		ReceivedAt: input.ReceivedAt,
	}

	for _, att := range input.Attachments {
		if att == nil {
			continue
		}
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.MessageID = message.ID
		if att.Size == 0 {
			att.Size = int64(len(att.Content))
		}
		message.Attachments = append(message.Attachments, att)
	}

	if err := s.messages.SaveMessage(message); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordMessageReceived()
		s.metrics.RecordMessageSize(message.Size)
	}
	return message, nil
}
