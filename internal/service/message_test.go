package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/storage"
	"mailbin/backend/internal/storage/memory"
)

func TestMessageService_ReadPaths(t *testing.T) {
	store := memory.NewStore()
	service := NewMessageService(store, store)
	now := time.Now().UTC()

	mailbox := seedMailbox(t, store, "reader.box", domain.AddressClassName, now.Add(time.Hour))
	older := seedMessage(t, store, mailbox.ID, now.Add(-time.Hour), false)
	newer := seedMessage(t, store, mailbox.ID, now, false)

	t.Run("列出邮件按接收时间倒序", func(t *testing.T) {
		messages, err := service.ListMessages("Reader.Box")

		assert.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, newer.ID, messages[0].ID)
		assert.Equal(t, older.ID, messages[1].ID)
	})

	t.Run("获取单封邮件成功", func(t *testing.T) {
		message, err := service.GetMessage("reader.box", older.ID)

		assert.NoError(t, err)
		assert.Equal(t, older.ID, message.ID)
		assert.Equal(t, "sender@example.com", message.From)
	})

	t.Run("标记已读后落库", func(t *testing.T) {
		err := service.MarkRead("reader.box", newer.ID)
		assert.NoError(t, err)

		message, err := service.GetMessage("reader.box", newer.ID)
		assert.NoError(t, err)
		assert.True(t, message.IsRead)
	})

	t.Run("删除单封邮件成功", func(t *testing.T) {
		err := service.DeleteMessage("reader.box", newer.ID)
		assert.NoError(t, err)

		_, err = service.GetMessage("reader.box", newer.ID)
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("获取不存在的邮件失败", func(t *testing.T) {
		_, err := service.GetMessage("reader.box", "no-such-message")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})
}

func TestMessageService_ExpiredMailboxUnreachable(t *testing.T) {
	store := memory.NewStore()
	service := NewMessageService(store, store)
	now := time.Now().UTC()

	// 先存活后到期：邮件还在存储里，但读取入口已经隐身
	mailbox := seedMailbox(t, store, "stale.box", domain.AddressClassRandom, now.Add(time.Minute))
	message := seedMessage(t, store, mailbox.ID, now, false)
	require.NoError(t, store.UpdateMailboxExpiry("stale.box", now.Add(-time.Minute)))

	_, err := service.ListMessages("stale.box")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	_, err = service.GetMessage("stale.box", message.ID)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	err = service.MarkRead("stale.box", message.ID)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	err = service.DeleteMessage("stale.box", message.ID)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func TestMessageService_Ingest(t *testing.T) {
	store := memory.NewStore()
	service := NewMessageService(store, store)
	now := time.Now().UTC()

	mailbox := seedMailbox(t, store, "inbound.box", domain.AddressClassName, now.Add(time.Hour))

	t.Run("入站邮件连同附件落库", func(t *testing.T) {
		message, err := service.Ingest(IngestInput{
			Mailbox:  mailbox,
			From:     "alice@example.com",
			To:       "inbound.box@mailbin.dev",
			Subject:  "invoice",
			TextBody: "see attachment",
			Size:     2048,
			Attachments: []*domain.Attachment{
				{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
			},
		})

		assert.NoError(t, err)
		assert.NotEmpty(t, message.ID)
		assert.False(t, message.ReceivedAt.IsZero())
		require.Len(t, message.Attachments, 1)
		assert.NotEmpty(t, message.Attachments[0].ID)
		assert.Equal(t, message.ID, message.Attachments[0].MessageID)
		assert.Equal(t, int64(len("%PDF-1.4")), message.Attachments[0].Size)

		fetched, err := service.GetMessage("inbound.box", message.ID)
		assert.NoError(t, err)
		assert.Equal(t, "invoice", fetched.Subject)
		require.Len(t, fetched.Attachments, 1)
		// 详情接口只带附件元数据
		assert.Nil(t, fetched.Attachments[0].Content)
	})

	t.Run("附件内容走下载接口", func(t *testing.T) {
		messages, err := service.ListMessages("inbound.box")
		require.NoError(t, err)
		require.Len(t, messages, 1)

		detail, err := service.GetMessage("inbound.box", messages[0].ID)
		require.NoError(t, err)

		attachment, err := service.GetAttachment("inbound.box", detail.ID, detail.Attachments[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4"), attachment.Content)
		assert.Equal(t, "invoice.pdf", attachment.Filename)
	})

	t.Run("跨邮件的附件标识拿不到附件", func(t *testing.T) {
		second, err := service.Ingest(IngestInput{
			Mailbox: mailbox,
			From:    "bob@example.com",
			Subject: "no attachments",
		})
		require.NoError(t, err)

		first, err := service.ListMessages("inbound.box")
		require.NoError(t, err)
		detail, err := service.GetMessage("inbound.box", first[len(first)-1].ID)
		require.NoError(t, err)
		require.NotEmpty(t, detail.Attachments)

		_, err = service.GetAttachment("inbound.box", second.ID, detail.Attachments[0].ID)
		assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	})
}
