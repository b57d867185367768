package smtp

import (
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/storage/memory"
)

// recordingNotifier 捕获推送的新邮件通知
type recordingNotifier struct {
	addresses []string
	messages  []*domain.Message
}

func (n *recordingNotifier) NotifyNewMail(address string, message *domain.Message) {
	n.addresses = append(n.addresses, address)
	n.messages = append(n.messages, message)
}

type backendFixture struct {
	backend   *Backend
	store     *memory.Store
	mailboxes *service.MailboxService
	messages  *service.MessageService
	notifier  *recordingNotifier
}

// newBackendFixture 组装内存存储上的完整接收链路，协程池留空走同步落库
func newBackendFixture(t *testing.T) *backendFixture {
	t.Helper()

	store := memory.NewStore()
	cfg := &config.Config{
		Mailbox: config.MailboxConfig{DefaultHours: 24, MaxHours: 720},
		SMTP: config.SMTPConfig{
			Domains:        []string{"mailbin.dev"},
			MaxMessageSize: 1 << 20,
		},
	}

	mailboxes := service.NewMailboxService(store, cfg, zap.NewNop())
	messages := service.NewMessageService(store, store)
	notifier := &recordingNotifier{}

	return &backendFixture{
		backend:   NewBackend(mailboxes, messages, &cfg.SMTP, nil, notifier, nil, zap.NewNop()),
		store:     store,
		mailboxes: mailboxes,
		messages:  messages,
		notifier:  notifier,
	}
}

func (f *backendFixture) createMailbox(t *testing.T, addr string) *domain.Mailbox {
	t.Helper()

	mb, err := f.mailboxes.Create(service.CreateMailboxInput{
		Class:   domain.AddressClassCustom,
		Address: addr,
	})
	require.NoError(t, err)
	return mb
}

func (f *backendFixture) newSession(t *testing.T) gosmtp.Session {
	t.Helper()

	sess, err := f.backend.NewSession(&gosmtp.Conn{})
	require.NoError(t, err)
	return sess
}

func TestSession_RcptGate(t *testing.T) {
	f := newBackendFixture(t)
	f.createMailbox(t, "orders.box")

	t.Run("外部域按中继拒绝", func(t *testing.T) {
		err := f.newSession(t).Rcpt("someone@gmail.com", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Equal(t, gosmtp.EnhancedCode{5, 7, 1}, smtpErr.EnhancedCode)
	})

	t.Run("未知收件人拒收", func(t *testing.T) {
		err := f.newSession(t).Rcpt("nobody@mailbin.dev", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Equal(t, gosmtp.EnhancedCode{5, 1, 1}, smtpErr.EnhancedCode)
	})

	t.Run("地址格式非法", func(t *testing.T) {
		err := f.newSession(t).Rcpt("not-an-address", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})

	t.Run("存活邮箱正常接收", func(t *testing.T) {
		err := f.newSession(t).Rcpt("<Orders.Box@MAILBIN.DEV>", nil)

		assert.NoError(t, err)
	})

	t.Run("过期邮箱视同不存在", func(t *testing.T) {
		f.createMailbox(t, "fleet.box")
		require.NoError(t, f.store.UpdateMailboxExpiry("fleet.box", time.Now().UTC().Add(-time.Hour)))

		err := f.newSession(t).Rcpt("fleet.box@mailbin.dev", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
	})
}

func TestSession_DataDelivery(t *testing.T) {
	f := newBackendFixture(t)
	f.createMailbox(t, "orders.box")

	sess := f.newSession(t)
	require.NoError(t, sess.Mail("<sender@example.com>", nil))
	require.NoError(t, sess.Rcpt("orders.box@mailbin.dev", nil))

	raw := crlf(
		"From: Alice <alice@example.com>",
		"To: orders.box@mailbin.dev",
		"Subject: =?UTF-8?B?5L2g5aW9?=",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello there",
	)
	require.NoError(t, sess.Data(strings.NewReader(raw)))

	messages, err := f.messages.ListMessages("orders.box")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "你好", msg.Subject)
	assert.Equal(t, "Alice <alice@example.com>", msg.From)
	assert.Equal(t, "orders.box@mailbin.dev", msg.To)
	assert.Equal(t, "hello there", msg.TextBody)
	assert.Equal(t, int64(len(raw)), msg.Size)
	assert.False(t, msg.IsRead)

	// 通知携带规范地址和已分配的邮件 ID
	require.Len(t, f.notifier.addresses, 1)
	assert.Equal(t, "orders.box", f.notifier.addresses[0])
	assert.Equal(t, msg.ID, f.notifier.messages[0].ID)
}

func TestSession_DataEnvelopeFromFallback(t *testing.T) {
	f := newBackendFixture(t)
	f.createMailbox(t, "orders.box")

	sess := f.newSession(t)
	require.NoError(t, sess.Mail("<bounce@relay.example>", nil))
	require.NoError(t, sess.Rcpt("orders.box@mailbin.dev", nil))

	raw := crlf(
		"Subject: no from header",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"body",
	)
	require.NoError(t, sess.Data(strings.NewReader(raw)))

	messages, err := f.messages.ListMessages("orders.box")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "bounce@relay.example", messages[0].From)
}

func TestSession_DataMultiRecipient(t *testing.T) {
	f := newBackendFixture(t)
	f.createMailbox(t, "alpha.box")
	f.createMailbox(t, "beta.box")

	sess := f.newSession(t)
	require.NoError(t, sess.Mail("<billing@example.com>", nil))
	require.NoError(t, sess.Rcpt("alpha.box@mailbin.dev", nil))
	require.NoError(t, sess.Rcpt("beta.box@mailbin.dev", nil))

	raw := crlf(
		"From: billing@example.com",
		"Subject: invoice",
		"Content-Type: multipart/mixed; boundary=xyz",
		"",
		"--xyz",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attachment",
		"--xyz",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=\"invoice.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--xyz--",
		"",
	)
	require.NoError(t, sess.Data(strings.NewReader(raw)))

	attachmentIDs := make(map[string]bool)
	for _, addr := range []string{"alpha.box", "beta.box"} {
		messages, err := f.messages.ListMessages(addr)
		require.NoError(t, err)
		require.Len(t, messages, 1, "mailbox %s should have one message", addr)

		// 收件地址保留各自的完整形式
		assert.Equal(t, addr+"@mailbin.dev", messages[0].To)

		full, err := f.messages.GetMessage(addr, messages[0].ID)
		require.NoError(t, err)
		require.Len(t, full.Attachments, 1)

		att, err := f.messages.GetAttachment(addr, full.ID, full.Attachments[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "invoice.pdf", att.Filename)
		assert.Equal(t, []byte("%PDF-1.4"), att.Content)

		attachmentIDs[att.ID] = true
	}

	// 每个收件人的附件是独立的行
	assert.Len(t, attachmentIDs, 2)
}

func TestSession_ResetClearsState(t *testing.T) {
	f := newBackendFixture(t)
	f.createMailbox(t, "orders.box")

	sess := f.newSession(t)
	require.NoError(t, sess.Mail("<sender@example.com>", nil))
	require.NoError(t, sess.Rcpt("orders.box@mailbin.dev", nil))

	sess.Reset()

	raw := crlf(
		"Subject: after reset",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"body",
	)
	require.NoError(t, sess.Data(strings.NewReader(raw)))

	// Reset 后没有收件人，邮件不落库
	messages, err := f.messages.ListMessages("orders.box")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestBackend_ConnectionLimit(t *testing.T) {
	f := newBackendFixture(t)
	f.backend.limiter = NewConnectionLimiter(1, 100, 100)

	sess, err := f.backend.NewSession(&gosmtp.Conn{})
	require.NoError(t, err)

	_, err = f.backend.NewSession(&gosmtp.Conn{})
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 421, smtpErr.Code)

	// 会话结束释放名额
	require.NoError(t, sess.Logout())

	_, err = f.backend.NewSession(&gosmtp.Conn{})
	assert.NoError(t, err)
}
