package smtp

import (
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/pool"
	"mailbin/backend/internal/service"
)

// Notifier 新邮件通知接口
type Notifier interface {
	NotifyNewMail(address string, message *domain.Message)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 【安全说明】
// 这是一个只接收邮件的 SMTP 服务器（Receiving-Only SMTP Server）。
// 特性：
// - ✅ 只接收发送到本系统存活邮箱的邮件
// - ✅ 收件域必须在配置的接收域列表中
// - ❌ 不支持对外发送邮件（无邮件中继功能）
// - ❌ 不会成为垃圾邮件中继或开放中继
//
// 安全机制：
// 1. Rcpt() 严格验证收件域和收件人
// 2. 过期未清扫的邮箱和不存在的邮箱一视同仁，返回 550
// 3. 新建连接受并发上限和按来源 IP 的速率限制
type Backend struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
	domains   []string
	maxSize   int64
	workers   *pool.WorkerPool
	notifier  Notifier
	limiter   *ConnectionLimiter
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewBackend 创建 SMTP Backend。
//
// workers、notifier、limiter 均可为 nil：无协程池时同步落库，
// 无通知器时跳过推送，无限流器时不限制连接。
func NewBackend(
	mailboxes *service.MailboxService,
	messages *service.MessageService,
	cfg *config.SMTPConfig,
	workers *pool.WorkerPool,
	notifier Notifier,
	limiter *ConnectionLimiter,
	logger *zap.Logger,
) *Backend {
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = 10 << 20
	}

	return &Backend{
		mailboxes: mailboxes,
		messages:  messages,
		domains:   cfg.Domains,
		maxSize:   maxSize,
		workers:   workers,
		notifier:  notifier,
		limiter:   limiter,
		logger:    logger,
	}
}

// SetMetrics 设置指标收集器（可选）
func (b *Backend) SetMetrics(m *monitoring.Metrics) {
	b.metrics = m
}

// NewServer 构建监听配置就绪的 SMTP 服务器。
func NewServer(b *Backend, cfg *config.SMTPConfig) *gosmtp.Server {
	srv := gosmtp.NewServer(b)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Hostname
	srv.MaxMessageBytes = cfg.MaxMessageSize
	srv.MaxRecipients = 50
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	return srv
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c)

	if b.limiter != nil && !b.limiter.Acquire(ip) {
		b.recordRejected("connection_limit")
		b.logger.Warn("smtp connection rejected", zap.String("remote_ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	if b.metrics != nil {
		b.metrics.RecordSMTPConnection()
	}

	return &session{
		backend:  b,
		remoteIP: ip,
		limited:  b.limiter != nil,
	}, nil
}

// remoteIP 提取对端 IP，取不到时返回空串
func remoteIP(c *gosmtp.Conn) string {
	if c == nil {
		return ""
	}
	conn := c.Conn()
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

type session struct {
	backend     *Backend
	remoteIP    string
	limited     bool
	fromAddress string
	recipients  []recipient
}

type recipient struct {
	address string
	mailbox *domain.Mailbox
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 【安全关键】此方法是防止邮件中继的核心。
// 只接受发送到本系统存活邮箱的邮件，拒绝所有外部地址。
//
// 验证流程：
// 1. 拆出收件人的本地部分和域名
// 2. 域名必须在配置的接收域列表中，否则按中继拒绝
// 3. 本地部分必须命中一个存活邮箱（过期即视为不存在）
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	local, recipientDomain := parts[0], parts[1]

	// 收件域必须是本系统负责的域
	domainAllowed := false
	for _, d := range s.backend.domains {
		if strings.EqualFold(d, recipientDomain) {
			domainAllowed = true
			break
		}
	}
	if !domainAllowed {
		s.backend.recordRejected("relay_denied")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	// 本地部分必须命中存活邮箱，过期未清扫的邮箱同样拒收
	mb, err := s.backend.mailboxes.Get(local)
	if err != nil {
		s.backend.recordRejected("unknown_recipient")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, recipient{
		address: addr,
		mailbox: mb,
	})
	return nil
}

// Data 处理邮件内容。
//
// 解析成功后通过协程池异步落库，会话立即答复；
// 队列打满时返回 451 让发送方稍后重试。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxSize))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		s.backend.recordRejected("unparsable")
		s.backend.logger.Warn("rejecting unparsable message",
			zap.String("remote_ip", s.remoteIP),
			zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message content rejected",
		}
	}

	// 信头 From 缺失时退回信封发件人
	from := parsed.From
	if from == "" {
		from = s.fromAddress
	}

	recipients := s.recipients
	size := int64(len(rawBytes))
	receivedAt := time.Now().UTC()
	backend := s.backend

	deliver := func() {
		for _, rcpt := range recipients {
			message, err := backend.messages.Ingest(service.IngestInput{
				Mailbox:     rcpt.mailbox,
				From:        from,
				To:          rcpt.address,
				Subject:     parsed.Subject,
				TextBody:    parsed.TextBody,
				HTMLBody:    parsed.HTMLBody,
				Size:        size,
				ReceivedAt:  receivedAt,
				Attachments: cloneAttachments(parsed.Attachments),
			})
			if err != nil {
				backend.logger.Error("failed to store inbound message",
					zap.String("address", rcpt.mailbox.Address),
					zap.String("from", from),
					zap.Error(err))
				continue
			}

			backend.logger.Info("message received",
				zap.String("address", rcpt.mailbox.Address),
				zap.String("from", from),
				zap.String("subject", parsed.Subject),
				zap.Int64("size", size))

			if backend.notifier != nil {
				backend.notifier.NotifyNewMail(rcpt.mailbox.Address, message)
			}
		}
	}

	if backend.workers != nil {
		if !backend.workers.TrySubmit(deliver) {
			backend.recordRejected("busy")
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
				Message:      "server busy, try again later",
			}
		}
		return nil
	}

	deliver()
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.limited {
		s.limited = false
		s.backend.limiter.Release()
	}
	return nil
}

func (b *Backend) recordRejected(reason string) {
	if b.metrics != nil {
		b.metrics.RecordSMTPRejected(reason)
	}
}

// cloneAttachments 为每个收件人复制一份附件，ID 由落库时重新分配。
// 共用指针会让多收件人投递互相覆盖归属。
func cloneAttachments(atts []*domain.Attachment) []*domain.Attachment {
	if len(atts) == 0 {
		return nil
	}
	cloned := make([]*domain.Attachment, 0, len(atts))
	for _, att := range atts {
		dup := *att
		dup.ID = ""
		dup.MessageID = ""
		cloned = append(cloned, &dup)
	}
	return cloned
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
