package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated    *prometheus.CounterVec
	MailboxesDeleted    *prometheus.CounterVec
	MailboxConversions  prometheus.Counter
	MailboxesActive     prometheus.Gauge
	AddressCollisions   *prometheus.CounterVec
	GenerationExhausted prometheus.Counter

	// 邮件指标
	MessagesReceived prometheus.Counter
	MessagesRead     prometheus.Counter
	MessagesDeleted  prometheus.Counter
	MessageSize      prometheus.Histogram

	// SMTP 指标
	SMTPConnections prometheus.Counter
	SMTPRejected    *prometheus.CounterVec

	// 回收指标
	SweepDuration prometheus.Histogram
	SweepRemoved  *prometheus.CounterVec
	SweepLastRun  prometheus.Gauge

	// 系统指标
	DatabaseConnections prometheus.Gauge
	WebsocketClients    prometheus.Gauge
	PanicsTotal         prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbin_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 邮箱指标
		MailboxesCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
			[]string{"class"},
		),

		MailboxesDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_mailboxes_deleted_total",
				Help: "Total number of mailboxes deleted",
			},
			[]string{"reason"},
		),

		MailboxConversions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_mailbox_conversions_total",
				Help: "Total number of mailboxes converted to permanent",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbin_mailboxes_active",
				Help: "Number of live mailboxes",
			},
		),

		AddressCollisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_address_collisions_total",
				Help: "Total number of address collisions during creation",
			},
			[]string{"class"},
		),

		GenerationExhausted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_address_generation_exhausted_total",
				Help: "Total number of creations abandoned after exhausting generation attempts",
			},
		),

		// 邮件指标
		MessagesReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_messages_received_total",
				Help: "Total number of messages received",
			},
		),

		MessagesRead: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_messages_read_total",
				Help: "Total number of messages marked as read",
			},
		),

		MessagesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_messages_deleted_total",
				Help: "Total number of messages deleted by users",
			},
		),

		MessageSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailbin_message_size_bytes",
				Help:    "Size of received messages in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 16),
			},
		),

		// SMTP 指标
		SMTPConnections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_smtp_connections_total",
				Help: "Total number of SMTP connections accepted",
			},
		),

		SMTPRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_smtp_rejected_total",
				Help: "Total number of SMTP deliveries rejected",
			},
			[]string{"reason"},
		),

		// 回收指标
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailbin_sweep_duration_seconds",
				Help:    "Duration of reclamation sweeps in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SweepRemoved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbin_sweep_removed_total",
				Help: "Total number of rows removed by reclamation sweeps",
			},
			[]string{"pass"},
		),

		SweepLastRun: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbin_sweep_last_run_timestamp_seconds",
				Help: "Unix timestamp of the last completed sweep",
			},
		),

		// 系统指标
		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbin_database_connections",
				Help: "Number of open database connections",
			},
		),

		WebsocketClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbin_websocket_clients",
				Help: "Number of connected WebSocket clients",
			},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailbin_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated(class string) {
	m.MailboxesCreated.WithLabelValues(class).Inc()
}

// RecordMailboxDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxDeleted(reason string) {
	m.MailboxesDeleted.WithLabelValues(reason).Inc()
}

// RecordMailboxConverted 记录邮箱转为永久
func (m *Metrics) RecordMailboxConverted() {
	m.MailboxConversions.Inc()
}

// RecordAddressCollision 记录地址冲突
func (m *Metrics) RecordAddressCollision(class string) {
	m.AddressCollisions.WithLabelValues(class).Inc()
}

// RecordGenerationExhausted 记录生成尝试耗尽
func (m *Metrics) RecordGenerationExhausted() {
	m.GenerationExhausted.Inc()
}

// RecordMessageReceived 记录邮件接收
func (m *Metrics) RecordMessageReceived() {
	m.MessagesReceived.Inc()
}

// RecordMessageRead 记录邮件标记已读
func (m *Metrics) RecordMessageRead() {
	m.MessagesRead.Inc()
}

// RecordMessageDeleted 记录邮件删除
func (m *Metrics) RecordMessageDeleted() {
	m.MessagesDeleted.Inc()
}

// RecordMessageSize 记录邮件大小
func (m *Metrics) RecordMessageSize(size int64) {
	m.MessageSize.Observe(float64(size))
}

// RecordSMTPConnection 记录 SMTP 连接
func (m *Metrics) RecordSMTPConnection() {
	m.SMTPConnections.Inc()
}

// RecordSMTPRejected 记录 SMTP 投递拒绝
func (m *Metrics) RecordSMTPRejected(reason string) {
	m.SMTPRejected.WithLabelValues(reason).Inc()
}

// RecordSweep 记录一次回收扫描
func (m *Metrics) RecordSweep(duration time.Duration, mailboxes, messages, orphans int) {
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepRemoved.WithLabelValues("mailboxes").Add(float64(mailboxes))
	m.SweepRemoved.WithLabelValues("messages").Add(float64(messages))
	m.SweepRemoved.WithLabelValues("orphans").Add(float64(orphans))
	m.SweepLastRun.SetToCurrentTime()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateMailboxesActive 更新活跃邮箱数
func (m *Metrics) UpdateMailboxesActive(count int) {
	m.MailboxesActive.Set(float64(count))
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateWebsocketClients 更新 WebSocket 客户端数
func (m *Metrics) UpdateWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
