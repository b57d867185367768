package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"mailbin/backend/internal/address"
	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/health"
	"mailbin/backend/internal/middleware"
	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/storage"
	"mailbin/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	WebSocketHub   *websocket.Hub            // WebSocket Hub（可选）
	Metrics        *monitoring.Metrics       // 指标收集器（可选）
	Health         *health.HealthChecker     // 健康检查器（可选）
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// 使用自定义中间件替代默认中间件
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.PanicRecovery())
		router.Use(mm.HTTPMetrics())
	} else {
		router.Use(middleware.RecoveryHandler(log))
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	// 对外 API 只接收小体积 JSON，邮件本体从 SMTP 进来
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	handler := &Handler{
		mailboxes: deps.MailboxService,
		messages:  deps.MessageService,
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// ========== 运维端点 ==========
	if deps.Health != nil {
		router.GET("/healthz", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/readyz", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", handler.createMailbox)                       // 创建邮箱
			mailboxRoutes.GET("/:address", handler.getMailbox)                  // 获取邮箱详情
			mailboxRoutes.POST("/:address/permanent", handler.convertMailbox)   // 转为永久邮箱
			mailboxRoutes.DELETE("/:address", handler.deleteMailbox)            // 删除邮箱

			// ========== Message Routes ==========
			mailboxRoutes.GET("/:address/messages", handler.listMessages)                     // 获取邮件列表
			mailboxRoutes.GET("/:address/messages/:messageId", handler.getMessage)            // 获取邮件详情
			mailboxRoutes.POST("/:address/messages/:messageId/read", handler.markMessageRead) // 标记已读
			mailboxRoutes.DELETE("/:address/messages/:messageId", handler.deleteMessage)      // 删除邮件

			// 附件下载端点
			mailboxRoutes.GET("/:address/messages/:messageId/attachments/:attachmentId", handler.downloadAttachment)

			// ========== WebSocket Routes ==========
			if deps.WebSocketHub != nil {
				mailboxRoutes.GET("/:address/ws", websocket.HandleWebSocket(deps.WebSocketHub)) // 新邮件推送
			}
		}
	}

	return router
}

type createMailboxRequest struct {
	AddressClass   string `json:"addressClass"`
	Address        string `json:"address"`
	HoursValid     int    `json:"hoursValid"`
	WantsPermanent bool   `json:"wantsPermanent"`
}

type mailboxResponse struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Class       string     `json:"addressClass"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	IsPermanent bool       `json:"isPermanent"`
}

// createMailbox godoc
// @Summary 创建一次性邮箱
// @Description 按指定类别创建邮箱：name/random 自动生成地址，custom 使用调用方提供的地址
// @Tags Mailboxes
// @Accept json
// @Produce json
// @Param request body createMailboxRequest true "创建参数"
// @Success 201 {object} Response{data=mailboxResponse}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Failure 422 {object} Response
// @Failure 503 {object} Response
// @Router /v1/mailboxes [post]
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	// 不传类别时默认随机生成
	class := domain.AddressClass(req.AddressClass)
	if req.AddressClass == "" {
		class = domain.AddressClassRandom
	}

	mailbox, err := h.mailboxes.Create(service.CreateMailboxInput{
		Class:          class,
		Address:        req.Address,
		ValidFor:       time.Duration(req.HoursValid) * time.Hour,
		WantsPermanent: req.WantsPermanent,
		IPSource:       c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownAddressClass),
			errors.Is(err, address.ErrAddressTooShort),
			errors.Is(err, address.ErrAddressTooLong),
			errors.Is(err, address.ErrAddressInvalidChars):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrAddressTaken):
			Conflict(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrPermanenceNotAllowed):
			UnprocessableEntity(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrGenerationExhausted):
			ServiceUnavailable(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgMailboxCreateFailed)
		}
		return
	}

	Created(c, toMailboxResponse(mailbox))
}

// getMailbox godoc
// @Summary 获取邮箱详情
// @Description 根据地址查看邮箱信息，过期未清理的邮箱视同不存在
// @Tags Mailboxes
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=mailboxResponse}
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address} [get]
func (h *Handler) getMailbox(c *gin.Context) {
	mailbox, err := h.mailboxes.Get(c.Param("address"))
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, MsgMailboxNotFound)
		} else {
			InternalError(c, MsgInternalError)
		}
		return
	}

	Success(c, toMailboxResponse(mailbox))
}

// convertMailbox godoc
// @Summary 转为永久邮箱
// @Description 将 name/custom 类邮箱单向升级为永久，重复调用幂等
// @Tags Mailboxes
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=mailboxResponse}
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Router /v1/mailboxes/{address}/permanent [post]
func (h *Handler) convertMailbox(c *gin.Context) {
	mailbox, already, err := h.mailboxes.ConvertToPermanent(c.Param("address"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, service.ErrPermanenceNotAllowed):
			UnprocessableEntity(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgMailboxConvertFailed)
		}
		return
	}

	if already {
		SuccessWithMsg(c, "邮箱已是永久状态", toMailboxResponse(mailbox))
		return
	}
	Success(c, toMailboxResponse(mailbox))
}

// deleteMailbox godoc
// @Summary 删除邮箱
// @Description 删除指定地址的邮箱及其全部邮件，永久邮箱不可删除
// @Tags Mailboxes
// @Param address path string true "邮箱地址"
// @Success 204
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address} [delete]
func (h *Handler) deleteMailbox(c *gin.Context) {
	if err := h.mailboxes.Delete(c.Param("address")); err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, service.ErrMailboxPermanent):
			Forbidden(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgMailboxDeleteFailed)
		}
		return
	}
	NoContent(c)
}

type attachmentInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// messageSummary 列表视图，只带元数据不带正文。
type messageSummary struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Size       int64     `json:"size"`
	IsRead     bool      `json:"isRead"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type messageResponse struct {
	ID          string           `json:"id"`
	MailboxID   string           `json:"mailboxId"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	TextBody    string           `json:"textBody"`
	HTMLBody    string           `json:"htmlBody"`
	Size        int64            `json:"size"`
	IsRead      bool             `json:"isRead"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	Attachments []attachmentInfo `json:"attachments,omitempty"` // 附件列表（不包含内容）
}

type messageListResponse struct {
	Items []messageSummary `json:"items"`
	Count int              `json:"count"`
}

// listMessages godoc
// @Summary 获取邮件列表
// @Description 返回邮箱内全部邮件的元数据，按接收时间倒序
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=messageListResponse}
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.messages.ListMessages(c.Param("address"))
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, MsgMailboxNotFound)
		} else {
			InternalError(c, MsgMessageListFailed)
		}
		return
	}

	summaries := make([]messageSummary, 0, len(messages))
	for i := range messages {
		summaries = append(summaries, toMessageSummary(&messages[i]))
	}

	Success(c, messageListResponse{
		Items: summaries,
		Count: len(summaries),
	})
}

// getMessage godoc
// @Summary 获取邮件详情
// @Description 查看单封邮件内容，附带附件元数据
// @Tags Messages
// @Produce json
// @Param address path string true "邮箱地址"
// @Param messageId path string true "邮件ID"
// @Success 200 {object} Response{data=messageResponse}
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/messages/{messageId} [get]
func (h *Handler) getMessage(c *gin.Context) {
	msg, err := h.messages.GetMessage(c.Param("address"), c.Param("messageId"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		default:
			InternalError(c, MsgMessageGetFailed)
		}
		return
	}

	Success(c, toMessageResponse(msg))
}

// markMessageRead godoc
// @Summary 标记邮件已读
// @Description 将指定邮件更新为已读状态
// @Tags Messages
// @Param address path string true "邮箱地址"
// @Param messageId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/messages/{messageId}/read [post]
func (h *Handler) markMessageRead(c *gin.Context) {
	if err := h.messages.MarkRead(c.Param("address"), c.Param("messageId")); err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		default:
			InternalError(c, MsgMessageMarkReadFailed)
		}
		return
	}
	NoContent(c)
}

// deleteMessage godoc
// @Summary 删除邮件
// @Description 删除单封邮件及其附件
// @Tags Messages
// @Param address path string true "邮箱地址"
// @Param messageId path string true "邮件ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/messages/{messageId} [delete]
func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.messages.DeleteMessage(c.Param("address"), c.Param("messageId")); err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		default:
			InternalError(c, MsgMessageDeleteFailed)
		}
		return
	}
	NoContent(c)
}

// downloadAttachment godoc
// @Summary 下载附件
// @Description 下载邮件的附件文件
// @Tags Messages
// @Produce application/octet-stream
// @Param address path string true "邮箱地址"
// @Param messageId path string true "邮件ID"
// @Param attachmentId path string true "附件ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /v1/mailboxes/{address}/messages/{messageId}/attachments/{attachmentId} [get]
func (h *Handler) downloadAttachment(c *gin.Context) {
	attachment, err := h.messages.GetAttachment(
		c.Param("address"),
		c.Param("messageId"),
		c.Param("attachmentId"),
	)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, MsgMailboxNotFound)
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		default:
			NotFound(c, MsgAttachmentNotFound)
		}
		return
	}

	// 附件下载不使用统一响应格式，直接返回二进制流
	c.Header("Content-Type", attachment.ContentType)
	c.Header("Content-Disposition", "attachment; filename=\""+attachment.Filename+"\"")
	c.Header("Content-Length", fmt.Sprintf("%d", attachment.Size))
	c.Data(http.StatusOK, attachment.ContentType, attachment.Content)
}

// toMailboxResponse 转换实体为响应体。
// 永久哨兵不对外暴露，永久状态只通过 isPermanent 表达。
func toMailboxResponse(mailbox *domain.Mailbox) mailboxResponse {
	resp := mailboxResponse{
		ID:          mailbox.ID,
		Address:     mailbox.Address,
		Class:       string(mailbox.Class),
		CreatedAt:   mailbox.CreatedAt,
		IsPermanent: domain.IsPermanentExpiry(mailbox.ExpiresAt),
	}
	if !resp.IsPermanent {
		t := mailbox.ExpiresAt
		resp.ExpiresAt = &t
	}
	return resp
}

// toMessageSummary 转换邮件实体为列表项。
func toMessageSummary(message *domain.Message) messageSummary {
	return messageSummary{
		ID:         message.ID,
		From:       message.From,
		To:         message.To,
		Subject:    message.Subject,
		Size:       message.Size,
		IsRead:     message.IsRead,
		ReceivedAt: message.ReceivedAt,
	}
}

// toMessageResponse 转换邮件实体为响应体。
func toMessageResponse(message *domain.Message) messageResponse {
	// 转换附件信息（不包含内容）
	attachments := make([]attachmentInfo, 0, len(message.Attachments))
	for _, att := range message.Attachments {
		attachments = append(attachments, attachmentInfo{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	return messageResponse{
		ID:          message.ID,
		MailboxID:   message.MailboxID,
		From:        message.From,
		To:          message.To,
		Subject:     message.Subject,
		TextBody:    message.TextBody,
		HTMLBody:    message.HTMLBody,
		Size:        message.Size,
		IsRead:      message.IsRead,
		ReceivedAt:  message.ReceivedAt,
		Attachments: attachments,
	}
}
