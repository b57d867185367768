package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type routerFixture struct {
	router    *gin.Engine
	store     *memory.Store
	mailboxes *service.MailboxService
	messages  *service.MessageService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	cfg := &config.Config{
		Mailbox: config.MailboxConfig{
			DefaultHours: 24,
			MaxHours:     720,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}

	store := memory.NewStore()
	mailboxes := service.NewMailboxService(store, cfg, zap.NewNop())
	messages := service.NewMessageService(store, store)

	router := NewRouter(RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxes,
		MessageService: messages,
		Logger:         zap.NewNop(),
	})

	return &routerFixture{
		router:    router,
		store:     store,
		mailboxes: mailboxes,
		messages:  messages,
	}
}

// do 发送一次请求，body 非空时序列化为 JSON。
func (f *routerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// decodeEnvelope 解出统一响应结构，data 保持为通用 map。
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data 应为对象")
	return data
}

// createMailbox 通过业务服务建一个自定义地址邮箱。
func (f *routerFixture) createMailbox(t *testing.T, addr string) *domain.Mailbox {
	t.Helper()

	mailbox, err := f.mailboxes.Create(service.CreateMailboxInput{
		Class:   domain.AddressClassCustom,
		Address: addr,
	})
	require.NoError(t, err)
	return mailbox
}

// ingestMessage 通过业务服务投一封邮件，可带附件。
func (f *routerFixture) ingestMessage(t *testing.T, addr, subject string, receivedAt time.Time, attachments ...*domain.Attachment) *domain.Message {
	t.Helper()

	mailbox, err := f.mailboxes.Get(addr)
	require.NoError(t, err)

	message, err := f.messages.Ingest(service.IngestInput{
		Mailbox:     mailbox,
		From:        "sender@example.com",
		To:          addr + "@mailbin.dev",
		Subject:     subject,
		TextBody:    "正文内容",
		HTMLBody:    "<p>正文内容</p>",
		Size:        1024,
		ReceivedAt:  receivedAt,
		Attachments: attachments,
	})
	require.NoError(t, err)
	return message
}

func TestCreateMailboxEndpoint(t *testing.T) {
	t.Run("创建随机邮箱成功", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{"addressClass": "random"})

		assert.Equal(t, http.StatusCreated, w.Code)
		resp := decodeEnvelope(t, w)
		assert.Equal(t, CodeCreated, resp.Code)

		data := dataMap(t, resp)
		assert.NotEmpty(t, data["address"])
		assert.Equal(t, "random", data["addressClass"])
		assert.Equal(t, false, data["isPermanent"])
		assert.NotEmpty(t, data["expiresAt"])
	})

	t.Run("未指定类别默认随机", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{})

		assert.Equal(t, http.StatusCreated, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, "random", data["addressClass"])
	})

	t.Run("创建自定义邮箱统一小写", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{
			"addressClass": "custom",
			"address":      "My.Box_01",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, "my.box_01", data["address"])
		assert.Equal(t, "custom", data["addressClass"])
	})

	t.Run("自定义地址冲突返回409", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "taken.box")

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{
			"addressClass": "custom",
			"address":      "taken.box",
		})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, CodeConflict, decodeEnvelope(t, w).Code)
	})

	t.Run("未知类别返回400", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{"addressClass": "vip"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("自定义地址过短返回400", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{
			"addressClass": "custom",
			"address":      "ab",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("随机类申请永久返回422", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{
			"addressClass":   "random",
			"wantsPermanent": true,
		})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("请求体非JSON返回400", func(t *testing.T) {
		f := newRouterFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/mailboxes", bytes.NewBufferString("not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("永久邮箱响应不带过期时间", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes", gin.H{
			"addressClass":   "custom",
			"address":        "keeper.box",
			"wantsPermanent": true,
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, true, data["isPermanent"])
		assert.NotContains(t, data, "expiresAt")
	})
}

func TestGetMailboxEndpoint(t *testing.T) {
	t.Run("存活邮箱返回详情", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "orders.box")

		w := f.do(t, http.MethodGet, "/v1/mailboxes/orders.box", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, "orders.box", data["address"])
	})

	t.Run("不存在的邮箱返回404", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodGet, "/v1/mailboxes/missing.box", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, CodeNotFound, decodeEnvelope(t, w).Code)
	})

	t.Run("过期未清理的邮箱返回404", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "stale.box")
		require.NoError(t, f.store.UpdateMailboxExpiry("stale.box", time.Now().UTC().Add(-time.Hour)))

		w := f.do(t, http.MethodGet, "/v1/mailboxes/stale.box", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestConvertMailboxEndpoint(t *testing.T) {
	t.Run("自定义邮箱转永久成功", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "keep.box")

		w := f.do(t, http.MethodPost, "/v1/mailboxes/keep.box/permanent", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, true, data["isPermanent"])
		assert.NotContains(t, data, "expiresAt")
	})

	t.Run("重复转换幂等", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "keep.box")

		first := f.do(t, http.MethodPost, "/v1/mailboxes/keep.box/permanent", nil)
		require.Equal(t, http.StatusOK, first.Code)

		second := f.do(t, http.MethodPost, "/v1/mailboxes/keep.box/permanent", nil)
		assert.Equal(t, http.StatusOK, second.Code)

		resp := decodeEnvelope(t, second)
		assert.Equal(t, "邮箱已是永久状态", resp.Msg)
		assert.Equal(t, true, dataMap(t, resp)["isPermanent"])
	})

	t.Run("随机类邮箱转永久返回422", func(t *testing.T) {
		f := newRouterFixture(t)
		mailbox, err := f.mailboxes.Create(service.CreateMailboxInput{Class: domain.AddressClassRandom})
		require.NoError(t, err)

		w := f.do(t, http.MethodPost, "/v1/mailboxes/"+mailbox.Address+"/permanent", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("不存在的邮箱返回404", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodPost, "/v1/mailboxes/missing.box/permanent", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteMailboxEndpoint(t *testing.T) {
	t.Run("删除后邮箱不可再访问", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "gone.box")

		w := f.do(t, http.MethodDelete, "/v1/mailboxes/gone.box", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		after := f.do(t, http.MethodGet, "/v1/mailboxes/gone.box", nil)
		assert.Equal(t, http.StatusNotFound, after.Code)
	})

	t.Run("永久邮箱删除返回403", func(t *testing.T) {
		f := newRouterFixture(t)
		_, err := f.mailboxes.Create(service.CreateMailboxInput{
			Class:          domain.AddressClassCustom,
			Address:        "forever.box",
			WantsPermanent: true,
		})
		require.NoError(t, err)

		w := f.do(t, http.MethodDelete, "/v1/mailboxes/forever.box", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, CodeForbidden, decodeEnvelope(t, w).Code)
	})

	t.Run("不存在的邮箱返回404", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodDelete, "/v1/mailboxes/missing.box", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMessageEndpoints(t *testing.T) {
	t.Run("列表按接收时间倒序且不带正文", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		now := time.Now().UTC()
		f.ingestMessage(t, "inbox.box", "较早的邮件", now.Add(-time.Hour))
		newer := f.ingestMessage(t, "inbox.box", "较新的邮件", now)

		w := f.do(t, http.MethodGet, "/v1/mailboxes/inbox.box/messages", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, float64(2), data["count"])

		items, ok := data["items"].([]interface{})
		require.True(t, ok)
		require.Len(t, items, 2)

		first := items[0].(map[string]interface{})
		assert.Equal(t, newer.ID, first["id"])
		assert.Equal(t, "较新的邮件", first["subject"])
		assert.NotContains(t, first, "textBody")
		assert.NotContains(t, first, "htmlBody")
	})

	t.Run("获取详情带正文与附件元数据", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		message := f.ingestMessage(t, "inbox.box", "发票", time.Now().UTC(), &domain.Attachment{
			Filename:    "invoice.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4"),
		})

		w := f.do(t, http.MethodGet, "/v1/mailboxes/inbox.box/messages/"+message.ID, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := dataMap(t, decodeEnvelope(t, w))
		assert.Equal(t, "发票", data["subject"])
		assert.Equal(t, "正文内容", data["textBody"])

		attachments, ok := data["attachments"].([]interface{})
		require.True(t, ok)
		require.Len(t, attachments, 1)

		att := attachments[0].(map[string]interface{})
		assert.Equal(t, "invoice.pdf", att["filename"])
		assert.Equal(t, float64(8), att["size"])
		assert.NotContains(t, att, "content")
	})

	t.Run("标记已读后详情可见", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		message := f.ingestMessage(t, "inbox.box", "验证码", time.Now().UTC())

		w := f.do(t, http.MethodPost, "/v1/mailboxes/inbox.box/messages/"+message.ID+"/read", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		detail := f.do(t, http.MethodGet, "/v1/mailboxes/inbox.box/messages/"+message.ID, nil)
		data := dataMap(t, decodeEnvelope(t, detail))
		assert.Equal(t, true, data["isRead"])
	})

	t.Run("删除后邮件不可再访问", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		message := f.ingestMessage(t, "inbox.box", "临时邮件", time.Now().UTC())

		w := f.do(t, http.MethodDelete, "/v1/mailboxes/inbox.box/messages/"+message.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		after := f.do(t, http.MethodGet, "/v1/mailboxes/inbox.box/messages/"+message.ID, nil)
		assert.Equal(t, http.StatusNotFound, after.Code)
	})

	t.Run("邮箱不存在时列表返回404", func(t *testing.T) {
		f := newRouterFixture(t)

		w := f.do(t, http.MethodGet, "/v1/mailboxes/missing.box/messages", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("过期邮箱里的邮件不可达", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "stale.box")
		message := f.ingestMessage(t, "stale.box", "尘封邮件", time.Now().UTC())
		require.NoError(t, f.store.UpdateMailboxExpiry("stale.box", time.Now().UTC().Add(-time.Minute)))

		w := f.do(t, http.MethodGet, "/v1/mailboxes/stale.box/messages/"+message.ID, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("邮件不存在返回404", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")

		w := f.do(t, http.MethodGet, "/v1/mailboxes/inbox.box/messages/no-such-id", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDownloadAttachmentEndpoint(t *testing.T) {
	t.Run("下载返回原始内容", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		message := f.ingestMessage(t, "inbox.box", "附件邮件", time.Now().UTC(), &domain.Attachment{
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4 content"),
		})
		require.Len(t, message.Attachments, 1)

		path := "/v1/mailboxes/inbox.box/messages/" + message.ID + "/attachments/" + message.Attachments[0].ID
		w := f.do(t, http.MethodGet, path, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "report.pdf")
		assert.Equal(t, []byte("%PDF-1.4 content"), w.Body.Bytes())
	})

	t.Run("附件不存在返回404", func(t *testing.T) {
		f := newRouterFixture(t)
		f.createMailbox(t, "inbox.box")
		message := f.ingestMessage(t, "inbox.box", "无附件邮件", time.Now().UTC())

		path := "/v1/mailboxes/inbox.box/messages/" + message.ID + "/attachments/no-such-id"
		w := f.do(t, http.MethodGet, path, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
