package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crlf 以 CRLF 拼接邮件行
func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

func TestParseEmail(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := crlf(
			"From: Alice <alice@example.com>",
			"To: orders.box@mailbin.dev",
			"Subject: hello",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"plain body",
			"",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "Alice <alice@example.com>", parsed.From)
		assert.Equal(t, "orders.box@mailbin.dev", parsed.To)
		assert.Equal(t, "hello", parsed.Subject)
		assert.Equal(t, "plain body\r\n", parsed.TextBody)
		assert.Empty(t, parsed.HTMLBody)
		assert.Empty(t, parsed.Attachments)
	})

	t.Run("无ContentType按纯文本处理", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: no content type",
			"",
			"raw body",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "raw body", parsed.TextBody)
	})

	t.Run("HTML邮件", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: html",
			"Content-Type: text/html; charset=utf-8",
			"",
			"<p>hi</p>",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "<p>hi</p>", parsed.HTMLBody)
		assert.Empty(t, parsed.TextBody)
	})

	t.Run("quoted-printable解码", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: qp",
			"Content-Type: text/plain; charset=utf-8",
			"Content-Transfer-Encoding: quoted-printable",
			"",
			"caf=C3=A9",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "café", parsed.TextBody)
	})

	t.Run("GB2312字符集转换", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: gbk",
			"Content-Type: text/plain; charset=gb2312",
			"Content-Transfer-Encoding: 8bit",
			"",
			"\xc4\xe3\xba\xc3",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.TextBody)
	})

	t.Run("RFC2047主题解码", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: =?UTF-8?B?5L2g5aW9?=",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"body",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
	})

	t.Run("多部分嵌套带附件", func(t *testing.T) {
		raw := crlf(
			"From: billing@example.com",
			"To: orders.box@mailbin.dev",
			"Subject: invoice",
			"Content-Type: multipart/mixed; boundary=outer",
			"",
			"--outer",
			"Content-Type: multipart/alternative; boundary=inner",
			"",
			"--inner",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"plain body",
			"--inner",
			"Content-Type: text/html; charset=utf-8",
			"",
			"<p>html body</p>",
			"--inner--",
			"--outer",
			"Content-Type: application/pdf",
			"Content-Disposition: attachment; filename=\"report.pdf\"",
			"Content-Transfer-Encoding: base64",
			"",
			"JVBERi0xLjQ=",
			"--outer--",
			"",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		assert.Equal(t, "plain body", parsed.TextBody)
		assert.Equal(t, "<p>html body</p>", parsed.HTMLBody)

		require.Len(t, parsed.Attachments, 1)
		att := parsed.Attachments[0]
		assert.Equal(t, "report.pdf", att.Filename)
		assert.Equal(t, "application/pdf", att.ContentType)
		assert.Equal(t, []byte("%PDF-1.4"), att.Content)
		assert.Equal(t, int64(8), att.Size)
		// ID 由落库时分配
		assert.Empty(t, att.ID)
	})

	t.Run("内联附件也会提取", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: inline",
			"Content-Type: multipart/mixed; boundary=xyz",
			"",
			"--xyz",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"see image",
			"--xyz",
			"Content-Type: image/png; name=\"pixel.png\"",
			"Content-Disposition: inline",
			"Content-Transfer-Encoding: base64",
			"",
			"iVBORw0KGgo=",
			"--xyz--",
			"",
		)

		parsed, err := ParseEmail([]byte(raw))

		require.NoError(t, err)
		require.Len(t, parsed.Attachments, 1)
		// Content-Disposition 未给文件名时退回 Content-Type 的 name
		assert.Equal(t, "pixel.png", parsed.Attachments[0].Filename)
		assert.Equal(t, "image/png", parsed.Attachments[0].ContentType)
	})

	t.Run("multipart缺boundary报错", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"Subject: broken",
			"Content-Type: multipart/mixed",
			"",
			"body",
		)

		_, err := ParseEmail([]byte(raw))

		assert.Error(t, err)
	})

	t.Run("非邮件内容报错", func(t *testing.T) {
		_, err := ParseEmail([]byte("not an email at all"))

		assert.Error(t, err)
	})
}
