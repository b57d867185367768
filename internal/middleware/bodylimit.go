package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 默认请求体大小限制。
// 对外 API 只承载 JSON 控制请求，邮件本体走 SMTP 通道。
const DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 检查 Content-Length 头
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  fmt.Sprintf("请求体超过大小上限 %d 字节", maxBytes),
			})
			c.Abort()
			return
		}

		// 限制请求体读取大小，分块传输等无 Content-Length 的请求也能兜住
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		// 告知客户端最大允许的请求体大小
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
