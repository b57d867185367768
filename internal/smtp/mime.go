package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"mailbin/backend/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。
// 附件此时尚未分配 ID，落库时由消息服务补齐。
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	TextBody    string
	HTMLBody    string
	Attachments []*domain.Attachment
}

// ParseEmail 解析邮件原文，提取正文和附件。
func ParseEmail(rawEmail []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(rawEmail))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &ParsedEmail{
		Subject:     decodeHeader(msg.Header.Get("Subject")),
		From:        decodeHeader(msg.Header.Get("From")),
		To:          decodeHeader(msg.Header.Get("To")),
		Attachments: make([]*domain.Attachment, 0),
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 如果没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		parsed.TextBody = string(body)
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		// 多部分邮件，需要解析各个部分
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message without boundary")
		}

		mr := multipart.NewReader(msg.Body, boundary)
		if err := parseMultipart(mr, parsed); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
	} else {
		// 单部分邮件
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}

		if strings.HasPrefix(mediaType, "text/html") {
			parsed.HTMLBody = body
		} else {
			parsed.TextBody = body
		}
	}

	return parsed, nil
}

// parseMultipart 递归解析多部分邮件。
func parseMultipart(mr *multipart.Reader, parsed *ParsedEmail) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 检查是否是附件
		disposition := part.Header.Get("Content-Disposition")
		if disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || dispType == "inline" {
				parsed.Attachments = append(parsed.Attachments, parseAttachment(part, mediaType, params, dispParams))
				continue
			}
		}

		// 处理嵌套的 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary != "" {
				nestedReader := multipart.NewReader(part, boundary)
				if err := parseMultipart(nestedReader, parsed); err != nil {
					return err
				}
			}
			continue
		}

		// 处理文本内容
		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if parsed.HTMLBody == "" {
				parsed.HTMLBody = body
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if parsed.TextBody == "" {
				parsed.TextBody = body
			}
		}
	}

	return nil
}

// parseAttachment 读取单个附件部分。
func parseAttachment(part *multipart.Part, mediaType string, params, dispParams map[string]string) *domain.Attachment {
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "unnamed"
	}

	// 文件名可能是 RFC 2047 编码
	filename = decodeHeader(filename)

	content, err := io.ReadAll(part)
	if err != nil {
		content = nil
	}

	// 解码附件内容（如果是 base64 编码）
	if strings.EqualFold(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")), "base64") {
		decoded, err := base64.StdEncoding.DecodeString(string(content))
		if err == nil {
			content = decoded
		}
	}

	return &domain.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Size:        int64(len(content)),
		Content:     content,
	}
}

// decodeBody 根据编码方式解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader = reader

	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	case "7bit", "8bit", "binary", "":
		// 不需要解码
		decoded = reader
	default:
		// 未知编码，尝试直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	// 字符集转换
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			decoder := enc.NewDecoder()
			converted, _, err := transform.Bytes(decoder, body)
			if err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// getCharsetEncoding 根据字符集名称返回编码器
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}

// decodeHeader 解码 RFC 2047 编码的邮件头
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
