package httptransport

import (
	"mailbin/backend/internal/address"
	"mailbin/backend/internal/service"
	"mailbin/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 地址校验错误
	address.ErrAddressTooShort:     "地址长度不足，至少3个字符",
	address.ErrAddressTooLong:      "地址长度超限，最多30个字符",
	address.ErrAddressInvalidChars: "地址包含非法字符，仅允许字母、数字、点、下划线和连字符",

	// 邮箱生命周期错误
	service.ErrUnknownAddressClass:  "未知的地址类别",
	service.ErrPermanenceNotAllowed: "该地址类别不支持永久保留",
	service.ErrMailboxPermanent:     "永久邮箱不可删除",
	service.ErrGenerationExhausted:  "地址生成重试已达上限，请稍后再试",

	// 存储错误
	storage.ErrMailboxNotFound:    "邮箱不存在",
	storage.ErrAddressTaken:       "该地址已被占用",
	storage.ErrMessageNotFound:    "邮件不存在",
	storage.ErrAttachmentNotFound: "附件不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 邮箱相关
	MsgMailboxCreateFailed  = "创建邮箱失败"
	MsgMailboxNotFound      = "邮箱不存在"
	MsgMailboxDeleteFailed  = "删除邮箱失败"
	MsgMailboxConvertFailed = "转为永久邮箱失败"

	// 邮件相关
	MsgMessageNotFound       = "邮件不存在"
	MsgMessageListFailed     = "获取邮件列表失败"
	MsgMessageGetFailed      = "获取邮件详情失败"
	MsgMessageMarkReadFailed = "标记已读失败"
	MsgMessageDeleteFailed   = "删除邮件失败"

	// 附件相关
	MsgAttachmentNotFound = "附件不存在"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
