package domain

// Attachment 表示邮件附件，内容随行存储。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`            // 附件唯一标识
	MessageID   string `json:"messageId" gorm:"type:varchar(36);index;not null"` // 所属邮件ID
	Filename    string `json:"filename" gorm:"type:varchar(255)"`                // 文件名
	ContentType string `json:"contentType" gorm:"type:varchar(100)"`             // MIME类型
	Size        int64  `json:"size"`                                             // 大小（字节）
	Content     []byte `json:"-"`                                                // 附件内容
}
