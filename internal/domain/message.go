package domain

import "time"

// Message 表示投递到某个邮箱的一封邮件。
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID  string    `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	From       string    `json:"from" gorm:"column:from_address;type:varchar(255)"`
	To         string    `json:"to" gorm:"column:to_address;type:varchar(255)"`
	Subject    string    `json:"subject" gorm:"type:varchar(500)"`
	TextBody   string    `json:"textBody,omitempty" gorm:"type:text"`
	HTMLBody   string    `json:"htmlBody,omitempty" gorm:"column:html_body;type:text"`
	Size       int64     `json:"size"`
	IsRead     bool      `json:"isRead" gorm:"default:false;index"`
	ReceivedAt time.Time `json:"receivedAt" gorm:"index"`
	// 附件列表按需加载，不随消息行持久化。
	Attachments []*Attachment `json:"attachments,omitempty" gorm:"-"`
}
