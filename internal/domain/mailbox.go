package domain

import (
	"time"
)

// AddressClass 表示邮箱地址的生成类别。
type AddressClass string

const (
	AddressClassName   AddressClass = "name"   // 人名组合生成
	AddressClassRandom AddressClass = "random" // 随机字符串生成
	AddressClassCustom AddressClass = "custom" // 调用方自定义
)

// Valid 报告类别是否为已知取值。
func (c AddressClass) Valid() bool {
	switch c {
	case AddressClassName, AddressClassRandom, AddressClassCustom:
		return true
	}
	return false
}

// Mailbox 表示一个一次性邮箱的业务实体。
//
// ExpiresAt 永不为零值：要么是真实过期时间，要么是 PermanentExpiry 哨兵
// （永不过期）。永久状态一律通过 IsPermanentExpiry(ExpiresAt) 推导，
// Permanent 字段只是序列化视图，不落库。
type Mailbox struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address        string       `json:"address" gorm:"type:varchar(64);uniqueIndex;not null"`
	Class          AddressClass `json:"addressClass" gorm:"column:address_class;type:varchar(16);not null;default:random"`
	CreatedAt      time.Time    `json:"createdAt"`
	ExpiresAt      time.Time    `json:"expiresAt" gorm:"not null;index"`
	LastAccessedAt time.Time    `json:"lastAccessedAt"`
	IPSource       string       `json:"-" gorm:"column:owner_ip;type:varchar(45)"`
	Permanent      bool         `json:"isPermanent" gorm:"-"`
}

// Live 报告邮箱在 now 时刻对调用方是否可见：未过期，或持有永久哨兵。
// 已过期但尚未被清扫的行必须表现为不存在。
func (m *Mailbox) Live(now time.Time) bool {
	return m.ExpiresAt.After(now) || IsPermanentExpiry(m.ExpiresAt)
}

// Hydrate 从 ExpiresAt 重算派生字段。持久层每次读出后都要调用，
// 保证永久标记永远不会与存储值脱钩。
func (m *Mailbox) Hydrate() *Mailbox {
	m.Permanent = IsPermanentExpiry(m.ExpiresAt)
	return m
}
