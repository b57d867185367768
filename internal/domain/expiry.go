package domain

import (
	"time"
)

// PermanentExpiry 是"永不过期"的哨兵时间戳。
// 取值刻意排在一切真实过期时间之后，且能落进 MySQL DATETIME、
// Postgres timestamptz 以及 Unix 秒整数域。
var PermanentExpiry = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// IsPermanentExpiry 报告过期时间是否为永久哨兵。
// 这是对行做永久性分类的唯一方式，每次使用时重新判定，不做缓存。
func IsPermanentExpiry(expiresAt time.Time) bool {
	return expiresAt.Equal(PermanentExpiry)
}

// PermanentAllowed 报告类别是否允许永久化。
// 只有 name 和 custom 可以；random 永远不行。创建和转换路径都必须
// 经过这一个闸口，任何其它规则都不得给 random 邮箱授予永久。
func PermanentAllowed(class AddressClass) bool {
	return class == AddressClassName || class == AddressClassCustom
}

// ComputeExpiresAt 由创建/转换意图计算落库的过期时间。
// 请求永久且类别允许时返回哨兵，此时 validFor 被整个忽略（不报错）；
// 否则返回 now + validFor。
func ComputeExpiresAt(now time.Time, validFor time.Duration, wantsPermanent bool, class AddressClass) time.Time {
	if wantsPermanent && PermanentAllowed(class) {
		return PermanentExpiry
	}
	return now.Add(validFor)
}

// ExemptFromPurge 报告归属某过期时间的邮件是否免于清理。
// 邮件存储在任何按年龄或已读状态删除之前都必须先问这个谓词：
// 永久邮箱的邮件无限期豁免。
func ExemptFromPurge(mailboxExpiresAt time.Time) bool {
	return IsPermanentExpiry(mailboxExpiresAt)
}
