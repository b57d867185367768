package address

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidAddress 是全部校验失败的父错误，
// 边界层用它一次匹配"地址非法"这一整类。
var ErrInvalidAddress = errors.New("invalid address")

// 校验错误。三种失败各有独立哨兵，都包裹 ErrInvalidAddress。
var (
	ErrAddressTooShort     = fmt.Errorf("%w: too short (min %d chars)", ErrInvalidAddress, MinAddressLength)
	ErrAddressTooLong      = fmt.Errorf("%w: too long (max %d chars)", ErrInvalidAddress, MaxAddressLength)
	ErrAddressInvalidChars = fmt.Errorf("%w: contains invalid characters", ErrInvalidAddress)
)

// 合法字符集。刻意放行大写：未预先归一化的调用方不该因此受罚，
// 入库前的小写折叠是调用方的责任，不在校验器里做。
var addressRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate 校验自定义地址。规则按序短路：长度下限、长度上限、字符集。
func Validate(addr string) error {
	if len(addr) < MinAddressLength {
		return ErrAddressTooShort
	}
	if len(addr) > MaxAddressLength {
		return ErrAddressTooLong
	}
	if !addressRegex.MatchString(addr) {
		return ErrAddressInvalidChars
	}
	return nil
}
