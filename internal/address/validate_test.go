package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected error
	}{
		{"Valid minimum length", "abc", nil},
		{"Valid maximum length", strings.Repeat("a", 30), nil},
		{"Valid with dot", "user.name", nil},
		{"Valid with underscore", "user_name", nil},
		{"Valid with dash", "user-name", nil},
		{"Valid with digits", "user123", nil},
		{"Valid uppercase accepted", "UserName", nil},
		{"Too short - two chars", "ab", ErrAddressTooShort},
		{"Too short - empty", "", ErrAddressTooShort},
		{"Too long - 31 chars", strings.Repeat("a", 31), ErrAddressTooLong},
		{"Invalid - space", "user name", ErrAddressInvalidChars},
		{"Invalid - at sign", "user@box", ErrAddressInvalidChars},
		{"Invalid - plus", "user+tag", ErrAddressInvalidChars},
		{"Invalid - slash", "user/box", ErrAddressInvalidChars},
		{"Invalid - non-ascii", "用户名", ErrAddressInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.addr)
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

// Length check runs before the charset check
func TestValidateOrder(t *testing.T) {
	assert.ErrorIs(t, Validate("@"), ErrAddressTooShort)
	assert.ErrorIs(t, Validate(strings.Repeat("@", 31)), ErrAddressTooLong)
}

// Every failure also matches the shared parent sentinel
func TestValidateParentSentinel(t *testing.T) {
	assert.ErrorIs(t, Validate("ab"), ErrInvalidAddress)
	assert.ErrorIs(t, Validate(strings.Repeat("a", 31)), ErrInvalidAddress)
	assert.ErrorIs(t, Validate("user name"), ErrInvalidAddress)
}
