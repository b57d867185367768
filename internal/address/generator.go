package address

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// 地址长度约束。
const (
	MinAddressLength = 3  // 自定义地址下限
	MaxAddressLength = 30 // 自定义地址上限
	MinNameLength    = 6  // name 类地址下限
	MaxNameLength    = 20 // name 类地址上限
	MinRandomLength  = 8  // random 类地址下限
	MaxRandomLength  = 12 // random 类地址上限
)

const (
	randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	letterAlphabet = "abcdefghijklmnopqrstuvwxyz"
	digitAlphabet  = "0123456789"

	// name 类生成的尝试上限，超过后走确定性兜底。
	maxNameAttempts = 50
)

// name 类地址的四种拼接格式。
const (
	formatDot        = iota // first.last
	formatUnderscore        // first_last
	formatPlain             // firstlast
	formatDigits            // firstlast + 2~3 位数字
	formatCount
)

// Generator 为 name/random 两类地址生成候选串。
// 不保证唯一，唯一性冲突由存储层裁决、调用方重试。
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator 创建生成器。
func NewGenerator() *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RandomAddress 生成 random 类地址：长度均匀落在 [8,12]，
// 字符集 a-z0-9，首字符必须是字母。
func (g *Generator) RandomAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := MinRandomLength + g.rng.Intn(MaxRandomLength-MinRandomLength+1)

	var b strings.Builder
	b.Grow(n)
	b.WriteByte(letterAlphabet[g.rng.Intn(len(letterAlphabet))])
	for i := 1; i < n; i++ {
		b.WriteByte(randomAlphabet[g.rng.Intn(len(randomAlphabet))])
	}
	return b.String()
}

// NameAddress 生成 name 类地址：独立均匀抽取姓名各一，再按四种格式之一拼接。
// 结果短于 6 时改用数字后缀格式重试，长于 20 时退回纯拼接（绝不截断，
// 截断会得到一对无人预期的名字）。尝试 maxNameAttempts 次后走确定性兜底。
func (g *Generator) NameAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		first := firstNames[g.rng.Intn(len(firstNames))]
		last := lastNames[g.rng.Intn(len(lastNames))]

		candidate := g.combineLocked(first, last, g.rng.Intn(formatCount))
		if len(candidate) < MinNameLength {
			candidate = g.combineLocked(first, last, formatDigits)
		}
		if len(candidate) > MaxNameLength {
			candidate = first + last
		}
		if len(candidate) >= MinNameLength && len(candidate) <= MaxNameLength {
			return candidate
		}
	}
	return fallbackName()
}

func (g *Generator) combineLocked(first, last string, format int) string {
	switch format {
	case formatDot:
		return first + "." + last
	case formatUnderscore:
		return first + "_" + last
	case formatDigits:
		digits := 2 + g.rng.Intn(2)
		var b strings.Builder
		b.WriteString(first)
		b.WriteString(last)
		for i := 0; i < digits; i++ {
			b.WriteByte(digitAlphabet[g.rng.Intn(len(digitAlphabet))])
		}
		return b.String()
	default:
		return first + last
	}
}

// fallbackName 按池内顺序取第一对纯拼接长度必然落在 [6,20] 的组合。
// 池子固定且必有合法组合，兜底结果永远通过校验。
func fallbackName() string {
	for _, first := range firstNames {
		for _, last := range lastNames {
			n := len(first) + len(last)
			if n >= MinNameLength && n <= MaxNameLength {
				return first + last
			}
		}
	}
	// 池子非空时到不了这里
	return "jamessmith"
}
