package models

import (
	"math/big"
	"strings"
)

// ParseAmount 解析最小货币单位金额：十进制正整数，允许前后空白。
// 0、负数、小数与科学计数法均视为 ErrValidation。
func ParseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, Invalid("%s is required", field)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || strings.HasPrefix(s, "+") {
		return nil, Invalid("%s must be an integer in the smallest currency unit, got %q", field, s)
	}
	if n.Sign() <= 0 {
		return nil, Invalid("%s must be positive", field)
	}
	return n, nil
}

// Missing 返回值为空的字段名；全部非空时返回 nil。
// 成对传入：名称、值。
func Missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

// RequireFields 在有字段缺失时返回 "a, b and c are required" 形式的 ErrValidation。
func RequireFields(pairs ...string) error {
	m := Missing(pairs...)
	switch len(m) {
	case 0:
		return nil
	case 1:
		return Invalid("%s is required", m[0])
	default:
		return Invalid("%s and %s are required", strings.Join(m[:len(m)-1], ", "), m[len(m)-1])
	}
}
