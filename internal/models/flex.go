package models

import (
	"encoding/json"
	"fmt"
)

// FlexString 接受 JSON 字符串或数字；金额字段在请求体与历史记录里两种写法都有。
// 数字按原文保留，不经 float64，避免大额精度丢失。
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a string or a number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}
