// Package notify 提供保险方通知接口：新投保申请、新理赔提交时推送到 IM。
package notify

import "context"

// Kind 通知对象类型。
type Kind string

const (
	KindPolicyRequest Kind = "policy_request"
	KindClaim         Kind = "claim"
)

// Notice 一条待处理通知。
type Notice struct {
	Kind    Kind
	ID      string
	Summary string
	Amount  string // 保额或理赔金额（整数字符串），用于投递路由
}

// Provider 通知渠道。调用方视为尽力而为，错误仅记录。
type Provider interface {
	Notify(ctx context.Context, n *Notice) error
}

// Nop 不发送任何通知。
type Nop struct{}

func (Nop) Notify(ctx context.Context, n *Notice) error { return nil }
