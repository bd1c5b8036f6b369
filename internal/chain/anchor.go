package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Result 一次尽力而为的上链结果。TxHash 为空表示未上链，Err 记录原因（仅供日志）。
type Result struct {
	TxHash string
	Err    error
}

// Hash 返回交易哈希指针；未上链时为 nil，JSON 序列化为 null。
func (r Result) Hash() *string {
	if r.TxHash == "" {
		return nil
	}
	h := r.TxHash
	return &h
}

// Anchorer 在限定时间内调用 Gateway，任何失败都折叠进 Result。
type Anchorer struct {
	gw      Gateway
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewAnchorer 创建 Anchorer。gw 为 nil 时 Anchor 直接返回 ErrDisabled。
func NewAnchorer(gw Gateway, timeout time.Duration, log logrus.FieldLogger) *Anchorer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Anchorer{gw: gw, timeout: timeout, log: log}
}

// Anchor 提交交易并等待至多 timeout。网关不响应 ctx 时也按时返回，后台调用自行结束。
func (a *Anchorer) Anchor(ctx context.Context, tx PolicyTx) Result {
	if a == nil || a.gw == nil {
		return Result{Err: ErrDisabled}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Err: fmt.Errorf("chain: gateway panic: %v", p)}
			}
		}()
		h, err := a.gw.CreatePolicy(ctx, tx)
		done <- Result{TxHash: h, Err: err}
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Err: fmt.Errorf("chain: %w", ctx.Err())}
	}
	fields := logrus.Fields{"policy_id": tx.PolicyID, "beneficiary": tx.Beneficiary}
	if res.Err != nil {
		res.TxHash = ""
		a.log.WithFields(fields).WithError(res.Err).Warn("[medpolicy] 链上保单创建失败，审批结果不受影响")
		return res
	}
	a.log.WithFields(fields).WithField("tx_hash", res.TxHash).Info("[medpolicy] 链上保单已创建")
	return res
}
