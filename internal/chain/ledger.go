package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"medpolicy/pkg/ledger"
)

// Ledger 把保单创建记为本地账本中的单条目批次，交易哈希为该批次的 Merkle 根。
// 用于开发环境与没有公链的部署。
type Ledger struct {
	ledger ledger.Ledger
	now    func() time.Time
}

// NewLedger 基于 pkg/ledger 构造网关。
func NewLedger(l ledger.Ledger) *Ledger {
	return &Ledger{ledger: l, now: time.Now}
}

type policyEntry struct {
	PolicyID    string    `json:"policy_id"`
	Beneficiary string    `json:"beneficiary"`
	Coverage    string    `json:"coverage"`
	Timestamp   time.Time `json:"timestamp"`
}

func (g *Ledger) CreatePolicy(ctx context.Context, tx PolicyTx) (string, error) {
	if tx.Beneficiary == "" {
		return "", ErrNoBeneficiary
	}
	now := g.now().UTC()
	entry := policyEntry{PolicyID: tx.PolicyID, Beneficiary: tx.Beneficiary, Timestamp: now}
	if tx.Coverage != nil {
		entry.Coverage = tx.Coverage.String()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	root, err := g.ledger.AppendBatch(ctx, "policy-"+id, map[string]string{"policy-" + id: ledger.HashEntry(data)})
	if err != nil {
		return "", err
	}
	return "0x" + root, nil
}
