// Package chain 链上网关：提交保单创建交易，返回交易哈希。
// 后端可选 EVM 合约、Fabric 链码或本地 ledger；Anchorer 负责超时控制，
// 链上失败只体现为没有交易哈希，不影响已提交的审批。
package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoBeneficiary 无法得到受益人地址。
var ErrNoBeneficiary = errors.New("chain: no beneficiary address")

// ErrDisabled 未配置链上后端。
var ErrDisabled = errors.New("chain: anchoring disabled")

// PolicyTx 一笔保单创建交易的参数。
type PolicyTx struct {
	PolicyID    string   // 投保申请 id，仅用于日志与链码键
	Beneficiary string   // 0x 地址
	Coverage    *big.Int // 最小货币单位
	SigningKey  string   // 十六进制私钥；为空时使用后端默认密钥
}

// Gateway 链上网关接口。
type Gateway interface {
	CreatePolicy(ctx context.Context, tx PolicyTx) (txHash string, err error)
}

// NormalizeAddress 校验并返回小写 0x 地址；不是合法地址时返回 false。
func NormalizeAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), true
}

// ResolveBeneficiary 依次尝试候选值，返回第一个合法地址。
// 候选值可以是地址本身，也可以是 did:ethr:/did:pkh: 这类以地址结尾的 DID。
func ResolveBeneficiary(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if addr, ok := NormalizeAddress(c); ok {
			return addr, true
		}
		if i := strings.LastIndex(c, ":"); strings.HasPrefix(c, "did:") && i >= 0 {
			if addr, ok := NormalizeAddress(c[i+1:]); ok {
				return addr, true
			}
		}
	}
	return "", false
}
