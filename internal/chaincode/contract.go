// Package chaincode 保单链码：Fabric 后端的 CreatePolicy 交易落在这里。
package chaincode

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const keyPrefix = "policy:"

var (
	ErrPolicyExists   = errors.New("chaincode: policy already exists")
	ErrPolicyNotFound = errors.New("chaincode: policy not found")
)

// OnChainPolicy 世界状态中的保单。
type OnChainPolicy struct {
	PolicyID    string `json:"policyId"`
	Beneficiary string `json:"beneficiary"`
	Coverage    string `json:"coverage"`
	TxID        string `json:"txId"`
}

// PolicyContract 保单合约。
type PolicyContract struct {
	contractapi.Contract
}

// state ChaincodeStubInterface 中合约用到的部分。
type state interface {
	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	GetTxID() string
}

// CreatePolicy 登记保单；同一 policyId 只能登记一次。
func (c *PolicyContract) CreatePolicy(ctx contractapi.TransactionContextInterface, policyID, beneficiary, coverage string) error {
	_, err := createPolicy(ctx.GetStub(), policyID, beneficiary, coverage)
	return err
}

// ReadPolicy 按 policyId 读取保单。
func (c *PolicyContract) ReadPolicy(ctx contractapi.TransactionContextInterface, policyID string) (*OnChainPolicy, error) {
	return readPolicy(ctx.GetStub(), policyID)
}

// PolicyExists 判断保单是否已登记。
func (c *PolicyContract) PolicyExists(ctx contractapi.TransactionContextInterface, policyID string) (bool, error) {
	b, err := ctx.GetStub().GetState(keyPrefix + policyID)
	if err != nil {
		return false, fmt.Errorf("读取世界状态失败: %w", err)
	}
	return b != nil, nil
}

func createPolicy(s state, policyID, beneficiary, coverage string) (*OnChainPolicy, error) {
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return nil, errors.New("policyId is required")
	}
	if !common.IsHexAddress(beneficiary) {
		return nil, fmt.Errorf("beneficiary %q is not an address", beneficiary)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(coverage), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("coverage %q must be a positive integer", coverage)
	}
	key := keyPrefix + policyID
	existing, err := s.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("读取世界状态失败: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyExists, policyID)
	}
	p := &OnChainPolicy{
		PolicyID:    policyID,
		Beneficiary: strings.ToLower(common.HexToAddress(beneficiary).Hex()),
		Coverage:    amount.String(),
		TxID:        s.GetTxID(),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := s.PutState(key, b); err != nil {
		return nil, fmt.Errorf("写入世界状态失败: %w", err)
	}
	return p, nil
}

func readPolicy(s state, policyID string) (*OnChainPolicy, error) {
	b, err := s.GetState(keyPrefix + policyID)
	if err != nil {
		return nil, fmt.Errorf("读取世界状态失败: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
	}
	var p OnChainPolicy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("保单数据损坏: %w", err)
	}
	return &p, nil
}
