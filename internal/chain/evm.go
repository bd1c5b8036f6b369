package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// PolicyContractABI 保单合约中用到的方法。
const PolicyContractABI = `[{"type":"function","name":"createPolicy","stateMutability":"nonpayable",
"inputs":[{"name":"beneficiary","type":"address"},{"name":"coverageAmount","type":"uint256"}],"outputs":[]}]`

// EVMBackend 是 *ethclient.Client 中用到的方法子集。
type EVMBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EVM 通过 createPolicy(address,uint256) 在 EVM 链上创建保单。
type EVM struct {
	backend    EVMBackend
	contract   common.Address
	abi        abi.ABI
	chainID    *big.Int
	defaultKey string
}

// DialEVM 连接 rpcURL 并构造 EVM 网关。
func DialEVM(ctx context.Context, rpcURL, contract string, chainID int64, defaultKey string) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return NewEVM(client, contract, chainID, defaultKey)
}

// NewEVM 使用已有 backend 构造 EVM 网关。
func NewEVM(backend EVMBackend, contract string, chainID int64, defaultKey string) (*EVM, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contract)
	}
	parsed, err := abi.JSON(strings.NewReader(PolicyContractABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	return &EVM{
		backend:    backend,
		contract:   common.HexToAddress(contract),
		abi:        parsed,
		chainID:    big.NewInt(chainID),
		defaultKey: defaultKey,
	}, nil
}

func (e *EVM) CreatePolicy(ctx context.Context, tx PolicyTx) (string, error) {
	if !common.IsHexAddress(tx.Beneficiary) {
		return "", ErrNoBeneficiary
	}
	if tx.Coverage == nil || tx.Coverage.Sign() <= 0 {
		return "", errors.New("chain: coverage must be positive")
	}
	key, err := parseKey(tx.SigningKey, e.defaultKey)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	data, err := e.abi.Pack("createPolicy", common.HexToAddress(tx.Beneficiary), tx.Coverage)
	if err != nil {
		return "", fmt.Errorf("chain: pack createPolicy: %w", err)
	}
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &e.contract, Data: data})
	if err != nil {
		return "", fmt.Errorf("chain: estimate gas: %w", err)
	}
	raw := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(raw, types.LatestSignerForChainID(e.chainID), key)
	if err != nil {
		return "", fmt.Errorf("chain: sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func parseKey(keys ...string) (*ecdsa.PrivateKey, error) {
	for _, k := range keys {
		k = strings.TrimPrefix(strings.TrimSpace(k), "0x")
		if k == "" {
			continue
		}
		key, err := crypto.HexToECDSA(k)
		if err != nil {
			return nil, fmt.Errorf("chain: invalid signing key: %w", err)
		}
		return key, nil
	}
	return nil, errors.New("chain: no signing key")
}
