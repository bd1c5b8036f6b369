package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medpolicy/pkg/ledger"
)

func TestResolveBeneficiary(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000Ab"
	got, ok := ResolveBeneficiary("", "did:x:1", addr)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(addr), got)

	got, ok = ResolveBeneficiary("did:ethr:" + addr)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(addr), got)

	_, ok = ResolveBeneficiary("0xabc", "did:x:1")
	assert.False(t, ok)
}

func TestAnchorer_Success(t *testing.T) {
	gw := &StubGateway{Hash: "0xfeed"}
	a := NewAnchorer(gw, time.Second, nil)
	res := a.Anchor(context.Background(), PolicyTx{Beneficiary: "0x1", Coverage: big.NewInt(1)})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Hash())
	assert.Equal(t, "0xfeed", *res.Hash())
}

func TestAnchorer_FailureIsSwallowed(t *testing.T) {
	logger, hook := test.NewNullLogger()
	a := NewAnchorer(&StubGateway{Fail: true}, time.Second, logger)
	res := a.Anchor(context.Background(), PolicyTx{PolicyID: "p1"})
	assert.Nil(t, res.Hash())
	assert.ErrorIs(t, res.Err, ErrStubFailure)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "p1", hook.LastEntry().Data["policy_id"])
}

func TestAnchorer_Timeout(t *testing.T) {
	a := NewAnchorer(&StubGateway{Block: true}, 20*time.Millisecond, nil)
	start := time.Now()
	res := a.Anchor(context.Background(), PolicyTx{})
	assert.Nil(t, res.Hash())
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded), "got %v", res.Err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnchorer_Disabled(t *testing.T) {
	var a *Anchorer
	assert.ErrorIs(t, a.Anchor(context.Background(), PolicyTx{}).Err, ErrDisabled)
	assert.ErrorIs(t, NewAnchorer(nil, 0, nil).Anchor(context.Background(), PolicyTx{}).Err, ErrDisabled)
}

type fakeEVM struct {
	mu   sync.Mutex
	sent []*types.Transaction
}

func (f *fakeEVM) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}
func (f *fakeEVM) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }
func (f *fakeEVM) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 90000, nil
}
func (f *fakeEVM) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

func TestEVM_CreatePolicy(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := common.Bytes2Hex(crypto.FromECDSA(key))
	backend := &fakeEVM{}
	contract := "0x1000000000000000000000000000000000000001"
	gw, err := NewEVM(backend, contract, 31337, "")
	require.NoError(t, err)

	beneficiary := "0x2000000000000000000000000000000000000002"
	hash, err := gw.CreatePolicy(context.Background(), PolicyTx{
		Beneficiary: beneficiary, Coverage: big.NewInt(1000), SigningKey: "0x" + keyHex,
	})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, common.HexToAddress(contract), *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	args, err := gw.abi.Methods["createPolicy"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(beneficiary), args[0])
	assert.Equal(t, 0, big.NewInt(1000).Cmp(args[1].(*big.Int)))
}

func TestEVM_Rejects(t *testing.T) {
	gw, err := NewEVM(&fakeEVM{}, "0x1000000000000000000000000000000000000001", 1, "")
	require.NoError(t, err)
	_, err = gw.CreatePolicy(context.Background(), PolicyTx{Beneficiary: "nope", Coverage: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrNoBeneficiary)
	_, err = gw.CreatePolicy(context.Background(), PolicyTx{
		Beneficiary: "0x2000000000000000000000000000000000000002", Coverage: big.NewInt(1),
	})
	assert.Error(t, err, "no signing key")

	_, err = NewEVM(&fakeEVM{}, "not-an-address", 1, "")
	assert.Error(t, err)
}

type fakeSubmitter struct {
	name string
	args []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, name string, args ...string) (string, error) {
	f.name, f.args = name, args
	return "fabric-tx-1", nil
}

func TestFabric_CreatePolicy(t *testing.T) {
	sub := &fakeSubmitter{}
	gw := NewFabric(sub)
	h, err := gw.CreatePolicy(context.Background(), PolicyTx{PolicyID: "req-1", Beneficiary: "0xabc", Coverage: big.NewInt(500)})
	require.NoError(t, err)
	assert.Equal(t, "fabric-tx-1", h)
	assert.Equal(t, "CreatePolicy", sub.name)
	assert.Equal(t, []string{"req-1", "0xabc", "500"}, sub.args)
	assert.NoError(t, gw.Close())
}

func TestLedgerGateway_CreatePolicy(t *testing.T) {
	l := ledger.NewLedger(ledger.NewLocalStore())
	gw := NewLedger(l)
	h, err := gw.CreatePolicy(context.Background(), PolicyTx{PolicyID: "req-1", Beneficiary: "0xabc", Coverage: big.NewInt(5)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "0x"))
	assert.Len(t, h, 66)

	_, err = gw.CreatePolicy(context.Background(), PolicyTx{})
	assert.ErrorIs(t, err, ErrNoBeneficiary)
}
