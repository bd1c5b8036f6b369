package chain

import (
	"context"
	"errors"
	"sync"
)

// ErrStubFailure StubGateway 注入的失败。
var ErrStubFailure = errors.New("chain: stub failure")

// StubGateway 测试用网关：可返回固定哈希、失败或阻塞直到 ctx 结束。
type StubGateway struct {
	mu    sync.Mutex
	Hash  string
	Fail  bool
	Block bool
	Calls []PolicyTx
}

func (s *StubGateway) CreatePolicy(ctx context.Context, tx PolicyTx) (string, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, tx)
	fail, block, hash := s.Fail, s.Block, s.Hash
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail {
		return "", ErrStubFailure
	}
	if hash == "" {
		hash = "0xstub"
	}
	return hash, nil
}

// CallCount 返回调用次数。
func (s *StubGateway) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
