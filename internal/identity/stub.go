package identity

import (
	"context"
	"errors"
	"sync"

	"medpolicy/pkg/ledger"
)

// ErrStubFailure Stub 在 Fail 为 true 时返回的错误。
var ErrStubFailure = errors.New("identity: stub failure")

// Stub 测试用网关：包装 Local，并可注入失败与计数。
type Stub struct {
	*Local
	mu          sync.Mutex
	Fail        bool
	IssueCalls  int
	VerifyCalls int
}

var _ Gateway = (*Stub)(nil)

func (s *Stub) Issue(ctx context.Context, issuerDID string, cred *Credential) (*Issued, error) {
	s.mu.Lock()
	s.IssueCalls++
	fail := s.Fail
	s.mu.Unlock()
	if fail {
		return nil, ErrStubFailure
	}
	return s.Local.Issue(ctx, issuerDID, cred)
}

func (s *Stub) Verify(ctx context.Context, token string) (*Verification, error) {
	s.mu.Lock()
	s.VerifyCalls++
	fail := s.Fail
	s.mu.Unlock()
	if fail {
		return nil, ErrStubFailure
	}
	return s.Local.Verify(ctx, token)
}

func (s *Stub) CreateDID(ctx context.Context, controller string) (*ledger.DIDDocument, error) {
	if s.fail() {
		return nil, ErrStubFailure
	}
	return s.Local.CreateDID(ctx, controller)
}

func (s *Stub) fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail
}
