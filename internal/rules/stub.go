package rules

import "context"

// AllowAll 占位实现：恒放行。
type AllowAll struct{}

func (AllowAll) Evaluate(ctx context.Context, s *Subject) (*Decision, error) {
	return &Decision{Allowed: true, RuleID: "stub", Reason: "stub allow"}, nil
}
