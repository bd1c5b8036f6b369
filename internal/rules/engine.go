package rules

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// Subject 待评估的操作。
type Subject struct {
	Scope                  Scope
	Amount                 *big.Int
	Actor                  string
	HasTreatmentCredential bool
}

// Decision 评估结果；Allowed 为 false 时 RuleID/Reason 指明命中规则。
type Decision struct {
	Allowed bool
	RuleID  string
	Reason  string
}

// Engine 核保规则引擎。
type Engine interface {
	Evaluate(ctx context.Context, s *Subject) (*Decision, error)
}

// EngineImpl 从 YAML 规则文件加载，按顺序检查，第一条违反即拒绝；无规则时放行。
type EngineImpl struct {
	mu    sync.RWMutex
	rules []Rule
	path  string
}

// NewEngineImpl 根据规则文件路径创建引擎；path 为空时无规则。
func NewEngineImpl(rulesPath string) (*EngineImpl, error) {
	rules, err := LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	return &EngineImpl{path: rulesPath, rules: rules}, nil
}

// Reload 重新加载规则文件（SIGHUP 热加载）；失败时保留旧规则。
func (e *EngineImpl) Reload() error {
	rules, err := LoadRules(e.path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

// Path 规则文件路径。
func (e *EngineImpl) Path() string { return e.path }

// Len 当前生效规则数。
func (e *EngineImpl) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate 实现 Engine。
func (e *EngineImpl) Evaluate(ctx context.Context, s *Subject) (*Decision, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for i := range rules {
		r := &rules[i]
		if reason := r.Violation(s); reason != "" {
			id := r.ID
			if id == "" {
				id = "rule_" + string(r.Applies)
			}
			return &Decision{Allowed: false, RuleID: id, Reason: reason}, nil
		}
	}
	return &Decision{Allowed: true, RuleID: "default", Reason: "no rule violated"}, nil
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if x == "*" || strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

var _ Engine = (*EngineImpl)(nil)
