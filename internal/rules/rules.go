// Package rules 核保规则文件格式与加载。
package rules

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"
)

// Scope 规则适用的操作。
type Scope string

const (
	ScopeRequest  Scope = "request"  // 投保申请提交
	ScopeClaim    Scope = "claim"    // 理赔提交
	ScopeDecision Scope = "decision" // 审批/拒绝/支付
)

// Rule 单条核保规则；未设置的条件不参与判断。
type Rule struct {
	ID      string `yaml:"id"`
	Applies Scope  `yaml:"applies_to"`
	// MaxAmount 金额上限（wei，十进制字符串）。
	MaxAmount string `yaml:"max_amount,omitempty"`
	// TreatmentAbove 金额超过该值时要求附带诊疗凭证。
	TreatmentAbove string `yaml:"require_treatment_vc_above,omitempty"`
	// AllowedActors 允许做出决定的保险方 DID / 地址；空表示任意。
	AllowedActors []string `yaml:"allowed_actors,omitempty"`
	Reason        string   `yaml:"reason,omitempty"`

	maxAmount      *big.Int
	treatmentAbove *big.Int
}

// RulesFile 规则文件根结构。
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules 从 path 加载 YAML 规则文件；若 path 为空或文件不存在则返回空列表。
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rules read: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("rules unmarshal: %w", err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].compile(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

func (r *Rule) compile() error {
	switch r.Applies {
	case ScopeRequest, ScopeClaim, ScopeDecision:
	default:
		return fmt.Errorf("rules: rule %q: applies_to %q is not one of request, claim, decision", r.ID, r.Applies)
	}
	var err error
	if r.maxAmount, err = parseAmount(r.ID, "max_amount", r.MaxAmount); err != nil {
		return err
	}
	if r.treatmentAbove, err = parseAmount(r.ID, "require_treatment_vc_above", r.TreatmentAbove); err != nil {
		return err
	}
	return nil
}

func parseAmount(id, field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("rules: rule %q: %s %q is not a non-negative integer", id, field, s)
	}
	return n, nil
}

// Violation 返回 subject 违反本规则的原因；空串表示通过。
func (r *Rule) Violation(s *Subject) string {
	if r.Applies != s.Scope {
		return ""
	}
	if r.maxAmount != nil && s.Amount != nil && s.Amount.Cmp(r.maxAmount) > 0 {
		return r.reasonOr(fmt.Sprintf("amount %s exceeds limit %s", s.Amount, r.maxAmount))
	}
	if r.treatmentAbove != nil && s.Amount != nil && s.Amount.Cmp(r.treatmentAbove) > 0 && !s.HasTreatmentCredential {
		return r.reasonOr(fmt.Sprintf("treatment credential required above %s", r.treatmentAbove))
	}
	if len(r.AllowedActors) > 0 && !containsFold(r.AllowedActors, s.Actor) {
		return r.reasonOr(fmt.Sprintf("actor %q is not allowed", s.Actor))
	}
	return ""
}

func (r *Rule) reasonOr(def string) string {
	if r.Reason != "" {
		return r.Reason
	}
	return def
}
