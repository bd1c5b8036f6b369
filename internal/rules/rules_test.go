package rules

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleRules = `
rules:
  - id: max-coverage
    applies_to: request
    max_amount: "1000"
  - id: treatment-required
    applies_to: claim
    require_treatment_vc_above: "100"
    reason: treatment credential required for large claims
  - id: insurers
    applies_to: decision
    allowed_actors: ["did:medpolicy:insurer"]
`

func TestLoadRules_EmptyAndMissing(t *testing.T) {
	for _, p := range []string{"", filepath.Join(t.TempDir(), "nope.yaml")} {
		rules, err := LoadRules(p)
		if err != nil || len(rules) != 0 {
			t.Errorf("LoadRules(%q) = %d rules, %v", p, len(rules), err)
		}
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	cases := map[string]string{
		"scope":  "rules:\n  - id: x\n    applies_to: payment\n",
		"amount": "rules:\n  - id: x\n    applies_to: claim\n    max_amount: \"-1\"\n",
		"yaml":   "rules: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadRules(writeRules(t, content)); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestEngineImpl_Evaluate(t *testing.T) {
	eng, err := NewEngineImpl(writeRules(t, sampleRules))
	if err != nil {
		t.Fatalf("NewEngineImpl: %v", err)
	}
	ctx := context.Background()
	tests := []struct {
		name    string
		s       Subject
		allowed bool
		rule    string
	}{
		{"coverage within limit", Subject{Scope: ScopeRequest, Amount: big.NewInt(1000)}, true, "default"},
		{"coverage over limit", Subject{Scope: ScopeRequest, Amount: big.NewInt(1001)}, false, "max-coverage"},
		{"small claim without vc", Subject{Scope: ScopeClaim, Amount: big.NewInt(100)}, true, "default"},
		{"large claim without vc", Subject{Scope: ScopeClaim, Amount: big.NewInt(101)}, false, "treatment-required"},
		{"large claim with vc", Subject{Scope: ScopeClaim, Amount: big.NewInt(101), HasTreatmentCredential: true}, true, "default"},
		{"allowed insurer", Subject{Scope: ScopeDecision, Actor: "DID:medpolicy:insurer"}, true, "default"},
		{"other insurer", Subject{Scope: ScopeDecision, Actor: "did:medpolicy:other"}, false, "insurers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := eng.Evaluate(ctx, &tt.s)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Allowed != tt.allowed || d.RuleID != tt.rule {
				t.Errorf("got allowed=%v rule=%q reason=%q", d.Allowed, d.RuleID, d.Reason)
			}
		})
	}
}

func TestEngineImpl_Reload(t *testing.T) {
	path := writeRules(t, sampleRules)
	eng, err := NewEngineImpl(path)
	if err != nil {
		t.Fatal(err)
	}
	if eng.Len() != 3 {
		t.Fatalf("Len = %d", eng.Len())
	}
	if err := os.WriteFile(path, []byte("rules: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(); err == nil {
		t.Fatal("Reload of broken file: want error")
	}
	if eng.Len() != 3 {
		t.Errorf("rules lost after failed reload: %d", eng.Len())
	}
	if err := os.WriteFile(path, []byte("rules: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(); err != nil || eng.Len() != 0 {
		t.Errorf("Reload: len=%d err=%v", eng.Len(), err)
	}
}
