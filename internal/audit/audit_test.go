package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medpolicy/internal/models"
	"medpolicy/pkg/ledger"
)

func TestJSONLStore_AppendAndQueryBySubject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	store, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("NewJSONLStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	evs := []*models.Evidence{
		{SubjectID: "req-1", Kind: "policy_request", Action: "submit", ToStatus: "pending", Timestamp: now},
		{SubjectID: "req-1", Kind: "policy_request", Action: "reject", FromStatus: "pending", ToStatus: "rejected", Reason: "incomplete docs"},
		{SubjectID: "claim-1", Kind: "claim", Action: "submit", ToStatus: "Submitted"},
	}
	for i, e := range evs {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if evs[1].ID == "" || evs[1].Timestamp.IsZero() {
		t.Errorf("Append did not stamp id/timestamp: %+v", evs[1])
	}

	list1, err := store.QueryBySubject(ctx, "req-1")
	if err != nil {
		t.Fatalf("QueryBySubject req-1: %v", err)
	}
	if len(list1) != 2 || list1[1].Reason != "incomplete docs" {
		t.Errorf("req-1: got %+v", list1)
	}
	list0, err := store.QueryBySubject(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("QueryBySubject nonexistent: %v", err)
	}
	if len(list0) != 0 {
		t.Errorf("nonexistent: expected 0, got %d", len(list0))
	}
}

func TestJSONLStore_ReopenReplaysAndSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()
	store, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, action := range []string{"submit", "approve", "pay"} {
		if err := store.Append(ctx, &models.Evidence{SubjectID: "claim-2", Kind: "claim", Action: action}); err != nil {
			t.Fatalf("Append %s: %v", action, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Append(ctx, &models.Evidence{SubjectID: "claim-2"}); err == nil {
		t.Error("Append after Close should fail")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n{\"kind\":\"claim\"}\n")
	f.Close()

	reopened, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Skipped(); got != 2 {
		t.Errorf("Skipped = %d, want 2", got)
	}
	list, _ := reopened.QueryBySubject(ctx, "claim-2")
	if len(list) != 3 || list[0].Action != "submit" || list[2].Action != "pay" {
		t.Fatalf("replayed = %+v", list)
	}
	list[0].Action = "mutated"
	again, _ := reopened.QueryBySubject(ctx, "claim-2")
	if again[0].Action != "submit" {
		t.Error("QueryBySubject must return copies")
	}
}

func TestJSONLStore_AppendNil(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "a.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Append(context.Background(), nil); err != nil {
		t.Errorf("Append(nil) should not error: %v", err)
	}
}

func TestLedgerBridge_FlushesOnStop(t *testing.T) {
	l := ledger.NewLedger(ledger.NewLocalStore())
	inner := NewMemoryStore()
	b := NewLedgerBridge(inner, l, 100, time.Hour, nil)
	b.Start()
	ctx := context.Background()

	e := &models.Evidence{SubjectID: "claim-9", Kind: "claim", Action: "approve"}
	if err := b.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	b.Stop()
	b.Stop()

	got, _ := b.QueryBySubject(ctx, "claim-9")
	if len(got) != 1 {
		t.Fatalf("inner store: got %d records", len(got))
	}
	proof, err := l.GetMerkleProof(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetMerkleProof: %v", err)
	}
	if !ledger.VerifyProof(proof) {
		t.Error("anchored proof does not verify")
	}
}

func TestLedgerBridge_FlushesAtBatchSize(t *testing.T) {
	l := ledger.NewLedger(ledger.NewLocalStore())
	b := NewLedgerBridge(NewMemoryStore(), l, 2, time.Hour, nil)
	b.Start()
	defer b.Stop()
	ctx := context.Background()

	e1 := &models.Evidence{SubjectID: "s", Action: "a"}
	e2 := &models.Evidence{SubjectID: "s", Action: "b"}
	_ = b.Append(ctx, e1)
	_ = b.Append(ctx, e2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := l.GetMerkleProof(ctx, e2.ID); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("batch was not flushed after reaching batch size")
}
