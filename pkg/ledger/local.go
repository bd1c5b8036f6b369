package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalStore 内存 + 可选目录持久化的 Backend（dids/、batches/、proofs/）。
// 启动时把 dids/ 全部载入内存，便于按控制方钱包反查。
type LocalStore struct {
	mu       sync.RWMutex
	didDocs  map[string]*DIDDocument
	batches  map[string]*BatchRecord
	proofs   map[string]*MerkleProof
	basePath string
}

// NewLocalStore 创建仅内存的 LocalStore。
func NewLocalStore() *LocalStore {
	return NewLocalStoreWithPath("")
}

func (s *LocalStore) loadDIDs() {
	matches, _ := filepath.Glob(filepath.Join(s.basePath, "dids", "*.json"))
	for _, p := range matches {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var doc DIDDocument
		if json.Unmarshal(b, &doc) == nil && doc.ID != "" {
			s.didDocs[doc.ID] = &doc
		}
	}
}

// PutDID 写入内存，basePath 非空时同时写 dids/<did>.json。
func (s *LocalStore) PutDID(ctx context.Context, doc *DIDDocument) error {
	if doc == nil {
		return errors.New("ledger: nil DIDDocument")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.basePath != "" {
		if err := writeJSON(s.didPath(doc.ID), &cp); err != nil {
			return err
		}
	}
	s.didDocs[doc.ID] = &cp
	return nil
}

func (s *LocalStore) GetDID(ctx context.Context, did string) (*DIDDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.didDocs[did]; ok {
		cp := *doc
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *LocalStore) ListDIDs(ctx context.Context) ([]*DIDDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DIDDocument, 0, len(s.didDocs))
	for _, d := range s.didDocs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// AppendBatch 构建 Merkle 树，持久化批次与每个条目的验真路径。同一 batchID 只能写一次。
func (s *LocalStore) AppendBatch(ctx context.Context, batch *BatchRecord, leaves []Leaf) (string, error) {
	if batch == nil {
		return "", errors.New("ledger: nil BatchRecord")
	}
	if len(leaves) == 0 {
		return "", ErrEmptyBatch
	}
	root, paths := BuildMerkleTree(leaves)
	batch.MerkleRoot = root
	batch.Size = len(leaves)
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.BatchID]; ok {
		return "", ErrBatchExists
	}
	proofs := make([]*MerkleProof, len(leaves))
	for i := range leaves {
		proofs[i] = &MerkleProof{
			EntryID:    leaves[i].EntryID,
			BatchID:    batch.BatchID,
			MerkleRoot: root,
			LeafHash:   paths[i].LeafHash,
			Siblings:   paths[i].Siblings,
		}
	}
	if s.basePath != "" {
		if err := writeJSON(s.batchPath(batch.BatchID), batch); err != nil {
			return "", err
		}
		for _, p := range proofs {
			if err := writeJSON(s.proofPath(p.EntryID), p); err != nil {
				return "", err
			}
		}
	}
	cp := *batch
	s.batches[batch.BatchID] = &cp
	for _, p := range proofs {
		s.proofs[p.EntryID] = p
	}
	return root, nil
}

func (s *LocalStore) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	s.mu.RLock()
	b, ok := s.batches[batchID]
	s.mu.RUnlock()
	if ok {
		cp := *b
		return &cp, nil
	}
	if s.basePath == "" {
		return nil, ErrNotFound
	}
	var rec BatchRecord
	if err := readJSON(s.batchPath(batchID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetMerkleProof 先查内存，未命中且 basePath 非空时读文件（重启后的旧批次）。
func (s *LocalStore) GetMerkleProof(ctx context.Context, entryID string) (*MerkleProof, error) {
	s.mu.RLock()
	p, ok := s.proofs[entryID]
	s.mu.RUnlock()
	if ok {
		cp := *p
		return &cp, nil
	}
	if s.basePath == "" {
		return nil, ErrNotFound
	}
	var proof MerkleProof
	if err := readJSON(s.proofPath(entryID), &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// Ping basePath 非空时检查目录可写。
func (s *LocalStore) Ping(ctx context.Context) error {
	if s.basePath == "" {
		return nil
	}
	f, err := os.CreateTemp(s.basePath, ".ping-*")
	if err != nil {
		return fmt.Errorf("ledger: storage not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *LocalStore) Close() error {
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("ledger: invalid file %s: %w", filepath.Base(path), err)
	}
	return nil
}
