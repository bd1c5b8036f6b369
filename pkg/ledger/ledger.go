package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("ledger: not found")
	ErrEmptyBatch  = errors.New("ledger: empty batch")
	ErrBatchExists = errors.New("ledger: batch already exists")
)

// Ledger DID 注册与批次存证的读写接口。
type Ledger interface {
	PutDID(ctx context.Context, doc *DIDDocument) (version string, err error)
	GetDID(ctx context.Context, did string) (*DIDDocument, error)
	// FindDIDByController 按钱包地址（大小写不敏感）查找最近注册的 DID。
	FindDIDByController(ctx context.Context, address string) (*DIDDocument, error)

	// AppendBatch 写入一批条目哈希（entryID -> hash），构建 Merkle 树，返回根。
	AppendBatch(ctx context.Context, batchID string, entries map[string]string) (merkleRoot string, err error)
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	GetMerkleProof(ctx context.Context, entryID string) (*MerkleProof, error)

	Healthy(ctx context.Context) error
}

// Backend 可插拔存储后端。
type Backend interface {
	PutDID(ctx context.Context, doc *DIDDocument) error
	GetDID(ctx context.Context, did string) (*DIDDocument, error)
	ListDIDs(ctx context.Context) ([]*DIDDocument, error)

	AppendBatch(ctx context.Context, batch *BatchRecord, leaves []Leaf) (merkleRoot string, err error)
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	GetMerkleProof(ctx context.Context, entryID string) (*MerkleProof, error)

	Ping(ctx context.Context) error
	Close() error
}

// NewLedger 基于给定 Backend 构造 Ledger。
func NewLedger(be Backend) Ledger {
	return &ledgerImpl{backend: be}
}

type ledgerImpl struct {
	backend Backend
}

func (l *ledgerImpl) PutDID(ctx context.Context, doc *DIDDocument) (string, error) {
	if doc == nil || doc.ID == "" {
		return "", errors.New("ledger: DID document without id")
	}
	doc.Controller = strings.ToLower(doc.Controller)
	if err := l.backend.PutDID(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID + "@" + doc.UpdatedAt.Format("20060102150405"), nil
}

func (l *ledgerImpl) GetDID(ctx context.Context, did string) (*DIDDocument, error) {
	return l.backend.GetDID(ctx, did)
}

func (l *ledgerImpl) FindDIDByController(ctx context.Context, address string) (*DIDDocument, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, ErrNotFound
	}
	docs, err := l.backend.ListDIDs(ctx)
	if err != nil {
		return nil, err
	}
	var found *DIDDocument
	for _, d := range docs {
		if d.Controller != address || d.Status != DIDStatusActive {
			continue
		}
		if found == nil || d.CreatedAt.After(found.CreatedAt) {
			found = d
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (l *ledgerImpl) AppendBatch(ctx context.Context, batchID string, entries map[string]string) (string, error) {
	if len(entries) == 0 {
		return "", ErrEmptyBatch
	}
	leaves := make([]Leaf, 0, len(entries))
	for id, h := range entries {
		leaves = append(leaves, Leaf{EntryID: id, Hash: h})
	}
	// map 无序；按 id 排序使同一批次的根可复现。
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].EntryID < leaves[j].EntryID })
	root, err := l.backend.AppendBatch(ctx, &BatchRecord{BatchID: batchID}, leaves)
	if err != nil {
		return "", fmt.Errorf("ledger: append batch %s: %w", batchID, err)
	}
	return root, nil
}

func (l *ledgerImpl) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	return l.backend.GetBatch(ctx, batchID)
}

func (l *ledgerImpl) GetMerkleProof(ctx context.Context, entryID string) (*MerkleProof, error) {
	return l.backend.GetMerkleProof(ctx, entryID)
}

func (l *ledgerImpl) Healthy(ctx context.Context) error {
	return l.backend.Ping(ctx)
}
