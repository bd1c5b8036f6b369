// Package ledger 提供许可账本抽象：DID 注册表与存证批次（Merkle 根）。
// 身份服务把 DID 文档写入此处；审计与链上锚定把事件哈希按批次写入此处。
package ledger

import "time"

// DIDStatus 表示 DID 文档状态。
type DIDStatus string

const (
	DIDStatusActive  DIDStatus = "active"
	DIDStatusRevoked DIDStatus = "revoked"
)

// VerificationMethod DID 文档中的公钥条目。
type VerificationMethod struct {
	ID           string `json:"id"`
	Type         string `json:"type"` // Ed25519VerificationKey2020
	Controller   string `json:"controller"`
	PublicKeyHex string `json:"publicKeyHex"`
}

// DIDDocument 链上 DID 文档，仅含公钥与控制方钱包，无个人数据。
type DIDDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`                   // did:medpolicy:<fingerprint>
	Controller         string               `json:"controller,omitempty"` // 绑定的钱包地址（小写）
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	Status             DIDStatus            `json:"status"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// BatchRecord 存证批次元数据。
type BatchRecord struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"`
	Size       int       `json:"size"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProofStep Merkle 路径上的一个兄弟节点；Left 表示兄弟在左侧。
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// MerkleProof 给定条目 id 返回所在批次的根与路径，客户端可用 VerifyProof 重算比对。
type MerkleProof struct {
	EntryID    string      `json:"entry_id"`
	BatchID    string      `json:"batch_id"`
	MerkleRoot string      `json:"merkle_root"`
	LeafHash   string      `json:"leaf_hash"`
	Siblings   []ProofStep `json:"siblings"` // 由叶到根
}

// Leaf 批次中的一条叶节点：条目 id 与其哈希。
type Leaf struct {
	EntryID string
	Hash    string
}
