// Package identity 身份网关：DID 创建与解析、可验证凭证（VC）签发与校验。
// DID 文档登记在 ledger；私钥保存在 Keystore；签发的 VC 以 JWT（EdDSA）形式写入内容存储。
package identity

import (
	"context"
	"errors"
	"time"

	"medpolicy/pkg/ledger"
)

var (
	// ErrUnknownIssuer 签发方 DID 的私钥不在本节点的 keystore 中。
	ErrUnknownIssuer = errors.New("identity: issuer key not held by this node")
	// ErrMalformed 载荷不是 compact JWS，无法校验。
	ErrMalformed = errors.New("identity: payload is not a verifiable envelope")
	// ErrDIDNotFound DID 无法解析。
	ErrDIDNotFound = errors.New("identity: DID not found")
)

const (
	CredentialContext = "https://www.w3.org/2018/credentials/v1"
	didContext        = "https://www.w3.org/ns/did/v1"
	keyType           = "Ed25519VerificationKey2020"
	proofType         = "JwtProof2020"
)

// Credential W3C VC 数据模型的最小子集。
type Credential struct {
	Context           []string       `json:"@context"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      time.Time      `json:"issuanceDate"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`
}

// Proof 外部证明：JWT 本体。
type Proof struct {
	Type string `json:"type"`
	JWT  string `json:"jwt"`
}

// SubjectID 返回 credentialSubject.id。
func (c *Credential) SubjectID() string {
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

// Issued 签发结果：带 proof 的凭证、JWT 与其在内容存储中的 CID。
type Issued struct {
	VC  *Credential `json:"vc"`
	JWT string      `json:"jwt"`
	CID string      `json:"cid"`
}

// Verification 校验结果。签名或有效期不通过时 Verified=false 并给出 Reason，不返回错误。
type Verification struct {
	Verified   bool        `json:"verified"`
	Reason     string      `json:"reason,omitempty"`
	Issuer     string      `json:"issuer,omitempty"`
	Subject    string      `json:"subject,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
}

// Gateway 身份网关接口。
type Gateway interface {
	// CreateDID 生成密钥对并登记 DID 文档；controller 为可选的绑定钱包地址。
	CreateDID(ctx context.Context, controller string) (*ledger.DIDDocument, error)
	ResolveDID(ctx context.Context, did string) (*ledger.DIDDocument, error)
	DIDByWallet(ctx context.Context, address string) (*ledger.DIDDocument, error)
	// Issue 以 issuerDID 的私钥签发 cred（Issuer、IssuanceDate 由网关填写）。
	Issue(ctx context.Context, issuerDID string, cred *Credential) (*Issued, error)
	// Verify 校验 compact JWS 形式的凭证；载荷不是 JWS 时返回 ErrMalformed。
	Verify(ctx context.Context, token string) (*Verification, error)
}
