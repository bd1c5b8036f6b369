package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"medpolicy/internal/content"
	"medpolicy/pkg/ledger"
)

// DIDMethod 本节点签发的 DID 方法名。
const DIDMethod = "medpolicy"

type vcClaims struct {
	VC *Credential `json:"vc"`
	jwt.RegisteredClaims
}

// Local 在本进程内完成 DID 与 VC 操作的身份网关。
type Local struct {
	ledger  ledger.Ledger
	keys    Keystore
	content content.Store
	now     func() time.Time
}

// NewLocal 创建身份网关。
func NewLocal(l ledger.Ledger, keys Keystore, cs content.Store) *Local {
	return &Local{ledger: l, keys: keys, content: cs, now: time.Now}
}

var _ Gateway = (*Local)(nil)

func (g *Local) CreateDID(ctx context.Context, controller string) (*ledger.DIDDocument, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	fp := sha256.Sum256(pub)
	did := "did:" + DIDMethod + ":" + hex.EncodeToString(fp[:16])
	keyID := did + "#key-1"
	doc := &ledger.DIDDocument{
		Context:    []string{didContext},
		ID:         did,
		Controller: controller,
		VerificationMethod: []ledger.VerificationMethod{{
			ID:           keyID,
			Type:         keyType,
			Controller:   did,
			PublicKeyHex: hex.EncodeToString(pub),
		}},
		Authentication: []string{keyID},
		Status:         ledger.DIDStatusActive,
	}
	// 先存私钥再登记：登记失败时留下的孤立私钥不会被引用。
	if err := g.keys.Put(did, priv); err != nil {
		return nil, fmt.Errorf("identity: store key: %w", err)
	}
	if _, err := g.ledger.PutDID(ctx, doc); err != nil {
		return nil, fmt.Errorf("identity: register %s: %w", did, err)
	}
	return doc, nil
}

func (g *Local) ResolveDID(ctx context.Context, did string) (*ledger.DIDDocument, error) {
	doc, err := g.ledger.GetDID(ctx, did)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrDIDNotFound
	}
	return doc, err
}

func (g *Local) DIDByWallet(ctx context.Context, address string) (*ledger.DIDDocument, error) {
	doc, err := g.ledger.FindDIDByController(ctx, address)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrDIDNotFound
	}
	return doc, err
}

func (g *Local) Issue(ctx context.Context, issuerDID string, cred *Credential) (*Issued, error) {
	if cred == nil || cred.SubjectID() == "" {
		return nil, errors.New("identity: credential subject id is required")
	}
	priv, err := g.keys.Get(issuerDID)
	if errors.Is(err, errNoKey) {
		return nil, ErrUnknownIssuer
	}
	if err != nil {
		return nil, fmt.Errorf("identity: load key %s: %w", issuerDID, err)
	}
	now := g.now().UTC().Truncate(time.Second)
	vc := *cred
	if len(vc.Context) == 0 {
		vc.Context = []string{CredentialContext}
	}
	if len(vc.Type) == 0 {
		vc.Type = []string{"VerifiableCredential"}
	}
	vc.Issuer = issuerDID
	vc.IssuanceDate = now
	vc.Proof = nil

	claims := vcClaims{
		VC: &vc,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "urn:uuid:" + uuid.New().String(),
			Issuer:    issuerDID,
			Subject:   vc.SubjectID(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if vc.ExpirationDate != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*vc.ExpirationDate)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = issuerDID + "#key-1"
	signed, err := tok.SignedString(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	id, err := g.content.Put(ctx, []byte(signed))
	if err != nil {
		return nil, fmt.Errorf("identity: store credential: %w", err)
	}
	out := vc
	out.Proof = &Proof{Type: proofType, JWT: signed}
	return &Issued{VC: &out, JWT: signed, CID: id}, nil
}

func (g *Local) Verify(ctx context.Context, token string) (*Verification, error) {
	token = strings.TrimSpace(token)
	if _, _, err := jwt.NewParser().ParseUnverified(token, &vcClaims{}); err != nil {
		return nil, ErrMalformed
	}
	claims := &vcClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.publicKey(ctx, claims.Issuer)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(g.now),
	)
	res := &Verification{Issuer: claims.Issuer, Subject: claims.Subject, Credential: claims.VC}
	switch {
	case err == nil:
		res.Verified = true
		res.Reason = "signature valid"
	case errors.Is(err, jwt.ErrTokenExpired):
		res.Reason = "credential expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		res.Reason = "signature invalid"
	default:
		res.Reason = err.Error()
	}
	return res, nil
}

func (g *Local) publicKey(ctx context.Context, did string) (ed25519.PublicKey, error) {
	if did == "" {
		return nil, errors.New("credential has no issuer")
	}
	doc, err := g.ResolveDID(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("resolve issuer %s: %w", did, err)
	}
	if doc.Status != ledger.DIDStatusActive {
		return nil, fmt.Errorf("issuer %s is %s", did, doc.Status)
	}
	for _, vm := range doc.VerificationMethod {
		if vm.Type != keyType {
			continue
		}
		b, err := hex.DecodeString(vm.PublicKeyHex)
		if err == nil && len(b) == ed25519.PublicKeySize {
			return ed25519.PublicKey(b), nil
		}
	}
	return nil, fmt.Errorf("issuer %s has no usable key", did)
}
