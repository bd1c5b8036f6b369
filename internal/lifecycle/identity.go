package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/chain"
	"medpolicy/internal/content"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/request"
	"medpolicy/internal/store"
	"medpolicy/pkg/ledger"
)

// IssueInput 通用凭证签发。Data 展开进 credentialSubject。
type IssueInput struct {
	IssuerDID  string
	SubjectDID string
	Role       string
	Data       map[string]any
	Anchor     bool
	SigningKey string
}

// IssueResult 签发结果；Request 仅在签发走投保审批时非空。
type IssueResult struct {
	VC      *identity.Credential
	JWT     string
	CID     string
	Chain   chain.Result
	Request *models.PolicyRequest
}

// CreateIdentity 创建 DID；controller 为可选钱包地址。
func (e *Engine) CreateIdentity(ctx context.Context, controller string) (*ledger.DIDDocument, error) {
	if addr, ok := chain.NormalizeAddress(controller); ok {
		controller = addr
	}
	doc, err := e.identity.CreateDID(ctx, strings.TrimSpace(controller))
	if err != nil {
		return nil, models.Upstream("identity creation failed", err)
	}
	e.log.WithField("did", doc.ID).Info("DID 已创建")
	return doc, nil
}

// DIDByWallet 按钱包地址查 DID；未登记时返回 nil, nil。
func (e *Engine) DIDByWallet(ctx context.Context, address string) (*ledger.DIDDocument, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return nil, models.Invalid("address is required")
	}
	if norm, ok := chain.NormalizeAddress(addr); ok {
		addr = norm
	}
	doc, err := e.identity.DIDByWallet(ctx, addr)
	if errors.Is(err, identity.ErrDIDNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Upstream("identity lookup failed", err)
	}
	return doc, nil
}

// ResolveAndVerifyDID 解析 DID。解析失败体现为 Verified=false，只有缺少输入才返回错误。
func (e *Engine) ResolveAndVerifyDID(ctx context.Context, did string) (*models.DIDVerification, error) {
	did = strings.TrimSpace(did)
	if did == "" {
		return nil, models.Invalid("did is required")
	}
	doc, err := e.identity.ResolveDID(ctx, did)
	switch {
	case errors.Is(err, identity.ErrDIDNotFound):
		return &models.DIDVerification{Verified: false, Reason: "DID not found"}, nil
	case err != nil:
		e.log.WithError(err).WithField("did", did).Warn("DID 解析失败")
		return &models.DIDVerification{Verified: false, Reason: "DID resolution failed: " + err.Error()}, nil
	case doc.Status != ledger.DIDStatusActive:
		return &models.DIDVerification{Verified: false, Reason: "DID is " + string(doc.Status), Document: doc}, nil
	}
	return &models.DIDVerification{Verified: true, Reason: "DID document resolved", Document: doc}, nil
}

// IssueCredential 签发入口：data.requestId 指向投保申请时走审批签发，否则为通用签发。
func (e *Engine) IssueCredential(ctx context.Context, in *IssueInput) (*IssueResult, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	reqID := stringOf(in.Data["requestId"])
	if reqID == "" {
		return e.IssueGenericCredential(ctx, in)
	}
	if err := models.RequireFields("issuerDid", in.IssuerDID); err != nil {
		return nil, err
	}
	data := make(map[string]any, len(in.Data))
	for k, v := range in.Data {
		if k != "requestId" && k != "createOnChainPolicy" {
			data[k] = v
		}
	}
	res, err := e.ApproveAndIssue(ctx, &request.ApproveInput{
		RequestID:  reqID,
		IssuerDID:  in.IssuerDID,
		Data:       data,
		Anchor:     in.Anchor,
		SigningKey: in.SigningKey,
	})
	if err != nil {
		return nil, err
	}
	return &IssueResult{VC: res.Issued.VC, JWT: res.Issued.JWT, CID: res.Issued.CID, Chain: res.Chain, Request: res.Request}, nil
}

// IssueGenericCredential 以 {credentialSubject: {id, role, ...data}} 形式签发凭证。
func (e *Engine) IssueGenericCredential(ctx context.Context, in *IssueInput) (*IssueResult, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields("issuerDid", in.IssuerDID, "subjectDid", in.SubjectDID, "role", in.Role); err != nil {
		return nil, err
	}
	subject := make(map[string]any, len(in.Data)+2)
	for k, v := range in.Data {
		if k != "createOnChainPolicy" {
			subject[k] = v
		}
	}
	subject["id"] = in.SubjectDID
	subject["role"] = in.Role

	issued, err := e.identity.Issue(ctx, in.IssuerDID, &identity.Credential{
		Type:              []string{"VerifiableCredential", in.Role},
		CredentialSubject: subject,
	})
	if errors.Is(err, identity.ErrUnknownIssuer) {
		return nil, models.Invalid("issuer %s is not managed by this node", in.IssuerDID)
	}
	if err != nil {
		return nil, models.Upstream("credential issuance failed", err)
	}
	policyID := stringOf(in.Data["policyId"])
	e.indexCredential(ctx, issued, policyID, in.Role)
	e.record(ctx, models.Evidence{
		SubjectID: in.SubjectDID, Kind: "credential", Action: "issue",
		Actor: in.IssuerDID, CID: issued.CID,
	})
	res := &IssueResult{VC: issued.VC, JWT: issued.JWT, CID: issued.CID}
	if in.Anchor {
		res.Chain = e.anchorGeneric(ctx, in, policyID)
		ev := models.Evidence{SubjectID: in.SubjectDID, Kind: "chain", Action: "anchor", Actor: in.IssuerDID, TxHash: res.Chain.TxHash}
		if res.Chain.Err != nil {
			ev.Reason = res.Chain.Err.Error()
		}
		e.record(ctx, ev)
	}
	return res, nil
}

func (e *Engine) anchorGeneric(ctx context.Context, in *IssueInput, policyID string) chain.Result {
	beneficiary, ok := chain.ResolveBeneficiary(stringOf(in.Data["beneficiary"]), in.SubjectDID)
	if !ok {
		e.log.WithField("did", in.SubjectDID).Warn("无法解析受益人地址，跳过上链")
		return chain.Result{Err: chain.ErrNoBeneficiary}
	}
	coverage, err := models.ParseAmount("coverageAmount", stringOf(in.Data["coverageAmount"]))
	if err != nil {
		return chain.Result{Err: err}
	}
	if policyID == "" {
		policyID = in.SubjectDID
	}
	return e.anchor.Anchor(ctx, chain.PolicyTx{PolicyID: policyID, Beneficiary: beneficiary, Coverage: coverage, SigningKey: in.SigningKey})
}

func (e *Engine) indexCredential(ctx context.Context, issued *identity.Issued, policyID, role string) {
	if e.creds == nil {
		return
	}
	_, err := e.creds.Append(ctx, models.CredentialRecord{
		CID:        issued.CID,
		PolicyID:   policyID,
		IssuerDID:  issued.VC.Issuer,
		SubjectDID: issued.VC.SubjectID(),
		Role:       role,
		JWT:        issued.JWT,
		IssuedAt:   issued.VC.IssuanceDate,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		e.log.WithError(err).WithField("cid", issued.CID).Warn("凭证索引写入失败")
	}
}

// CredentialForPolicy 返回保单最近签发的凭证索引；没有时返回 nil, nil。
func (e *Engine) CredentialForPolicy(ctx context.Context, policyID string) (*models.CredentialRecord, error) {
	if strings.TrimSpace(policyID) == "" {
		return nil, models.Invalid("policyId is required")
	}
	if e.creds == nil {
		return nil, nil
	}
	all, err := e.creds.List(ctx)
	if err != nil {
		return nil, models.Upstream("credential index unavailable", err)
	}
	var hits []models.CredentialRecord
	for _, r := range all {
		if r.PolicyID == policyID {
			hits = append(hits, r)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].IssuedAt.After(hits[j].IssuedAt) })
	return &hits[0], nil
}

// UploadAttachment 写入内容存储并返回 CID。
func (e *Engine) UploadAttachment(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.Invalid("file payload is empty")
	}
	id, err := e.content.Put(ctx, data)
	if err != nil {
		return "", models.Upstream("content store unavailable", err)
	}
	e.log.WithFields(logrus.Fields{"cid": id, "bytes": len(data)}).Info("附件已上传")
	return id, nil
}

// Attachment 按 CID 读取内容。
func (e *Engine) Attachment(ctx context.Context, id string) ([]byte, error) {
	norm, err := content.Parse(id)
	if err != nil {
		return nil, models.Invalid("invalid content id %q", id)
	}
	data, err := e.content.Get(ctx, norm)
	if errors.Is(err, content.ErrNotFound) {
		return nil, models.NotFound("content %s not found", id)
	}
	if err != nil {
		return nil, models.Upstream("content store unavailable", err)
	}
	return data, nil
}

// stringOf 把 JSON 解码得到的字符串或数字转为字符串。
func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}
