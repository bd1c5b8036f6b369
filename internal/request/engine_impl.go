package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/chain"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/rules"
	"medpolicy/internal/store"
)

// policyValidity 未指定 validTill 时的保单有效期。
const policyValidity = 365 * 24 * time.Hour

// EngineImpl 基于 Store 的投保申请流程。
type EngineImpl struct {
	store    store.Store[models.PolicyRequest]
	creds    store.Store[models.CredentialRecord]
	identity identity.Gateway
	anchor   *chain.Anchorer
	rules    rules.Engine
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewEngineImpl 创建流程。creds 可为 nil（不维护凭证索引）；anchor 为 nil 时不上链；r 为 nil 时不做核保检查。
func NewEngineImpl(s store.Store[models.PolicyRequest], creds store.Store[models.CredentialRecord], id identity.Gateway, anchor *chain.Anchorer, r rules.Engine, log logrus.FieldLogger) *EngineImpl {
	if r == nil {
		r = rules.AllowAll{}
	}
	return &EngineImpl{
		store:    s,
		creds:    creds,
		identity: id,
		anchor:   anchor,
		rules:    r,
		log:      log.WithField("component", "request"),
		now:      time.Now,
	}
}

var _ Workflow = (*EngineImpl)(nil)

func (e *EngineImpl) Submit(ctx context.Context, in *SubmitInput) (*models.PolicyRequest, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields("patientDid", in.PatientDID, "patientAddress", in.PatientAddress, "coverageAmount", in.CoverageAmount); err != nil {
		return nil, err
	}
	coverage, err := models.ParseAmount("coverageAmount", in.CoverageAmount)
	if err != nil {
		return nil, err
	}
	if err := e.check(ctx, &rules.Subject{Scope: rules.ScopeRequest, Amount: coverage, Actor: in.PatientDID}); err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(in.PatientAddress)
	if norm, ok := chain.NormalizeAddress(addr); ok {
		addr = norm
	}
	rec, err := e.store.Append(ctx, models.PolicyRequest{
		PatientDID:     strings.TrimSpace(in.PatientDID),
		PatientAddress: addr,
		CoverageAmount: coverage.String(),
		Details:        in.Details,
	})
	if err != nil {
		return nil, models.Upstream("failed to save policy request", err)
	}
	e.log.WithFields(logrus.Fields{"request_id": rec.ID, "did": rec.PatientDID}).Info("投保申请已提交")
	return &rec, nil
}

func (e *EngineImpl) List(ctx context.Context) ([]models.PolicyRequest, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, models.Upstream("failed to load policy requests", err)
	}
	return list, nil
}

func (e *EngineImpl) Get(ctx context.Context, id string) (*models.PolicyRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.Invalid("requestId is required")
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	return &rec, nil
}

// Reject 拒绝待处理申请。insurerDID 可为空（rejectedBy 留空）；配置了 allowed_actors 时空值不放行。
func (e *EngineImpl) Reject(ctx context.Context, id, reason, insurerDID string) (*models.PolicyRequest, error) {
	insurerDID = strings.TrimSpace(insurerDID)
	if err := models.RequireFields("requestId", id, "reason", reason); err != nil {
		return nil, err
	}
	if err := e.check(ctx, &rules.Subject{Scope: rules.ScopeDecision, Actor: insurerDID}); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	rec, err := e.store.Update(ctx, id, func(r *models.PolicyRequest) error {
		if r.Status != models.RequestPending {
			return models.Finalized("policy request %s is already %s", id, r.Status)
		}
		r.Status = models.RequestRejected
		r.RejectionReason = strings.TrimSpace(reason)
		r.RejectedBy = insurerDID
		r.RejectedAt = &now
		return nil
	})
	if err != nil {
		return nil, storeErr(id, err)
	}
	e.log.WithFields(logrus.Fields{"request_id": id, "did": insurerDID}).Info("投保申请已拒绝")
	return &rec, nil
}

func (e *EngineImpl) ApproveAndIssue(ctx context.Context, in *ApproveInput) (*ApproveResult, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields("requestId", in.RequestID, "issuerDid", in.IssuerDID); err != nil {
		return nil, err
	}
	req, err := e.Get(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, models.Finalized("policy request %s is already %s", req.ID, req.Status)
	}
	if err := e.check(ctx, &rules.Subject{Scope: rules.ScopeDecision, Actor: in.IssuerDID}); err != nil {
		return nil, err
	}

	issued, err := e.identity.Issue(ctx, in.IssuerDID, e.policyCredential(req, in.Data))
	if err != nil {
		return nil, issueErr(in.IssuerDID, err)
	}

	now := e.now().UTC()
	approved, err := e.store.Update(ctx, req.ID, func(r *models.PolicyRequest) error {
		if r.Status != models.RequestPending {
			return models.Finalized("policy request %s is already %s", r.ID, r.Status)
		}
		r.Status = models.RequestApproved
		r.VCCID = issued.CID
		r.ApprovedBy = in.IssuerDID
		r.ApprovedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyFinalized) {
			e.log.WithFields(logrus.Fields{"request_id": req.ID, "cid": issued.CID}).Warn("并发决定：凭证已签发但申请已终态，凭证不被引用")
		}
		return nil, storeErr(req.ID, err)
	}
	e.index(ctx, issued, req.ID, PolicyRole)
	e.log.WithFields(logrus.Fields{"request_id": req.ID, "cid": issued.CID}).Info("投保申请已批准，保单凭证已签发")

	res := &ApproveResult{Request: &approved, Issued: issued}
	if !in.Anchor {
		return res, nil
	}
	res.Chain = e.anchorPolicy(ctx, &approved, in)
	if res.Chain.TxHash != "" {
		withTx, err := e.store.Update(ctx, approved.ID, func(r *models.PolicyRequest) error {
			r.TxHash = res.Chain.TxHash
			return nil
		})
		if err != nil {
			e.log.WithError(err).WithField("request_id", approved.ID).Warn("交易哈希写回失败")
		} else {
			res.Request = &withTx
		}
	}
	return res, nil
}

// anchorPolicy 解析受益人并提交链上保单；任何失败都只体现在 Result.Err。
func (e *EngineImpl) anchorPolicy(ctx context.Context, req *models.PolicyRequest, in *ApproveInput) chain.Result {
	explicit, _ := in.Data["beneficiary"].(string)
	beneficiary, ok := chain.ResolveBeneficiary(explicit, req.PatientAddress, req.PatientDID)
	if !ok {
		e.log.WithField("request_id", req.ID).Warn("无法解析受益人地址，跳过上链")
		return chain.Result{Err: chain.ErrNoBeneficiary}
	}
	coverage, err := models.ParseAmount("coverageAmount", req.CoverageAmount)
	if err != nil {
		return chain.Result{Err: err}
	}
	return e.anchor.Anchor(ctx, chain.PolicyTx{
		PolicyID:    req.ID,
		Beneficiary: beneficiary,
		Coverage:    coverage,
		SigningKey:  in.SigningKey,
	})
}

// policyCredential 组装保单凭证：调用方数据优先，缺省字段由申请补齐。
func (e *EngineImpl) policyCredential(req *models.PolicyRequest, data map[string]any) *identity.Credential {
	now := e.now().UTC()
	subject := map[string]any{}
	for k, v := range data {
		subject[k] = v
	}
	subject["id"] = req.PatientDID
	subject["role"] = PolicyRole
	subject["policyId"] = req.ID
	setDefault(subject, "policyNumber", policyNumber(req.ID))
	setDefault(subject, "coverageAmount", req.CoverageAmount)
	setDefault(subject, "issuedTo", req.PatientDID)
	setDefault(subject, "beneficiary", req.PatientAddress)
	setDefault(subject, "validFrom", now.Format(time.RFC3339))

	exp := now.Add(policyValidity)
	if s, ok := subject["validTill"].(string); ok {
		if t, ok := parseDate(s); ok {
			exp = t
		}
	}
	setDefault(subject, "validTill", exp.Format(time.RFC3339))
	return &identity.Credential{
		Type:              []string{"VerifiableCredential", "InsurancePolicyCredential"},
		ExpirationDate:    &exp,
		CredentialSubject: subject,
	}
}

func (e *EngineImpl) index(ctx context.Context, issued *identity.Issued, policyID, role string) {
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

func (e *EngineImpl) check(ctx context.Context, s *rules.Subject) error {
	d, err := e.rules.Evaluate(ctx, s)
	if err != nil {
		return models.Upstream("underwriting rules unavailable", err)
	}
	if !d.Allowed {
		return models.Invalid("rejected by underwriting rule %s: %s", d.RuleID, d.Reason)
	}
	return nil
}

// policyNumber POLICY- 加申请 id 的前 8 个字符。
func policyNumber(id string) string {
	n := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(n) > 8 {
		n = n[:8]
	}
	return "POLICY-" + n
}

func setDefault(m map[string]any, k string, v any) {
	if cur, ok := m[k]; !ok || cur == nil || cur == "" {
		m[k] = v
	}
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// storeErr 将存储层错误映射到错误分类；fn 返回的分类错误原样透传。
func storeErr(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.NotFound("policy request %s not found", id)
	case errors.Is(err, models.ErrAlreadyFinalized), errors.Is(err, models.ErrValidation):
		return err
	default:
		return models.Upstream("policy request storage failure", err)
	}
}

// issueErr 身份网关失败：未知签发方为用户错误，其余为上游失败。
func issueErr(issuer string, err error) error {
	if errors.Is(err, identity.ErrUnknownIssuer) {
		return models.Invalid("issuer %s is not managed by this node", issuer)
	}
	return models.Upstream("credential issuance failed", fmt.Errorf("issue for %s: %w", issuer, err))
}
