package claim

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/chain"
	"medpolicy/internal/content"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/rules"
	"medpolicy/internal/store"
)

// EngineImpl 基于 Store 的理赔流程。
type EngineImpl struct {
	store    store.Store[models.Claim]
	content  content.Store
	identity identity.Gateway
	rules    rules.Engine
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewEngineImpl 创建流程；r 为 nil 时不做核保检查。
func NewEngineImpl(s store.Store[models.Claim], cs content.Store, id identity.Gateway, r rules.Engine, log logrus.FieldLogger) *EngineImpl {
	if r == nil {
		r = rules.AllowAll{}
	}
	return &EngineImpl{
		store:    s,
		content:  cs,
		identity: id,
		rules:    r,
		log:      log.WithField("component", "claim"),
		now:      time.Now,
	}
}

var _ Workflow = (*EngineImpl)(nil)

func (e *EngineImpl) Submit(ctx context.Context, in *SubmitInput) (*models.Claim, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields(
		"providerWallet", in.ProviderWallet,
		"patientDidOrWallet", in.PatientDIDOrWallet,
		"policyId", in.PolicyID,
		"amountWei", in.AmountWei,
	); err != nil {
		return nil, err
	}
	amount, err := models.ParseAmount("amountWei", in.AmountWei)
	if err != nil {
		return nil, err
	}
	treatment := strings.TrimSpace(in.TreatmentVCCID)
	if err := e.check(ctx, &rules.Subject{
		Scope:                  rules.ScopeClaim,
		Amount:                 amount,
		Actor:                  NormalizeWallet(in.ProviderWallet),
		HasTreatmentCredential: treatment != "",
	}); err != nil {
		return nil, err
	}
	cids := make([]string, 0, len(in.FileCIDs))
	for _, c := range in.FileCIDs {
		if c = strings.TrimSpace(c); c != "" {
			cids = append(cids, c)
		}
	}
	rec, err := e.store.Append(ctx, models.Claim{
		ProviderWallet:     NormalizeWallet(in.ProviderWallet),
		PatientDIDOrWallet: normalizeSubject(in.PatientDIDOrWallet),
		PolicyID:           strings.TrimSpace(in.PolicyID),
		AmountWei:          amount.String(),
		FileCIDs:           cids,
		TreatmentVCCID:     treatment,
	})
	if err != nil {
		return nil, models.Upstream("failed to save claim", err)
	}
	e.log.WithFields(logrus.Fields{"claim_id": rec.ClaimID, "policy_id": rec.PolicyID}).Info("理赔已提交")
	return &rec, nil
}

func (e *EngineImpl) List(ctx context.Context) ([]models.Claim, error) {
	list, err := e.store.List(ctx)
	if err != nil {
		return nil, models.Upstream("failed to load claims", err)
	}
	return list, nil
}

func (e *EngineImpl) ListByProvider(ctx context.Context, wallet string) ([]models.Claim, error) {
	w := NormalizeWallet(wallet)
	if w == "" {
		return nil, models.Invalid("wallet is required")
	}
	all, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Claim, 0, len(all))
	for _, c := range all {
		// 历史别名已在读取时归并到 ProviderWallet。
		if strings.EqualFold(c.ProviderWallet, w) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *EngineImpl) Get(ctx context.Context, claimID string) (*models.Claim, error) {
	if strings.TrimSpace(claimID) == "" {
		return nil, models.Invalid("claimId is required")
	}
	c, err := e.store.Get(ctx, claimID)
	if err != nil {
		return nil, storeErr(claimID, err)
	}
	return &c, nil
}

func (e *EngineImpl) Approve(ctx context.Context, in *DecisionInput) (*models.Claim, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields("claimId", in.ClaimID, "insurerDid", in.InsurerDID, "insurerAddress", in.InsurerAddress, "privateKey", in.SigningKey); err != nil {
		return nil, err
	}
	return e.transition(ctx, in.ClaimID, in.InsurerDID, models.ClaimApproved, func(c *models.Claim, now time.Time) {
		c.ApprovedBy = in.InsurerDID
		c.ApprovedAt = &now
		c.InsurerAddress = NormalizeWallet(in.InsurerAddress)
	})
}

func (e *EngineImpl) Reject(ctx context.Context, in *DecisionInput) (*models.Claim, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := models.RequireFields("claimId", in.ClaimID, "reason", in.Reason, "insurerDid", in.InsurerDID, "insurerAddress", in.InsurerAddress, "privateKey", in.SigningKey); err != nil {
		return nil, err
	}
	return e.transition(ctx, in.ClaimID, in.InsurerDID, models.ClaimRejected, func(c *models.Claim, now time.Time) {
		c.RejectionReason = strings.TrimSpace(in.Reason)
		c.RejectedBy = in.InsurerDID
		c.RejectedAt = &now
		c.InsurerAddress = NormalizeWallet(in.InsurerAddress)
	})
}

func (e *EngineImpl) MarkPaid(ctx context.Context, claimID, insurerDID string) (*models.Claim, error) {
	if err := models.RequireFields("claimId", claimID, "insurerDid", insurerDID); err != nil {
		return nil, err
	}
	return e.transition(ctx, claimID, insurerDID, models.ClaimPaid, func(c *models.Claim, now time.Time) {
		c.PaidBy = insurerDID
		c.PaidAt = &now
	})
}

// transition 在存储的更新临界区内检查迁移合法性，保证同一理赔的并发决定只有一个成功。
func (e *EngineImpl) transition(ctx context.Context, claimID, actor string, to models.ClaimStatus, apply func(*models.Claim, time.Time)) (*models.Claim, error) {
	if err := e.check(ctx, &rules.Subject{Scope: rules.ScopeDecision, Actor: actor}); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	var from models.ClaimStatus
	c, err := e.store.Update(ctx, claimID, func(c *models.Claim) error {
		if !models.CanTransition(c.Status, to) {
			return models.BadState("claim %s is %s and cannot become %s", claimID, c.Status, to)
		}
		from = c.Status
		c.Status = to
		apply(c, now)
		return nil
	})
	if err != nil {
		return nil, storeErr(claimID, err)
	}
	e.log.WithFields(logrus.Fields{"claim_id": claimID, "from": from, "to": to, "did": actor}).Info("理赔状态已更新")
	return &c, nil
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

// NormalizeWallet 去空白并转小写；合法 0x 地址按 EIP-55 解析后小写。
func NormalizeWallet(s string) string {
	if addr, ok := chain.NormalizeAddress(s); ok {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeSubject 钱包地址转小写，DID 原样保留。
func normalizeSubject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return NormalizeWallet(s)
	}
	return s
}

func storeErr(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.NotFound("claim %s not found", id)
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrValidation):
		return err
	default:
		return models.Upstream("claim storage failure", err)
	}
}
