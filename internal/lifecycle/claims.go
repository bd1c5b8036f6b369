package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"medpolicy/internal/claim"
	"medpolicy/internal/models"
	"medpolicy/internal/notify"
)

const kindClaim = "claim"

// SubmitClaim 校验 policyId 引用后提交理赔，并通知保险方。
func (e *Engine) SubmitClaim(ctx context.Context, in *claim.SubmitInput) (*models.Claim, error) {
	if in == nil {
		return nil, models.Invalid("request body is required")
	}
	if err := e.checkPolicy(ctx, in.PolicyID); err != nil {
		return nil, err
	}
	c, err := e.claims.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: c.ClaimID, Kind: kindClaim, Action: "submit",
		ToStatus: string(c.Status), Actor: c.ProviderWallet,
	})
	e.announce(ctx, notify.Notice{
		Kind:    notify.KindClaim,
		ID:      c.ClaimID,
		Summary: fmt.Sprintf("%s 针对保单 %s 申请理赔 %s", c.ProviderWallet, c.PolicyID, c.AmountWei),
		Amount:  c.AmountWei,
	})
	return c, nil
}

// checkPolicy 按 PolicyCheck 校验理赔引用的投保申请。
func (e *Engine) checkPolicy(ctx context.Context, policyID string) error {
	if e.policyCheck == PolicyUnchecked || policyID == "" {
		// policyId 缺失由理赔流程报告。
		return nil
	}
	r, err := e.requests.Get(ctx, policyID)
	if errors.Is(err, models.ErrNotFound) {
		return models.NotFound("policy %s not found", policyID)
	}
	if err != nil {
		return err
	}
	if e.policyCheck == PolicyMustBeApproved && r.Status != models.RequestApproved {
		return models.BadState("policy %s is %s, claims require an approved policy", policyID, r.Status)
	}
	return nil
}

// ListClaims 返回全部理赔。
func (e *Engine) ListClaims(ctx context.Context) ([]models.Claim, error) {
	return e.claims.List(ctx)
}

// ClaimsByProvider 返回某医疗机构的理赔。
func (e *Engine) ClaimsByProvider(ctx context.Context, wallet string) ([]models.Claim, error) {
	return e.claims.ListByProvider(ctx, wallet)
}

// GetClaim 按 claimId 查询。
func (e *Engine) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	return e.claims.Get(ctx, claimID)
}

// ApproveClaim Submitted -> Approved。
func (e *Engine) ApproveClaim(ctx context.Context, in *claim.DecisionInput) (*models.Claim, error) {
	c, err := e.claims.Approve(ctx, in)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: c.ClaimID, Kind: kindClaim, Action: "approve",
		FromStatus: string(models.ClaimSubmitted), ToStatus: string(c.Status), Actor: in.InsurerDID,
	})
	return c, nil
}

// RejectClaim Submitted -> Rejected。
func (e *Engine) RejectClaim(ctx context.Context, in *claim.DecisionInput) (*models.Claim, error) {
	c, err := e.claims.Reject(ctx, in)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: c.ClaimID, Kind: kindClaim, Action: "reject",
		FromStatus: string(models.ClaimSubmitted), ToStatus: string(c.Status),
		Actor: in.InsurerDID, Reason: c.RejectionReason,
	})
	return c, nil
}

// MarkClaimPaid Approved -> Paid。
func (e *Engine) MarkClaimPaid(ctx context.Context, claimID, insurerDID string) (*models.Claim, error) {
	c, err := e.claims.MarkPaid(ctx, claimID, insurerDID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: c.ClaimID, Kind: kindClaim, Action: "pay",
		FromStatus: string(models.ClaimApproved), ToStatus: string(c.Status), Actor: insurerDID,
	})
	return c, nil
}

// VerifyTreatment 读取理赔并校验其诊疗凭证。
func (e *Engine) VerifyTreatment(ctx context.Context, claimID string) (*models.TreatmentVerification, error) {
	c, err := e.claims.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return e.claims.VerifyTreatmentCredential(ctx, c)
}
