package lifecycle

import (
	"context"
	"fmt"

	"medpolicy/internal/models"
	"medpolicy/internal/notify"
	"medpolicy/internal/request"
)

const kindRequest = "policy_request"

// SubmitRequest 提交投保申请并通知保险方。
func (e *Engine) SubmitRequest(ctx context.Context, in *request.SubmitInput) (*models.PolicyRequest, error) {
	r, err := e.requests.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: r.ID, Kind: kindRequest, Action: "submit",
		ToStatus: string(r.Status), Actor: r.PatientDID,
	})
	e.announce(ctx, notify.Notice{
		Kind:    notify.KindPolicyRequest,
		ID:      r.ID,
		Summary: fmt.Sprintf("%s 申请保额 %s", r.PatientDID, r.CoverageAmount),
		Amount:  r.CoverageAmount,
	})
	return r, nil
}

// ListRequests 返回全部投保申请。
func (e *Engine) ListRequests(ctx context.Context) ([]models.PolicyRequest, error) {
	return e.requests.List(ctx)
}

// GetRequest 按 id 查询投保申请。
func (e *Engine) GetRequest(ctx context.Context, id string) (*models.PolicyRequest, error) {
	return e.requests.Get(ctx, id)
}

// RejectRequest 拒绝投保申请。
func (e *Engine) RejectRequest(ctx context.Context, id, reason, insurerDID string) (*models.PolicyRequest, error) {
	r, err := e.requests.Reject(ctx, id, reason, insurerDID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, models.Evidence{
		SubjectID: r.ID, Kind: kindRequest, Action: "reject",
		FromStatus: string(models.RequestPending), ToStatus: string(r.Status),
		Actor: insurerDID, Reason: r.RejectionReason,
	})
	return r, nil
}

// ApproveAndIssue 批准投保申请并签发保单凭证；上链结果只体现在 Chain 中。
func (e *Engine) ApproveAndIssue(ctx context.Context, in *request.ApproveInput) (*request.ApproveResult, error) {
	res, err := e.requests.ApproveAndIssue(ctx, in)
	if err != nil {
		return nil, err
	}
	r := res.Request
	e.record(ctx, models.Evidence{
		SubjectID: r.ID, Kind: kindRequest, Action: "approve",
		FromStatus: string(models.RequestPending), ToStatus: string(r.Status),
		Actor: in.IssuerDID, CID: res.Issued.CID,
	})
	if in.Anchor {
		ev := models.Evidence{SubjectID: r.ID, Kind: "chain", Action: "anchor", Actor: in.IssuerDID, TxHash: res.Chain.TxHash}
		if res.Chain.Err != nil {
			ev.Reason = res.Chain.Err.Error()
		}
		e.record(ctx, ev)
	}
	return res, nil
}
