// Package claim 理赔流程：Submitted -> Approved | Rejected，Approved -> Paid。
// Rejected 与 Paid 为终态；任何不合法迁移返回 ErrInvalidState。
package claim

import (
	"context"

	"medpolicy/internal/models"
)

// SubmitInput 医疗机构提交理赔。
type SubmitInput struct {
	ProviderWallet     string
	PatientDIDOrWallet string
	PolicyID           string
	AmountWei          string
	FileCIDs           []string
	TreatmentVCCID     string
}

// DecisionInput 保险方审批或拒绝。SigningKey 只用于授权校验，不落库。
type DecisionInput struct {
	ClaimID        string
	InsurerDID     string
	InsurerAddress string
	SigningKey     string
	Reason         string // 仅拒绝时必填
}

// Workflow 理赔流程接口。
type Workflow interface {
	Submit(ctx context.Context, in *SubmitInput) (*models.Claim, error)
	List(ctx context.Context) ([]models.Claim, error)
	// ListByProvider 按机构钱包过滤，大小写不敏感。
	ListByProvider(ctx context.Context, wallet string) ([]models.Claim, error)
	Get(ctx context.Context, claimID string) (*models.Claim, error)
	Approve(ctx context.Context, in *DecisionInput) (*models.Claim, error)
	Reject(ctx context.Context, in *DecisionInput) (*models.Claim, error)
	// MarkPaid Approved -> Paid，独立于审批的支付步骤。
	MarkPaid(ctx context.Context, claimID, insurerDID string) (*models.Claim, error)
	// VerifyTreatmentCredential 校验理赔附带的诊疗凭证；无凭证时不访问身份网关。
	VerifyTreatmentCredential(ctx context.Context, c *models.Claim) (*models.TreatmentVerification, error)
}
