// Package request 投保申请流程：pending -> approved | rejected。
// 审批时签发保单凭证，可选地在审批落库之后尽力而为地创建链上保单。
package request

import (
	"context"
	"encoding/json"

	"medpolicy/internal/chain"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
)

// PolicyRole 保单凭证的 role。
const PolicyRole = "InsurancePolicy"

// SubmitInput 患者提交投保申请。
type SubmitInput struct {
	PatientDID     string
	PatientAddress string
	CoverageAmount string
	Details        json.RawMessage
}

// ApproveInput 保险方批准并签发。Data 为凭证附加字段（policyNumber、premium、deductible 等）。
type ApproveInput struct {
	RequestID  string
	IssuerDID  string
	Data       map[string]any
	Anchor     bool   // 是否尝试创建链上保单
	SigningKey string // 链上签名私钥；为空使用后端默认
}

// ApproveResult 批准结果。Chain 为尽力而为的上链结果，失败不影响 Request 已批准。
type ApproveResult struct {
	Request *models.PolicyRequest
	Issued  *identity.Issued
	Chain   chain.Result
}

// Workflow 投保申请流程接口。
type Workflow interface {
	Submit(ctx context.Context, in *SubmitInput) (*models.PolicyRequest, error)
	List(ctx context.Context) ([]models.PolicyRequest, error)
	Get(ctx context.Context, id string) (*models.PolicyRequest, error)
	// Reject 仅 pending 可拒绝；已终态返回 ErrAlreadyFinalized。
	Reject(ctx context.Context, id, reason, insurerDID string) (*models.PolicyRequest, error)
	// ApproveAndIssue 先签发凭证，再将申请置为 approved，最后才尝试上链。
	ApproveAndIssue(ctx context.Context, in *ApproveInput) (*ApproveResult, error)
}
