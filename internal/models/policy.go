package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RequestStatus 投保申请状态。
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PolicyRequest 患者提交的投保申请，等待保险方决定。
// CoverageAmount 以最小货币单位的十进制字符串保存，避免精度丢失。
type PolicyRequest struct {
	ID              string          `json:"id"`
	PatientDID      string          `json:"patientDid"`
	PatientAddress  string          `json:"patientAddress"`
	CoverageAmount  string          `json:"coverageAmount"`
	Details         json.RawMessage `json:"details,omitempty"`
	Status          RequestStatus   `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	VCCID           string          `json:"vcCid,omitempty"`
	TxHash          string          `json:"txHash,omitempty"`
	ApprovedBy      string          `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	RejectedBy      string          `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time      `json:"rejectedAt,omitempty"`
}

// UnmarshalJSON 兼容历史记录中以 JSON 数字保存的 coverageAmount。
func (r *PolicyRequest) UnmarshalJSON(data []byte) error {
	type plain PolicyRequest
	var raw struct {
		plain
		CoverageAmount FlexString `json:"coverageAmount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = PolicyRequest(raw.plain)
	r.CoverageAmount = string(raw.CoverageAmount)
	return nil
}

// Key 返回存储主键。
func (r *PolicyRequest) Key() string { return r.ID }

// Init 在首次写入时补齐 id、创建时间与默认状态。
func (r *PolicyRequest) Init(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
}

// Touch 记录更新时间。
func (r *PolicyRequest) Touch(now time.Time) { r.UpdatedAt = now }

// IsTerminal 返回是否已终态（不再接受决定）。
func (r *PolicyRequest) IsTerminal() bool {
	return r.Status == RequestApproved || r.Status == RequestRejected
}
