package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ClaimStatus 理赔状态。
type ClaimStatus string

const (
	ClaimSubmitted   ClaimStatus = "Submitted"
	ClaimUnderReview ClaimStatus = "UnderReview"
	ClaimApproved    ClaimStatus = "Approved"
	ClaimRejected    ClaimStatus = "Rejected"
	ClaimPaid        ClaimStatus = "Paid"
)

// Claim 医疗机构针对已批准保单发起的理赔。
type Claim struct {
	ClaimID            string      `json:"claimId"`
	ProviderWallet     string      `json:"providerWallet"`
	PatientDIDOrWallet string      `json:"patientDidOrWallet"`
	PolicyID           string      `json:"policyId"`
	AmountWei          string      `json:"amountWei"`
	FileCIDs           []string    `json:"fileCids"`
	TreatmentVCCID     string      `json:"treatmentVcCid,omitempty"`
	Status             ClaimStatus `json:"status"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
	InsurerAddress     string      `json:"insurerAddress,omitempty"`
	ApprovedBy         string      `json:"approvedBy,omitempty"`
	ApprovedAt         *time.Time  `json:"approvedAt,omitempty"`
	RejectionReason    string      `json:"rejectionReason,omitempty"`
	RejectedBy         string      `json:"rejectedBy,omitempty"`
	RejectedAt         *time.Time  `json:"rejectedAt,omitempty"`
	PaidBy             string      `json:"paidBy,omitempty"`
	PaidAt             *time.Time  `json:"paidAt,omitempty"`
}

// claimAliases 历史记录中出现过的别名字段。
type claimAliases struct {
	Provider           string     `json:"provider"`
	PatientDID         string     `json:"patientDid"`
	PatientWalletOrDID string     `json:"patientWalletOrDid"`
	Amount             FlexString `json:"amount"`
}

// UnmarshalJSON 读取时一次性把别名字段归并到规范字段，之后的过滤与展示只看规范字段。
func (c *Claim) UnmarshalJSON(data []byte) error {
	type plain Claim
	var raw struct {
		plain
		AmountWei FlexString `json:"amountWei"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p := raw.plain
	p.AmountWei = string(raw.AmountWei)
	var a claimAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if p.ProviderWallet == "" {
		p.ProviderWallet = a.Provider
	}
	p.ProviderWallet = strings.ToLower(p.ProviderWallet)
	if p.PatientDIDOrWallet == "" {
		p.PatientDIDOrWallet = a.PatientWalletOrDID
	}
	if p.PatientDIDOrWallet == "" {
		p.PatientDIDOrWallet = a.PatientDID
	}
	if p.AmountWei == "" {
		p.AmountWei = string(a.Amount)
	}
	if p.FileCIDs == nil {
		p.FileCIDs = []string{}
	}
	*c = Claim(p)
	return nil
}

// Key 返回存储主键。
func (c *Claim) Key() string { return c.ClaimID }

// Init 在首次写入时补齐 claimId、创建时间与默认状态。
func (c *Claim) Init(now time.Time) {
	if c.ClaimID == "" {
		c.ClaimID = NewClaimID(now)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = ClaimSubmitted
	}
	if c.FileCIDs == nil {
		c.FileCIDs = []string{}
	}
}

// Touch 记录更新时间。
func (c *Claim) Touch(now time.Time) { c.UpdatedAt = now }

// IsTerminal 返回是否已终态。
func (c *Claim) IsTerminal() bool {
	return c.Status == ClaimRejected || c.Status == ClaimPaid
}

// CanTransition 返回 from -> to 是否为合法迁移。UnderReview 仅为兼容历史数据保留，不参与迁移。
func CanTransition(from, to ClaimStatus) bool {
	switch from {
	case ClaimSubmitted:
		return to == ClaimApproved || to == ClaimRejected
	case ClaimApproved:
		return to == ClaimPaid
	}
	return false
}

var claimClock struct {
	mu   sync.Mutex
	last int64
}

// NewClaimID 生成 claim-<毫秒时间戳>；同一毫秒内多次调用时递增，保证进程内单调且唯一。
func NewClaimID(now time.Time) string {
	ms := now.UnixMilli()
	claimClock.mu.Lock()
	if ms <= claimClock.last {
		ms = claimClock.last + 1
	}
	claimClock.last = ms
	claimClock.mu.Unlock()
	return "claim-" + strconv.FormatInt(ms, 10)
}
