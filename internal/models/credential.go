package models

import "time"

// CredentialRecord 已签发凭证的索引：凭证本体在内容存储中，这里只保留指针与展示字段。
type CredentialRecord struct {
	CID        string    `json:"cid"`
	PolicyID   string    `json:"policyId,omitempty"`
	IssuerDID  string    `json:"issuerDid"`
	SubjectDID string    `json:"subjectDid"`
	Role       string    `json:"role"`
	JWT        string    `json:"jwt"`
	IssuedAt   time.Time `json:"issuedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (r *CredentialRecord) Key() string { return r.CID }

func (r *CredentialRecord) Init(now time.Time) {
	if r.IssuedAt.IsZero() {
		r.IssuedAt = now
	}
}

func (r *CredentialRecord) Touch(now time.Time) { r.UpdatedAt = now }

// VerificationStatus 治疗凭证校验的三态结果（外加“无凭证”）。
type VerificationStatus string

const (
	VerificationVerified      VerificationStatus = "verified"
	VerificationNotVerified   VerificationStatus = "not_verified"
	VerificationIndeterminate VerificationStatus = "indeterminate"
	VerificationNotAvailable  VerificationStatus = "not_available"
)

// TreatmentVerification verifyTreatmentCredential 的结果。
type TreatmentVerification struct {
	ClaimID string             `json:"claimId"`
	CID     string             `json:"cid,omitempty"`
	Status  VerificationStatus `json:"status"`
	Reason  string             `json:"reason,omitempty"`
	Issuer  string             `json:"issuer,omitempty"`
	Subject string             `json:"subject,omitempty"`
}

// DIDVerification resolveAndVerifyDid 的结果；解析失败不算错误，只体现在 Verified=false。
type DIDVerification struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
	Document any    `json:"didDocument,omitempty"`
}
