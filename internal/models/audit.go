package models

import "time"

// Evidence 一条生命周期审计记录：每次状态迁移、签发与上链各写一条。
// 字段名与账本批次一致，JSON 为 snake_case。
type Evidence struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"` // requestId 或 claimId
	Kind       string    `json:"kind"`       // policy_request / claim / credential / chain
	Action     string    `json:"action"`     // submit / approve / reject / pay / issue / anchor
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CID        string    `json:"cid,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
