// Package audit 生命周期审计：每次状态迁移、签发与上链写一条 Evidence，仅追加。
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"medpolicy/internal/models"
)

// Store 审计存储接口：仅追加写，按 subject（requestId / claimId）查询。
type Store interface {
	// Append 追加一条记录；ID 与 Timestamp 为空时补齐。
	Append(ctx context.Context, e *models.Evidence) error
	// QueryBySubject 按时间顺序返回某条申请或理赔的全部记录。
	QueryBySubject(ctx context.Context, subjectID string) ([]*models.Evidence, error)
}

func stamp(e *models.Evidence) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy()).String()
	}
}
