package audit

import (
	"context"
	"sync"

	"medpolicy/internal/models"
)

// MemoryStore 内存实现，供测试与未配置审计文件时使用。
type MemoryStore struct {
	mu        sync.Mutex
	evidences []*models.Evidence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *models.Evidence) error {
	if e == nil {
		return nil
	}
	stamp(e)
	cp := *e
	s.mu.Lock()
	s.evidences = append(s.evidences, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) QueryBySubject(ctx context.Context, subjectID string) ([]*models.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Evidence
	for _, e := range s.evidences {
		if e.SubjectID == subjectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
