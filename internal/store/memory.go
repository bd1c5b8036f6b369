package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory 进程内存储，用于测试与 backend=memory。返回值都是深拷贝，调用方修改不影响已存数据。
type Memory[T any, P Doc[T]] struct {
	mu    sync.Mutex
	order []string
	recs  map[string]T
	now   func() time.Time
}

// NewMemory 创建空的内存存储。
func NewMemory[T any, P Doc[T]]() *Memory[T, P] {
	return &Memory[T, P]{recs: make(map[string]T), now: time.Now}
}

func (s *Memory[T, P]) List(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.order))
	for _, k := range s.order {
		c, err := clone(s.recs[k])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Memory[T, P]) Get(ctx context.Context, key string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return clone(rec)
}

func (s *Memory[T, P]) Append(ctx context.Context, rec T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	P(&rec).Init(s.now())
	key := P(&rec).Key()
	if _, ok := s.recs[key]; ok {
		var zero T
		return zero, ErrDuplicate
	}
	stored, err := clone(rec)
	if err != nil {
		return stored, err
	}
	s.recs[key] = stored
	s.order = append(s.order, key)
	return rec, nil
}

func (s *Memory[T, P]) Update(ctx context.Context, key string, fn func(*T) error) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return zero, ErrNotFound
	}
	cur, err := clone(rec)
	if err != nil {
		return zero, err
	}
	if err := fn(&cur); err != nil {
		return zero, err
	}
	P(&cur).Touch(s.now())
	stored, err := clone(cur)
	if err != nil {
		return zero, err
	}
	s.recs[key] = stored
	return cur, nil
}

func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
