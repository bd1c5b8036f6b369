package content

import (
	"context"
	"sync"
)

// Memory 进程内内容存储。
type Memory struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objs: make(map[string][]byte)}
}

func (s *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	id, err := Sum(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objs[id] = append([]byte(nil), data...)
	s.mu.Unlock()
	return id, nil
}

func (s *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
