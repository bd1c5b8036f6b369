package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONFile 把整个集合保存为一个 JSON 数组文件，每次写入整表重写。
// 写入先落临时文件再 rename，失败时原文件保持不变；读写都在同一把锁下完成。
type JSONFile[T any, P Doc[T]] struct {
	path   string
	mu     sync.Mutex
	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// NewJSONFile 使用 path 作为集合文件；所在目录不存在则创建。
func NewJSONFile[T any, P Doc[T]](path string) (*JSONFile[T, P], error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &JSONFile[T, P]{path: path, now: time.Now, rename: os.Rename}, nil
}

func (s *JSONFile[T, P]) List(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *JSONFile[T, P]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return zero, err
	}
	if i := indexOf[T, P](recs, key); i >= 0 {
		return recs[i], nil
	}
	return zero, ErrNotFound
}

func (s *JSONFile[T, P]) Append(ctx context.Context, rec T) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return zero, err
	}
	P(&rec).Init(s.now())
	if indexOf[T, P](recs, P(&rec).Key()) >= 0 {
		return zero, ErrDuplicate
	}
	recs = append(recs, rec)
	if err := s.writeAll(recs); err != nil {
		return zero, err
	}
	return rec, nil
}

func (s *JSONFile[T, P]) Update(ctx context.Context, key string, fn func(*T) error) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return zero, err
	}
	i := indexOf[T, P](recs, key)
	if i < 0 {
		return zero, ErrNotFound
	}
	cur := recs[i]
	if err := fn(&cur); err != nil {
		return zero, err
	}
	P(&cur).Touch(s.now())
	recs[i] = cur
	if err := s.writeAll(recs); err != nil {
		return zero, err
	}
	return cur, nil
}

func (s *JSONFile[T, P]) readAll() ([]T, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	recs := []T{}
	if len(data) == 0 {
		return recs, nil
	}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", s.path, err)
	}
	return recs, nil
}

func (s *JSONFile[T, P]) writeAll(recs []T) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	if err := s.rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

func indexOf[T any, P Doc[T]](recs []T, key string) int {
	for i := range recs {
		if P(&recs[i]).Key() == key {
			return i
		}
	}
	return -1
}
