package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"medpolicy/internal/models"
)

// JSONLStore 每条证据一行 JSON 追加到文件；打开时回放整个文件建立 subject 索引，查询不再读盘。
type JSONLStore struct {
	mu        sync.RWMutex
	f         *os.File
	w         *bufio.Writer
	bySubject map[string][]models.Evidence
	skipped   int
}

// NewJSONLStore 打开（或创建）path。无法解析的行计入 Skipped 并跳过，不阻止启动。
func NewJSONLStore(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, errors.New("audit: jsonl path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	s := &JSONLStore{f: f, w: bufio.NewWriter(f), bySubject: make(map[string][]models.Evidence)}
	if err := s.replay(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: replay %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONLStore) replay(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.Evidence
		if err := json.Unmarshal(line, &e); err != nil || e.SubjectID == "" {
			s.skipped++
			continue
		}
		s.bySubject[e.SubjectID] = append(s.bySubject[e.SubjectID], e)
	}
	return sc.Err()
}

// Append 写入一行并 flush；写盘成功后才进入索引。
func (s *JSONLStore) Append(ctx context.Context, e *models.Evidence) error {
	if e == nil {
		return nil
	}
	stamp(e)
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.bySubject[e.SubjectID] = append(s.bySubject[e.SubjectID], *e)
	return nil
}

// QueryBySubject 按写入顺序返回副本。
func (s *JSONLStore) QueryBySubject(ctx context.Context, subjectID string) ([]*models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.bySubject[subjectID]
	out := make([]*models.Evidence, 0, len(list))
	for i := range list {
		e := list[i]
		out = append(out, &e)
	}
	return out, nil
}

// Skipped 打开时跳过的损坏行数。
func (s *JSONLStore) Skipped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}

// Close flush 后 fsync 并关闭文件；重复调用无副作用。
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := errors.Join(s.w.Flush(), s.f.Sync(), s.f.Close())
	s.f = nil
	return err
}
