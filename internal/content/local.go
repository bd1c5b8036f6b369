package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local 把每个对象存为 <dir>/<cid>。内容按 CID 寻址，重复写入同一文件无副作用。
type Local struct {
	dir string
}

// NewLocal 使用 dir 作为存储目录；不存在则创建。
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (s *Local) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	id, err := Sum(data)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, id)
	if _, err := os.Stat(p); err == nil {
		return id, nil
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("content: write %s: %w", id, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("content: write %s: %w", id, err)
	}
	return id, nil
}

func (s *Local) Get(ctx context.Context, id string) ([]byte, error) {
	norm, err := Parse(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, norm))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("content: read %s: %w", norm, err)
	}
	return data, nil
}
