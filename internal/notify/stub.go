package notify

import (
	"context"
	"sync"
)

// Recorder 记录收到的通知，供测试断言。
type Recorder struct {
	mu      sync.Mutex
	Err     error
	notices []Notice
}

func (r *Recorder) Notify(ctx context.Context, n *Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, *n)
	return r.Err
}

// Notices 返回已记录通知的副本。
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
