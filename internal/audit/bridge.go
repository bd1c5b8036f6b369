package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"medpolicy/internal/models"
	"medpolicy/pkg/ledger"
)

// LedgerBridge 包装 Store：Append 成功后异步把 (evidence id, hash) 按批次写入账本。
// 不阻塞审计写入；批次失败只记日志，条目并入下一批重试。
type LedgerBridge struct {
	inner     Store
	ledger    ledger.Ledger
	batchSize int
	interval  time.Duration
	log       logrus.FieldLogger
	ch        chan entryHash
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

type entryHash struct {
	ID   string
	Hash string
}

// NewLedgerBridge 创建桥接；调用 Start() 启动后台刷盘，关闭时调用 Stop()。
func NewLedgerBridge(inner Store, l ledger.Ledger, batchSize int, interval time.Duration, log logrus.FieldLogger) *LedgerBridge {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LedgerBridge{
		inner:     inner,
		ledger:    l,
		batchSize: batchSize,
		interval:  interval,
		log:       log,
		ch:        make(chan entryHash, 500),
		done:      make(chan struct{}),
	}
}

// Start 启动后台 goroutine：攒满一批或定时调用 Ledger.AppendBatch。
func (b *LedgerBridge) Start() {
	b.wg.Add(1)
	go b.flushLoop()
}

// Stop 停止后台并等待当前批提交完成。可重复调用。
func (b *LedgerBridge) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *LedgerBridge) flushLoop() {
	defer b.wg.Done()
	buf := make(map[string]string)
	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	flush := func() {
		if len(buf) == 0 {
			return
		}
		batchID := "audit-" + ulid.Make().String()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		root, err := b.ledger.AppendBatch(ctx, batchID, buf)
		cancel()
		if err != nil {
			b.log.WithField("batch_id", batchID).WithError(err).Warn("[medpolicy] 审计批次上账失败，稍后重试")
			return
		}
		b.log.WithFields(logrus.Fields{"batch_id": batchID, "size": len(buf), "merkle_root": root}).Debug("[medpolicy] 审计批次已上账")
		buf = make(map[string]string)
	}
	for {
		select {
		case <-b.done:
		drain:
			for {
				select {
				case eh := <-b.ch:
					buf[eh.ID] = eh.Hash
				default:
					break drain
				}
			}
			flush()
			return
		case eh := <-b.ch:
			buf[eh.ID] = eh.Hash
			if len(buf) >= b.batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

// Append 先写内层 Store，再把条目哈希投递到批次通道（通道满则丢弃）。
func (b *LedgerBridge) Append(ctx context.Context, e *models.Evidence) error {
	if e == nil {
		return nil
	}
	stamp(e)
	if err := b.inner.Append(ctx, e); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	select {
	case b.ch <- entryHash{ID: e.ID, Hash: ledger.HashEntry(data)}:
	default:
		b.log.WithField("evidence_id", e.ID).Warn("[medpolicy] 审计上账队列已满，条目未上账")
	}
	return nil
}

// QueryBySubject 委托内层。
func (b *LedgerBridge) QueryBySubject(ctx context.Context, subjectID string) ([]*models.Evidence, error) {
	return b.inner.QueryBySubject(ctx, subjectID)
}
