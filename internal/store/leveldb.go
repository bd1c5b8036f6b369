package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 把每条记录存为独立键，集合之间以前缀区分：
//
//	<prefix>/rec/<key>   记录 JSON
//	<prefix>/seq/<n>     追加顺序 -> key，List 按此顺序返回
//	<prefix>/meta/seq    最近分配的序号
//
// 同一集合的写入在 mu 下串行，追加的多个键通过 leveldb.Batch 一次写入。
type LevelDB[T any, P Doc[T]] struct {
	db     *leveldb.DB
	prefix string
	mu     sync.Mutex
	now    func() time.Time
}

// OpenLevelDB 打开（或创建）path 处的数据库；多个集合可共享同一个 *leveldb.DB。
func OpenLevelDB(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open leveldb %s: %w", path, err)
	}
	return db, nil
}

// NewLevelDB 在 db 上创建以 prefix 命名的集合。
func NewLevelDB[T any, P Doc[T]](db *leveldb.DB, prefix string) *LevelDB[T, P] {
	return &LevelDB[T, P]{db: db, prefix: prefix, now: time.Now}
}

func (s *LevelDB[T, P]) recKey(key string) []byte { return []byte(s.prefix + "/rec/" + key) }
func (s *LevelDB[T, P]) seqKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s/seq/%020d", s.prefix, n))
}
func (s *LevelDB[T, P]) metaKey() []byte { return []byte(s.prefix + "/meta/seq") }

func (s *LevelDB[T, P]) List(ctx context.Context) ([]T, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(s.prefix+"/seq/")), nil)
	defer iter.Release()
	out := []T{}
	for iter.Next() {
		rec, err := s.get(string(iter.Value()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", s.prefix, err)
	}
	return out, nil
}

func (s *LevelDB[T, P]) Get(ctx context.Context, key string) (T, error) {
	return s.get(key)
}

func (s *LevelDB[T, P]) get(key string) (T, error) {
	var rec T
	data, err := s.db.Get(s.recKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("store: get %s/%s: %w", s.prefix, key, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("store: decode %s/%s: %w", s.prefix, key, err)
	}
	return rec, nil
}

func (s *LevelDB[T, P]) Append(ctx context.Context, rec T) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	P(&rec).Init(s.now())
	key := P(&rec).Key()
	if ok, err := s.db.Has(s.recKey(key), nil); err != nil {
		return zero, fmt.Errorf("store: has %s/%s: %w", s.prefix, key, err)
	} else if ok {
		return zero, ErrDuplicate
	}
	seq, err := s.lastSeq()
	if err != nil {
		return zero, err
	}
	seq++
	data, err := json.Marshal(rec)
	if err != nil {
		return zero, fmt.Errorf("store: encode: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(s.recKey(key), data)
	batch.Put(s.seqKey(seq), []byte(key))
	batch.Put(s.metaKey(), []byte(strconv.FormatUint(seq, 10)))
	if err := s.db.Write(batch, nil); err != nil {
		return zero, fmt.Errorf("store: write %s/%s: %w", s.prefix, key, err)
	}
	return rec, nil
}

func (s *LevelDB[T, P]) Update(ctx context.Context, key string, fn func(*T) error) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.get(key)
	if err != nil {
		return zero, err
	}
	if err := fn(&cur); err != nil {
		return zero, err
	}
	P(&cur).Touch(s.now())
	data, err := json.Marshal(cur)
	if err != nil {
		return zero, fmt.Errorf("store: encode: %w", err)
	}
	if err := s.db.Put(s.recKey(key), data, nil); err != nil {
		return zero, fmt.Errorf("store: write %s/%s: %w", s.prefix, key, err)
	}
	return cur, nil
}

func (s *LevelDB[T, P]) lastSeq() (uint64, error) {
	v, err := s.db.Get(s.metaKey(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read seq %s: %w", s.prefix, err)
	}
	return strconv.ParseUint(string(v), 10, 64)
}
