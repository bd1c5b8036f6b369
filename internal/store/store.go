// Package store 提供投保申请、理赔与凭证索引的持久化。
// 所有后端实现同一个 Store 接口：整表读取、按键读取、追加、按键原子更新。
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示键不存在。
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicate 表示追加的记录键已存在。
var ErrDuplicate = errors.New("store: duplicate key")

// ErrConflict 表示乐观并发写入多次重试后仍冲突。
var ErrConflict = errors.New("store: concurrent update conflict")

// Doc 约束可存储的记录类型：*T 需提供主键与时间戳钩子。
type Doc[T any] interface {
	*T
	Key() string
	// Init 在 Append 时调用：补齐主键、创建时间与默认状态。
	Init(now time.Time)
	// Touch 在 Update 成功后调用：记录更新时间。
	Touch(now time.Time)
}

// Store 键控记录存储。
//
// Update 对单条记录做读-改-写：fn 收到当前记录的副本，返回错误时不写入且原样返回该错误；
// 同一键的并发 Update 串行执行，fn 总能看到前一次写入的结果，因此状态前置条件放在 fn 中检查即可。
type Store[T any] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, key string) (T, error)
	Append(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, key string, fn func(*T) error) (T, error)
}
