// Package content 内容寻址存储：写入任意字节，返回 CIDv1（raw 编码、sha2-256）。
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrNotFound 表示 CID 对应的内容不存在。
var ErrNotFound = errors.New("content: not found")

// ErrEmpty 表示写入空内容。
var ErrEmpty = errors.New("content: empty payload")

// Store 内容寻址存储。同一内容多次 Put 得到同一 CID。
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

var prefix = cid.Prefix{Version: 1, Codec: cid.Raw, MhType: mh.SHA2_256, MhLength: -1}

// Sum 计算 data 的 CID 字符串（base32，bafk... 前缀）。
func Sum(data []byte) (string, error) {
	c, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("content: sum: %w", err)
	}
	return c.String(), nil
}

// Parse 校验并规范化 CID 字符串；CIDv0（Qm...）也接受。
func Parse(id string) (string, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return "", fmt.Errorf("content: bad cid %q: %w", id, err)
	}
	return c.String(), nil
}
