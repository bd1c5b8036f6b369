package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Keystore 保存本节点管理的 DID 私钥。
type Keystore interface {
	Put(did string, key ed25519.PrivateKey) error
	Get(did string) (ed25519.PrivateKey, error)
}

var errNoKey = errors.New("identity: key not found")

// FileKeystore 每个 DID 一个文件 <dir>/<did>.key（十六进制种子，0600）。
type FileKeystore struct {
	dir string
	mu  sync.Mutex
}

// NewFileKeystore 使用 dir 作为 keystore 目录；不存在则以 0700 创建。
func NewFileKeystore(dir string) (*FileKeystore, error) {
	if dir == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("identity: keystore: %w", err)
	}
	return &FileKeystore{dir: dir}, nil
}

func (k *FileKeystore) path(did string) string {
	return filepath.Join(k.dir, strings.NewReplacer(":", "_", "/", "_").Replace(did)+".key")
}

func (k *FileKeystore) Put(did string, key ed25519.PrivateKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return os.WriteFile(k.path(did), []byte(hex.EncodeToString(key.Seed())), 0600)
}

func (k *FileKeystore) Get(did string) (ed25519.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, err := os.ReadFile(k.path(did))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNoKey
		}
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: corrupt key file for %s", did)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// MemoryKeystore 进程内 keystore。
type MemoryKeystore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{keys: make(map[string]ed25519.PrivateKey)}
}

func (k *MemoryKeystore) Put(did string, key ed25519.PrivateKey) error {
	k.mu.Lock()
	k.keys[did] = key
	k.mu.Unlock()
	return nil
}

func (k *MemoryKeystore) Get(did string) (ed25519.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[did]
	if !ok {
		return nil, errNoKey
	}
	return key, nil
}
