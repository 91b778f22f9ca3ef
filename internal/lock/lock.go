// Package lock はキー単位の排他制御を提供する。
// 同一ユーザーの同時チェックアウトで決済事業者側の顧客が二重作成されないよう、
// 顧客作成からIDのキャッシュまでをユーザーIDをキーとしたロックで囲む。
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired は待機時間内にロックを取得できなかった場合のエラー。
var ErrNotAcquired = errors.New("lock not acquired")

// Locker はキー単位の排他ロック。
type Locker interface {
	// Lock はkeyのロックを取得するまで待機し、解放関数を返す。
	// ctxがキャンセルされた場合はエラーを返す。
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// keyedEntry はキーごとのロック状態。refsが0になったらマップから削除する。
type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker はプロセス内のLocker実装。単一インスタンス構成で使用する。
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewLocalLocker はLocalLockerを生成する。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*keyedEntry)}
}

// Lock はkeyのロックを取得する。
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) release(key string, entry *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// size は保持しているキーの数を返す。
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// compile-time interface check
var _ Locker = (*LocalLocker)(nil)
