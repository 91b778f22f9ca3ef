package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript はトークンが一致する場合のみキーを削除する。
// TTL切れ後に他のプロセスが取得したロックを誤って解放しないようにする。
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker はRedisのSET NX PXを使用した分散Locker実装。
// 複数インスタンス構成でも同一キーの排他を保証する。
type RedisLocker struct {
	client       *redis.Client
	logger       *slog.Logger
	ttl          time.Duration // 保持者が異常終了した場合の自動解放時間
	pollInterval time.Duration
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:       client,
		logger:       logger,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

// Lock はkeyのロックを取得するまでポーリングする。
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// 呼び出し元のctxがキャンセル済みでも解放できるよう独立したctxを使う
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

// compile-time interface check
var _ Locker = (*RedisLocker)(nil)
