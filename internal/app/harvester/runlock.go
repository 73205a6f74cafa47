package harvester

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

const runLockKey = "rate-harvester:run-lock"

// releaseScript deletes the lock only if the caller still owns it, so a
// run that outlived its lease cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RunLock is the process-wide single-flight lease for harvest runs, backed
// by redis so it survives process restarts and expires on its own if the
// holder crashes. The token identifies the owner.
type RunLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRunLock(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{rdb: rdb, ttl: ttl, logger: logger}
}

// Acquire takes the lease and returns the owner token, or
// model.ErrRunInProgress if another run holds it.
func (l *RunLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, runLockKey, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return "", model.ErrRunInProgress
	}
	l.logger.Debug("acquired run lock", zap.String("token", token))
	return token, nil
}

// Release frees the lease if the token still owns it.
func (l *RunLock) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{runLockKey}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if n == 0 {
		l.logger.Warn("run lock was no longer owned on release, lease likely expired",
			zap.String("token", token))
	}
	return nil
}
