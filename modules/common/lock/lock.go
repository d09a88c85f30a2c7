package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	keyspace "stylist-server/modules/common/redis"
)

// 값이 일치할 때만 삭제 (만료 후 다른 holder가 다시 잡은 락은 건드리지 않음)
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker - 부수효과 생성 호출(collage, try-on) 중복 방지 락
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

// Lock - 획득한 락
type Lock struct {
	rdb   *redis.Client
	Key   string
	value string
}

// NewLocker - Locker 생성 (ttl <= 0 이면 300초)
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// Acquire - <feature>:lock:<id> 를 SET NX 로 획득
// 이미 잡혀 있으면 model.ErrLocked
func (l *Locker) Acquire(ctx context.Context, feature, id string) (*Lock, error) {
	class := keyspace.LockKeys(feature, l.ttl)
	key := class.Key(id)
	value := strconv.FormatInt(model.NowMillis(), 10)

	ok, err := l.rdb.SetNX(ctx, key, value, class.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire %s: %v", model.ErrStorage, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrLocked, key)
	}

	log := logger.For("lock")
	log.Debug().Msgf("🔒 [Lock] Acquired %s (ttl: %s)", key, class.TTL)
	return &Lock{rdb: l.rdb, Key: key, value: value}, nil
}

// Release - 락 해제. 실패해도 TTL 만료로 복구됨
func (lk *Lock) Release(ctx context.Context) {
	if lk == nil {
		return
	}
	log := logger.For("lock")
	if err := releaseScript.Run(ctx, lk.rdb, []string{lk.Key}, lk.value).Err(); err != nil {
		log.Warn().Err(err).Msgf("⚠️ [Lock] Failed to release %s, waiting for TTL", lk.Key)
		return
	}
	log.Debug().Msgf("🔓 [Lock] Released %s", lk.Key)
}
