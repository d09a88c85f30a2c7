package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	keyspace "stylist-server/modules/common/redis"
)

// INCR 와 윈도우 TTL 설정을 한 번에 (TTL 없는 카운터도 여기서 복구)
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("TTL", KEYS[1]) == -1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// GlobalScope - 사용자 구분 없는 전체 카운터
const GlobalScope = "global"

// Result - 사용량 체크 결과
type Result struct {
	Allowed      bool   `json:"allowed"`
	CurrentCount int64  `json:"currentCount"`
	Message      string `json:"message,omitempty"`
}

// Err - 거부된 경우 model.ErrLimitExceeded 로 감싼 에러, 허용이면 nil
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrLimitExceeded, r.Message)
}

// Limiter - 유료 생성 API 호출 수 제한 (24시간 고정 윈도우)
type Limiter struct {
	rdb           *redis.Client
	maxOperations int64
}

// NewLimiter - Limiter 생성
func NewLimiter(rdb *redis.Client, maxOperations int) *Limiter {
	return &Limiter{rdb: rdb, maxOperations: int64(maxOperations)}
}

// CheckAndIncrementLimit - 카운터를 무조건 증가시키고 허용 여부 반환
// 초과해도 롤백하지 않음. 저장소 오류는 거부로 처리
func (l *Limiter) CheckAndIncrementLimit(ctx context.Context, scope string) Result {
	log := logger.For("ratelimit")
	if scope == "" {
		scope = GlobalScope
	}
	key := keyspace.UsageKeys.Key(scope)

	ttl := int64(keyspace.UsageKeys.TTL.Seconds())
	count, err := incrScript.Run(ctx, l.rdb, []string{key}, ttl).Int64()
	if err != nil {
		log.Error().Err(err).Msgf("❌ [RateLimit] INCR failed for %s", key)
		return Result{Allowed: false, Message: "usage limit check unavailable"}
	}

	if count > l.maxOperations {
		log.Warn().Msgf("🚫 [RateLimit] %s over budget: %d/%d", scope, count, l.maxOperations)
		return Result{
			Allowed:      false,
			CurrentCount: count,
			Message:      fmt.Sprintf("daily generation limit reached (%d/%d)", count, l.maxOperations),
		}
	}

	return Result{Allowed: true, CurrentCount: count}
}
