package redis

import (
	"fmt"
	"strings"
	"time"
)

// KeyClass - 키 prefix + TTL 정책 (값 스키마는 각 class 주석 참고)
type KeyClass struct {
	Prefix string
	TTL    time.Duration
}

// Key - prefix:id 형태 키 생성
func (k KeyClass) Key(id string) string {
	return k.Prefix + id
}

// ID - 키에서 prefix 제거
func (k KeyClass) ID(key string) (string, bool) {
	if !strings.HasPrefix(key, k.Prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, k.Prefix), true
}

// Pattern - SCAN 용 패턴
func (k KeyClass) Pattern() string {
	return k.Prefix + "*"
}

var (
	// JobKeys - JSON Job 문서
	JobKeys = KeyClass{Prefix: "job:", TTL: 7 * 24 * time.Hour}

	// JobEventKeys - Job 스냅샷 pub/sub 채널 (TTL 없음)
	JobEventKeys = KeyClass{Prefix: "job:events:"}

	// UsageKeys - 생성 호출 카운터 (INCR, 첫 증가 시에만 TTL)
	UsageKeys = KeyClass{Prefix: "usage:generation:", TTL: 24 * time.Hour}
)

// LockKeys - <feature>:lock:<id>, 값은 획득 시각(ms)
func LockKeys(feature string, ttl time.Duration) KeyClass {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return KeyClass{Prefix: fmt.Sprintf("%s:lock:", feature), TTL: ttl}
}

// IsJobDocumentKey - job:events:* 채널 이름과 Job 문서 키 구분
func IsJobDocumentKey(key string) bool {
	return strings.HasPrefix(key, JobKeys.Prefix) && !strings.HasPrefix(key, JobEventKeys.Prefix)
}
