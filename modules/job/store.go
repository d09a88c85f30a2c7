package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stylist-server/modules/common/model"
	keyspace "stylist-server/modules/common/redis"
)

// 동시 갱신 충돌 시 WATCH 재시도 횟수
const maxTxRetries = 8

// Store - job:<jobId> JSON 문서 저장소
// 모든 갱신은 WATCH/MULTI 로 감싸고, 커밋된 스냅샷은 job:events:<jobId> 로 publish
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore - Store 생성 (ttl <= 0 이면 JobKeys 기본값)
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = keyspace.JobKeys.TTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Client - pub/sub 구독용 Redis 클라이언트
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Get - Job 조회
func (s *Store) Get(ctx context.Context, jobID string) (*model.Job, error) {
	raw, err := s.rdb.Get(ctx, keyspace.JobKeys.Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job %s: %v", model.ErrStorage, jobID, err)
	}
	return decodeJob(jobID, raw)
}

// Create - 새 Job 저장. 같은 jobId가 있으면 덮어쓰지 않음
func (s *Store) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := keyspace.JobKeys.Key(job.JobID)
	ok, err := s.rdb.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: create job %s: %v", model.ErrStorage, job.JobID, err)
	}
	if !ok {
		return fmt.Errorf("%w: job %s already exists", model.ErrValidation, job.JobID)
	}

	s.publish(ctx, job.JobID, data)
	return nil
}

// Update - read-modify-write. fn이 에러를 돌려주면 아무것도 쓰지 않음
// 다른 writer가 중간에 커밋하면 처음부터 다시 읽고 fn을 재실행
func (s *Store) Update(ctx context.Context, jobID string, fn func(*model.Job) error) (*model.Job, error) {
	key := keyspace.JobKeys.Key(jobID)

	var (
		current *model.Job
		fnErr   error
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			fnErr = fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
			return fnErr
		}
		if err != nil {
			return err
		}

		job, err := decodeJob(jobID, raw)
		if err != nil {
			return err
		}
		current = job

		if err := fn(job); err != nil {
			fnErr = err
			return err
		}
		job.Touch()

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Publish(ctx, keyspace.JobEventKeys.Key(jobID), data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		fnErr = nil
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return current, nil
		}
		if fnErr != nil {
			// 가드 실패 시에도 호출자가 현재 스냅샷을 볼 수 있도록 반환
			return current, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("%w: update job %s: %v", model.ErrStorage, jobID, err)
	}

	return nil, fmt.Errorf("%w: update job %s: too many concurrent writers", model.ErrStorage, jobID)
}

// ScanJobIDs - job:* 문서 키를 순회 (events 채널 이름은 제외)
func (s *Store) ScanJobIDs(ctx context.Context, fn func(jobID string) error) error {
	iter := s.rdb.Scan(ctx, 0, keyspace.JobKeys.Pattern(), 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !keyspace.IsJobDocumentKey(key) {
			continue
		}
		id, _ := keyspace.JobKeys.ID(key)
		if err := fn(id); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan jobs: %v", model.ErrStorage, err)
	}
	return nil
}

// Subscribe - Job 스냅샷 채널 구독
func (s *Store) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, keyspace.JobEventKeys.Key(jobID))
}

func (s *Store) publish(ctx context.Context, jobID string, data []byte) {
	// 구독자가 없어도 문제 없음
	_ = s.rdb.Publish(ctx, keyspace.JobEventKeys.Key(jobID), data).Err()
}

func decodeJob(jobID string, raw []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: corrupt job %s: %v", model.ErrStorage, jobID, err)
	}
	return &job, nil
}
