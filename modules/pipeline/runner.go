package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stylist-server/modules/common/cancel"
	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	"stylist-server/modules/job"
	"stylist-server/modules/provider"
)

// 결과 커밋용 타임아웃 (provider 타임아웃과 별개)
const commitTimeout = 10 * time.Second

// Options - Runner 설정
type Options struct {
	ProviderTimeout time.Duration
	SuggestionCount int
}

// Stats - /metrics 노출용 카운터
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	InFlight   int64 `json:"inFlight"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Discarded  int64 `json:"discarded"`
}

// Runner - 요청 수명과 분리된 goroutine 에서 파이프라인 단계를 실행
type Runner struct {
	machine   *job.Machine
	suggester provider.Suggester
	images    provider.ImageGenerator
	opts      Options

	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup

	// closed 확인과 wg.Add 는 mu 안에서 (Shutdown 의 Wait 이후 Add 금지)
	mu     sync.Mutex
	closed bool

	dispatched atomic.Int64
	inFlight   atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	discarded  atomic.Int64
}

// NewRunner - Runner 생성 (ProviderTimeout 기본 30초)
func NewRunner(machine *job.Machine, suggester provider.Suggester, images provider.ImageGenerator, opts Options) *Runner {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	ctx, abort := context.WithCancel(context.Background())
	return &Runner{
		machine:   machine,
		suggester: suggester,
		images:    images,
		opts:      opts,
		baseCtx:   ctx,
		abort:     abort,
	}
}

// Dispatch - suggestions[index] 이미지 단계를 백그라운드로 실행 (호출자는 기다리지 않음)
// 호출 전에 suggestion 이 generating_images 로 전이되어 있어야 함
func (r *Runner) Dispatch(jobID string, index int) {
	r.spawn(fmt.Sprintf("image %s#%d", jobID, index), func(ctx context.Context) error {
		return r.RunImageStage(ctx, jobID, index)
	}, func(ctx context.Context, reason string) {
		_, _ = r.machine.FailSuggestion(ctx, jobID, index, reason)
	})
}

// DispatchSuggestions - 스타일 제안 단계를 백그라운드로 실행
// 호출 전에 Job 이 generating_suggestions 로 전이되어 있어야 함
func (r *Runner) DispatchSuggestions(jobID string) {
	r.spawn(fmt.Sprintf("suggestions %s", jobID), func(ctx context.Context) error {
		return r.RunSuggestionStage(ctx, jobID)
	}, func(ctx context.Context, reason string) {
		_, _ = r.machine.FailJob(ctx, jobID, reason)
	})
}

func (r *Runner) spawn(name string, run func(context.Context) error, onPanic func(context.Context, string)) {
	log := logger.For("pipeline")
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Warn().Msgf("⚠️ [Pipeline] Shutting down, dropped %s (reaper will recover it)", name)
		return
	}
	r.dispatched.Add(1)
	r.inFlight.Add(1)
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.inFlight.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Msgf("💥 [Pipeline] Panic in %s: %v", name, rec)
				r.failed.Add(1)
				ctx, cancelCommit := context.WithTimeout(r.baseCtx, commitTimeout)
				defer cancelCommit()
				onPanic(ctx, "internal error")
			}
		}()

		if err := run(r.baseCtx); err != nil {
			log.Error().Err(err).Msgf("❌ [Pipeline] %s failed to commit", name)
		}
	}()
}

// RunImageStage - 이미지 단계 동기 실행
// 취소됐거나 generating_images 가 아니면 조용히 no-op
func (r *Runner) RunImageStage(ctx context.Context, jobID string, index int) error {
	log := logger.For("pipeline")

	current, err := r.machine.Get(ctx, jobID)
	if err != nil {
		return err
	}
	s, ok := current.Suggestion(index)
	if current.Cancelled || !ok || s.Status != model.SuggestionStatusGeneratingImages {
		r.discarded.Add(1)
		return nil
	}
	if cancel.CheckBeforeGeneration(ctx, r.machine, jobID, index) {
		r.discarded.Add(1)
		return nil
	}

	req := provider.ImageRequest{
		JobID:        jobID,
		Index:        index,
		Mode:         current.Input.GenerationMode,
		HumanImage:   current.Input.HumanImage,
		GarmentImage: current.Input.GarmentImage,
		AspectRatio:  current.Input.AspectRatio,
		Style:        s.StyleSuggestion,
	}

	started := time.Now()
	callCtx, cancelCall := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	result, genErr := r.images.GenerateFinalImages(callCtx, req)
	cancelCall()

	commitCtx, cancelCommit := context.WithTimeout(ctx, commitTimeout)
	defer cancelCommit()

	if genErr != nil {
		if errors.Is(genErr, context.DeadlineExceeded) {
			genErr = fmt.Errorf("%w: generation timed out after %s", model.ErrProvider, r.opts.ProviderTimeout)
		}
		log.Warn().Msgf("⚠️ [Pipeline] Job %s suggestion %d failed: %v", jobID, index, genErr)
		_, err := r.machine.FailSuggestion(commitCtx, jobID, index, genErr.Error())
		return r.settle(err, false)
	}

	if cancel.CheckAfterGeneration(commitCtx, r.machine, jobID, index) {
		r.discarded.Add(1)
		return nil
	}

	_, err = r.machine.CompleteSuggestion(commitCtx, jobID, index, result.Prompt, result.URLs)
	if err == nil {
		log.Info().Msgf("✅ [Pipeline] Job %s suggestion %d done in %s (%d images)", jobID, index, time.Since(started).Round(time.Millisecond), len(result.URLs))
	}
	return r.settle(err, true)
}

// RunSuggestionStage - 스타일 제안 단계 동기 실행
func (r *Runner) RunSuggestionStage(ctx context.Context, jobID string) error {
	log := logger.For("pipeline")

	current, err := r.machine.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Cancelled || current.Status != model.JobStatusGeneratingSuggestions || len(current.Suggestions) > 0 {
		r.discarded.Add(1)
		return nil
	}
	if cancel.CheckBeforeSuggestions(ctx, r.machine, jobID) {
		r.discarded.Add(1)
		return nil
	}

	callCtx, cancelCall := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	styles, genErr := r.suggester.GenerateStyleSuggestions(callCtx, provider.SuggestionRequest{
		JobID: jobID,
		Input: current.Input,
		Count: r.opts.SuggestionCount,
	})
	cancelCall()

	commitCtx, cancelCommit := context.WithTimeout(ctx, commitTimeout)
	defer cancelCommit()

	if genErr != nil {
		log.Warn().Msgf("⚠️ [Pipeline] Job %s suggestion stage failed: %v", jobID, genErr)
		_, err := r.machine.FailJob(commitCtx, jobID, genErr.Error())
		return r.settle(err, false)
	}

	_, err = r.machine.SetSuggestions(commitCtx, jobID, styles)
	if err == nil {
		log.Info().Msgf("✅ [Pipeline] Job %s has %d suggestions", jobID, len(styles))
	}
	return r.settle(err, true)
}

// settle - 커밋 결과를 카운터에 반영. 취소/경쟁으로 버려진 결과는 에러가 아님
func (r *Runner) settle(err error, success bool) error {
	switch {
	case err == nil && success:
		r.succeeded.Add(1)
		return nil
	case err == nil:
		r.failed.Add(1)
		return nil
	case errors.Is(err, model.ErrCancelled), errors.Is(err, model.ErrAlreadyInProgress), errors.Is(err, model.ErrAlreadyTerminal):
		r.discarded.Add(1)
		return nil
	default:
		return err
	}
}

// Stats - 현재 카운터 스냅샷
func (r *Runner) Stats() Stats {
	return Stats{
		Dispatched: r.dispatched.Load(),
		InFlight:   r.inFlight.Load(),
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Discarded:  r.discarded.Load(),
	}
}

// Wait - 실행 중인 단계가 모두 끝날 때까지 대기
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown - 새 dispatch 를 막고 실행 중인 단계를 기다림
// ctx 가 먼저 끝나면 진행 중인 provider 호출을 중단
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.abort()
		return nil
	case <-ctx.Done():
		r.abort()
		<-done
		return ctx.Err()
	}
}
