package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
)

// CreateRequest - Job 생성 요청 (온보딩 완료)
type CreateRequest struct {
	UserID string
	Input  model.JobInput
	// 이미 받은 스타일 제안이 있으면 suggestion 단계를 건너뜀
	Suggestions []model.StyleSuggestion
}

// Machine - Job/Suggestion 상태 전이의 유일한 writer
type Machine struct {
	store *Store
}

// NewMachine - Machine 생성
func NewMachine(store *Store) *Machine {
	return &Machine{store: store}
}

// Store - 하위 저장소
func (m *Machine) Store() *Store {
	return m.store
}

// Get - Job 조회 (부수효과 없음)
func (m *Machine) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return m.store.Get(ctx, jobID)
}

// CreateJob - 입력 검증 후 pending Job 저장. 검증 실패 시 아무것도 쓰지 않음
func (m *Machine) CreateJob(ctx context.Context, req CreateRequest) (*model.Job, error) {
	input, err := NormalizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	now := model.NowMillis()
	job := &model.Job{
		JobID:       uuid.NewString(),
		UserID:      req.UserID,
		Status:      model.JobStatusPending,
		Suggestions: []model.Suggestion{},
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Suggestions) > 0 {
		for i, s := range req.Suggestions {
			if strings.TrimSpace(s.Explanation) == "" {
				return nil, fmt.Errorf("%w: suggestion %d has no explanation", model.ErrValidation, i)
			}
		}
		job.Status = model.JobStatusGeneratingSuggestions
		job.Suggestions = model.NewSuggestions(req.Suggestions)
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	log := logger.For("job")
	log.Info().Msgf("✅ [Job] Created %s (user: %s, mode: %s, suggestions: %d)",
		job.JobID, job.UserID, input.GenerationMode, len(job.Suggestions))
	return job, nil
}

// NormalizeInput - 입력 정리 + 검증 (기본 generationMode: stylize)
func NormalizeInput(in model.JobInput) (model.JobInput, error) {
	in.HumanImage = strings.TrimSpace(in.HumanImage)
	in.GarmentImage = strings.TrimSpace(in.GarmentImage)
	if in.GenerationMode == "" {
		in.GenerationMode = model.GenerationModeStylize
	}

	switch in.GenerationMode {
	case model.GenerationModeStylize, model.GenerationModeTryOn:
	default:
		return in, fmt.Errorf("%w: unknown generationMode %q", model.ErrValidation, in.GenerationMode)
	}
	if in.HumanImage == "" {
		return in, fmt.Errorf("%w: humanImage is required", model.ErrValidation)
	}
	if in.GenerationMode == model.GenerationModeTryOn && in.GarmentImage == "" {
		return in, fmt.Errorf("%w: garmentImage is required for tryon", model.ErrValidation)
	}
	return in, nil
}

// TransitionJob - Job 상태가 from 일 때만 to 로 변경
// 현재 상태가 다르면 ErrAlreadyInProgress (경쟁에서 진 쪽, 무해한 no-op)
func (m *Machine) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Cancelled {
			return model.ErrCancelled
		}
		if job.Status != from {
			return fmt.Errorf("%w: job is %s", model.ErrAlreadyInProgress, job.Status)
		}
		if !model.CanTransitionJob(from, to) {
			return fmt.Errorf("%w: job %s -> %s", model.ErrIllegalTransition, from, to)
		}
		job.Status = to
		return nil
	})
}

// TransitionSuggestion - suggestions[index] 가 from 일 때만 to 로 변경
func (m *Machine) TransitionSuggestion(ctx context.Context, jobID string, index int, from, to model.SuggestionStatus) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		return applySuggestionTransition(job, index, from, to)
	})
}

// StartSuggestion - 명시적 시작/재시도. pending 또는 failed 에서 generating_images 로
// 끝난 Job(completed/failed)의 실패 suggestion을 재시도하면 Job도 다시 열림
func (m *Machine) StartSuggestion(ctx context.Context, jobID string, index int) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		s, ok := job.Suggestion(index)
		if !ok {
			return fmt.Errorf("%w: suggestionIndex %d out of range (0-%d)", model.ErrValidation, index, len(job.Suggestions)-1)
		}
		switch s.Status {
		case model.SuggestionStatusGeneratingImages:
			return fmt.Errorf("%w: suggestion %d is generating", model.ErrAlreadyInProgress, index)
		case model.SuggestionStatusSucceed:
			return fmt.Errorf("%w: suggestion %d already succeeded", model.ErrAlreadyTerminal, index)
		}
		return applySuggestionTransition(job, index, s.Status, model.SuggestionStatusGeneratingImages)
	})
}

func applySuggestionTransition(job *model.Job, index int, from, to model.SuggestionStatus) error {
	if job.Cancelled {
		return model.ErrCancelled
	}
	s, ok := job.Suggestion(index)
	if !ok {
		return fmt.Errorf("%w: suggestionIndex %d out of range (0-%d)", model.ErrValidation, index, len(job.Suggestions)-1)
	}
	if s.Status != from {
		return fmt.Errorf("%w: suggestion %d is %s", model.ErrAlreadyInProgress, index, s.Status)
	}
	if !model.CanTransitionSuggestion(from, to) {
		return fmt.Errorf("%w: suggestion %s -> %s", model.ErrIllegalTransition, from, to)
	}

	// 재시도로 다시 열리는 경우
	if to == model.SuggestionStatusGeneratingImages && job.Status.IsTerminal() {
		if !model.CanTransitionJob(job.Status, model.JobStatusGeneratingSuggestions) {
			return fmt.Errorf("%w: job %s cannot reopen", model.ErrIllegalTransition, job.Status)
		}
		job.Status = model.JobStatusGeneratingSuggestions
		job.Error = ""
	}

	s.Status = to
	switch to {
	case model.SuggestionStatusGeneratingImages:
		s.StartedAt = model.NowMillis()
		s.Error = ""
		s.FinalImageURLs = nil
		s.FinalPrompt = ""
	case model.SuggestionStatusFailed, model.SuggestionStatusSucceed:
		job.SettleStatus()
	}
	return nil
}

// SetSuggestions - suggestion 단계 결과 기록 (generating_suggestions + 빈 배열일 때만)
func (m *Machine) SetSuggestions(ctx context.Context, jobID string, styles []model.StyleSuggestion) (*model.Job, error) {
	if len(styles) == 0 {
		return nil, fmt.Errorf("%w: no suggestions", model.ErrValidation)
	}
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Cancelled {
			return model.ErrCancelled
		}
		if job.Status != model.JobStatusGeneratingSuggestions || len(job.Suggestions) > 0 {
			return fmt.Errorf("%w: job is %s with %d suggestions", model.ErrAlreadyInProgress, job.Status, len(job.Suggestions))
		}
		job.Suggestions = model.NewSuggestions(styles)
		return nil
	})
}

// FailJob - Job 단위 실패 (suggestion 단계 실패, stuck 감지)
func (m *Machine) FailJob(ctx context.Context, jobID string, message string) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Cancelled {
			return model.ErrCancelled
		}
		if !model.CanTransitionJob(job.Status, model.JobStatusFailed) {
			return fmt.Errorf("%w: job is %s", model.ErrAlreadyTerminal, job.Status)
		}
		job.Status = model.JobStatusFailed
		job.Error = message
		return nil
	})
}

// CompleteSuggestion - 이미지 생성 성공 커밋. 취소된 Job이면 ErrCancelled 로 버림
func (m *Machine) CompleteSuggestion(ctx context.Context, jobID string, index int, finalPrompt string, urls []string) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		if err := applySuggestionTransition(job, index, model.SuggestionStatusGeneratingImages, model.SuggestionStatusSucceed); err != nil {
			return err
		}
		s := &job.Suggestions[index]
		s.FinalPrompt = finalPrompt
		s.FinalImageURLs = urls
		return nil
	})
}

// FailSuggestion - 이미지 생성 실패 커밋 (형제 suggestion은 건드리지 않음)
func (m *Machine) FailSuggestion(ctx context.Context, jobID string, index int, message string) (*model.Job, error) {
	return m.store.Update(ctx, jobID, func(job *model.Job) error {
		if err := applySuggestionTransition(job, index, model.SuggestionStatusGeneratingImages, model.SuggestionStatusFailed); err != nil {
			return err
		}
		job.Suggestions[index].Error = message
		return nil
	})
}

// CancelJob - 진행 중인 Job 취소
func (m *Machine) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := m.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Cancelled || job.Status.IsTerminal() {
			return fmt.Errorf("%w: job is %s", model.ErrAlreadyTerminal, job.Status)
		}
		job.Cancelled = true
		job.Status = model.JobStatusCancelled
		return nil
	})
	if err == nil {
		log := logger.For("job")
		log.Info().Msgf("🛑 [Job] Cancelled %s", jobID)
	}
	return job, err
}

// IsJobCancelled - 파이프라인 취소 체크용. 조회 실패 시 false
func (m *Machine) IsJobCancelled(ctx context.Context, jobID string) bool {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Cancelled
}

// ExpireStuck - startedAt 이 timeout 보다 오래된 generating_images 를 실패 처리
// suggestion 없이 generating_suggestions 에 멈춘 Job도 실패 처리. 변경 개수 반환
func (m *Machine) ExpireStuck(ctx context.Context, jobID string, timeout time.Duration) (int, error) {
	cutoff := model.NowMillis() - timeout.Milliseconds()
	expired := 0

	_, err := m.store.Update(ctx, jobID, func(job *model.Job) error {
		expired = 0
		if job.Cancelled || job.Status.IsTerminal() {
			return errNothingToDo
		}

		if job.Status == model.JobStatusGeneratingSuggestions && len(job.Suggestions) == 0 {
			if job.UpdatedAt < cutoff {
				job.Status = model.JobStatusFailed
				job.Error = "suggestion generation timed out"
				expired = 1
				return nil
			}
			return errNothingToDo
		}

		for i := range job.Suggestions {
			s := &job.Suggestions[i]
			if s.Status == model.SuggestionStatusGeneratingImages && s.StartedAt > 0 && s.StartedAt < cutoff {
				s.Status = model.SuggestionStatusFailed
				s.Error = "generation timed out"
				expired++
			}
		}
		if expired == 0 {
			return errNothingToDo
		}
		job.SettleStatus()
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return 0, nil
	}
	return expired, err
}

var errNothingToDo = errors.New("nothing to do")
