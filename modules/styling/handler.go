package styling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	"stylist-server/modules/common/ratelimit"
	"stylist-server/modules/common/response"
	"stylist-server/modules/job"
)

// Dispatcher - 파이프라인 단계 실행기 (pipeline.Runner)
type Dispatcher interface {
	Dispatch(jobID string, index int)
	DispatchSuggestions(jobID string)
}

// Limiter - 유료 생성 호출 사용량 가드
type Limiter interface {
	CheckAndIncrementLimit(ctx context.Context, scope string) ratelimit.Result
}

// Handler - 스타일링 Job 생성/폴링/시작/취소 API
type Handler struct {
	machine *job.Machine
	runner  Dispatcher
	limiter Limiter
	polls   singleflight.Group
}

// NewHandler - 핸들러 생성
func NewHandler(machine *job.Machine, runner Dispatcher, limiter Limiter) *Handler {
	return &Handler{machine: machine, runner: runner, limiter: limiter}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/start-image-task", h.StartImageTask).Methods(http.MethodPost)
	r.HandleFunc("/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.CreateJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}", h.GetJob).Methods(http.MethodGet)

	log := logger.For("styling")
	log.Info().Msg("✅ [Styling] Routes registered: GET /status, POST /start-image-task, POST /cancel, POST /jobs, GET /jobs/{jobId}")
}

// CreateJobRequest - 온보딩 완료 요청
type CreateJobRequest struct {
	UserID         string                  `json:"userId"`
	HumanImage     string                  `json:"humanImage"`
	GarmentImage   string                  `json:"garmentImage"`
	Occasion       string                  `json:"occasion"`
	Prompt         string                  `json:"prompt"`
	GenerationMode string                  `json:"generationMode"`
	AspectRatio    string                  `json:"aspectRatio"`
	Suggestions    []model.StyleSuggestion `json:"suggestions,omitempty"`
}

// StartImageTaskRequest - suggestion 이미지 생성 시작/재시도
type StartImageTaskRequest struct {
	JobID           string `json:"jobId"`
	SuggestionIndex *int   `json:"suggestionIndex"`
}

// CancelRequest - Job 취소
type CancelRequest struct {
	JobID string `json:"jobId"`
}

// ActionResponse - 시작/취소 응답
type ActionResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Job     *model.Job `json:"job,omitempty"`
}

// CreateJob - POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}

	// 검증 실패는 사용량을 소모하지 않음
	input, err := job.NormalizeInput(model.JobInput{
		HumanImage:     req.HumanImage,
		GarmentImage:   req.GarmentImage,
		Occasion:       req.Occasion,
		Prompt:         req.Prompt,
		GenerationMode: req.GenerationMode,
		AspectRatio:    req.AspectRatio,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if res := h.limiter.CheckAndIncrementLimit(r.Context(), req.UserID); !res.Allowed {
		response.WriteError(w, r, res.Err())
		return
	}

	created, err := h.machine.CreateJob(r.Context(), job.CreateRequest{
		UserID:      req.UserID,
		Input:       input,
		Suggestions: req.Suggestions,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if created.Status == model.JobStatusPending {
		if updated, err := h.machine.TransitionJob(r.Context(), created.JobID, model.JobStatusPending, model.JobStatusGeneratingSuggestions); err == nil {
			h.runner.DispatchSuggestions(created.JobID)
			created = updated
		}
	}

	response.WriteJSON(w, http.StatusCreated, created)
}

// GetJob - GET /jobs/{jobId} (부수효과 없는 조회)
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	current, err := h.machine.Get(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, current)
}

// Status - GET /status?jobId=
// 다음 단계가 아직 시작되지 않았으면 한 번만 시작하고 최신 스냅샷 반환
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	if jobID == "" {
		response.WriteMessage(w, http.StatusBadRequest, "jobId is required")
		return
	}

	// 같은 jobId 동시 폴링은 한 번의 read-advance 로 합침
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.polls.Do(jobID, func() (any, error) {
		return h.advance(ctx, jobID)
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, v.(*model.Job))
}

func (h *Handler) advance(ctx context.Context, jobID string) (*model.Job, error) {
	log := logger.For("styling")

	current, err := h.machine.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Cancelled || current.Status.IsTerminal() {
		return current, nil
	}

	// suggestion 단계가 시작되지 않은 Job
	if current.Status == model.JobStatusPending {
		updated, err := h.machine.TransitionJob(ctx, jobID, model.JobStatusPending, model.JobStatusGeneratingSuggestions)
		switch {
		case err == nil:
			log.Info().Msgf("🚀 [Styling] Job %s: suggestion stage started by poll", jobID)
			h.runner.DispatchSuggestions(jobID)
			return updated, nil
		case isBenign(err):
			return snapshotOr(updated, current), nil
		default:
			return nil, err
		}
	}

	// 첫 번째 suggestion 만 자동 시작
	if s, ok := current.Suggestion(0); ok && s.Status == model.SuggestionStatusPending {
		updated, err := h.machine.TransitionSuggestion(ctx, jobID, 0, model.SuggestionStatusPending, model.SuggestionStatusGeneratingImages)
		switch {
		case err == nil:
			log.Info().Msgf("🚀 [Styling] Job %s: suggestion 0 started by poll", jobID)
			h.runner.Dispatch(jobID, 0)
			return updated, nil
		case isBenign(err):
			return snapshotOr(updated, current), nil
		default:
			return nil, err
		}
	}

	return current, nil
}

// StartImageTask - POST /start-image-task
func (h *Handler) StartImageTask(w http.ResponseWriter, r *http.Request) {
	var req StartImageTaskRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		response.WriteMessage(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if req.SuggestionIndex == nil || *req.SuggestionIndex < 0 {
		response.WriteMessage(w, http.StatusBadRequest, "suggestionIndex must be a non-negative integer")
		return
	}
	index := *req.SuggestionIndex

	current, err := h.machine.Get(r.Context(), req.JobID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if current.Cancelled {
		response.WriteMessage(w, http.StatusBadRequest, "job is cancelled")
		return
	}
	s, ok := current.Suggestion(index)
	if !ok {
		response.WriteMessage(w, http.StatusBadRequest, fmt.Sprintf("suggestionIndex %d out of range", index))
		return
	}
	switch s.Status {
	case model.SuggestionStatusGeneratingImages:
		response.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "already in progress", Job: current})
		return
	case model.SuggestionStatusSucceed:
		response.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "already completed", Job: current})
		return
	}

	if res := h.limiter.CheckAndIncrementLimit(r.Context(), current.UserID); !res.Allowed {
		response.WriteError(w, r, res.Err())
		return
	}

	updated, err := h.machine.StartSuggestion(r.Context(), req.JobID, index)
	switch {
	case err == nil:
		h.runner.Dispatch(req.JobID, index)
		response.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "started", Job: updated})
	case errors.Is(err, model.ErrAlreadyInProgress), errors.Is(err, model.ErrAlreadyTerminal):
		// 검사와 시작 사이에 다른 요청이 먼저 시작함
		response.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "already in progress", Job: snapshotOr(updated, current)})
	default:
		response.WriteError(w, r, err)
	}
}

// Cancel - POST /cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		response.WriteMessage(w, http.StatusBadRequest, "jobId is required")
		return
	}

	cancelled, err := h.machine.CancelJob(r.Context(), req.JobID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "cancelled", Job: cancelled})
}

// isBenign - 경쟁에서 진 전이 시도 (다른 요청이 먼저 진행시킴)
func isBenign(err error) bool {
	return errors.Is(err, model.ErrAlreadyInProgress) || errors.Is(err, model.ErrCancelled)
}

func snapshotOr(snapshot, fallback *model.Job) *model.Job {
	if snapshot != nil {
		return snapshot
	}
	return fallback
}
