package tryon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"stylist-server/modules/common/lock"
	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	"stylist-server/modules/common/ratelimit"
	"stylist-server/modules/common/response"
	"stylist-server/modules/common/utils"
	"stylist-server/modules/provider"
)

const (
	featureTryOn   = "tryon"
	featureCollage = "collage"
	maxCollage     = 9
)

// Limiter - 유료 생성 호출 사용량 가드
type Limiter interface {
	CheckAndIncrementLimit(ctx context.Context, scope string) ratelimit.Result
}

// Handler - 멱등 키 락으로 중복 실행을 막는 try-on / collage API
type Handler struct {
	locker     *lock.Locker
	limiter    Limiter
	tryOn      provider.ImageGenerator
	uploader   provider.Uploader
	httpClient *http.Client
	timeout    time.Duration
}

// NewHandler - 핸들러 생성
func NewHandler(locker *lock.Locker, limiter Limiter, tryOn provider.ImageGenerator, uploader provider.Uploader, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		locker:     locker,
		limiter:    limiter,
		tryOn:      tryOn,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tryon", h.TryOn).Methods(http.MethodPost)
	r.HandleFunc("/collage", h.Collage).Methods(http.MethodPost)

	log := logger.For("tryon")
	log.Info().Msg("✅ [TryOn] Routes registered: POST /tryon, POST /collage")
}

// TryOnRequest - 단건 virtual try-on
type TryOnRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	UserID         string `json:"userId"`
	HumanImage     string `json:"humanImage"`
	GarmentImage   string `json:"garmentImage"`
}

// CollageRequest - 여러 이미지를 grid 로 합침
type CollageRequest struct {
	IdempotencyKey string   `json:"idempotencyKey"`
	Images         []string `json:"images"`
	AspectRatio    string   `json:"aspectRatio"`
}

// Result - 생성 결과
type Result struct {
	Success   bool     `json:"success"`
	ImageURLs []string `json:"imageUrls"`
}

// TryOn - POST /tryon
func (h *Handler) TryOn(w http.ResponseWriter, r *http.Request) {
	var req TryOnRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" || req.HumanImage == "" || req.GarmentImage == "" {
		response.WriteMessage(w, http.StatusBadRequest, "idempotencyKey, humanImage and garmentImage are required")
		return
	}

	release, ok := h.acquire(w, r, featureTryOn, req.IdempotencyKey)
	if !ok {
		return
	}
	defer release()

	if res := h.limiter.CheckAndIncrementLimit(r.Context(), req.UserID); !res.Allowed {
		response.WriteError(w, r, res.Err())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out, err := h.tryOn.GenerateFinalImages(ctx, provider.ImageRequest{
		JobID:        "tryon-" + req.IdempotencyKey,
		Mode:         model.GenerationModeTryOn,
		HumanImage:   req.HumanImage,
		GarmentImage: req.GarmentImage,
		Style:        model.StyleSuggestion{Explanation: "virtual try-on"},
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, Result{Success: true, ImageURLs: out.URLs})
}

// Collage - POST /collage
func (h *Handler) Collage(w http.ResponseWriter, r *http.Request) {
	var req CollageRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" || len(req.Images) == 0 {
		response.WriteMessage(w, http.StatusBadRequest, "idempotencyKey and images are required")
		return
	}
	if len(req.Images) > maxCollage {
		response.WriteMessage(w, http.StatusBadRequest, fmt.Sprintf("at most %d images", maxCollage))
		return
	}

	release, ok := h.acquire(w, r, featureCollage, req.IdempotencyKey)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	images := make([][]byte, 0, len(req.Images))
	for i, ref := range req.Images {
		data, err := utils.LoadImage(ctx, h.httpClient, ref)
		if err != nil {
			response.WriteMessage(w, http.StatusBadRequest, fmt.Sprintf("image %d: %v", i, err))
			return
		}
		images = append(images, data)
	}

	merged, err := utils.MergeImages(images, req.AspectRatio)
	if err != nil {
		response.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	url, err := h.uploader.UploadImage(ctx, merged, "collages/"+req.IdempotencyKey)
	if err != nil {
		response.WriteError(w, r, fmt.Errorf("%w: %v", model.ErrStorage, err))
		return
	}

	response.WriteJSON(w, http.StatusOK, Result{Success: true, ImageURLs: []string{url}})
}

// acquire - 락 획득. 이미 잡혀 있으면 429 응답 후 false
func (h *Handler) acquire(w http.ResponseWriter, r *http.Request, feature, key string) (func(), bool) {
	lk, err := h.locker.Acquire(r.Context(), feature, key)
	if err != nil {
		if errors.Is(err, model.ErrLocked) {
			response.WriteMessage(w, http.StatusTooManyRequests, "already in progress")
		} else {
			response.WriteError(w, r, err)
		}
		return nil, false
	}
	return func() { lk.Release(context.WithoutCancel(r.Context())) }, true
}
