package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/utils"
)

const (
	klingProviderName = "kling"
	klingTryOnPath    = "/v1/images/kolors-virtual-try-on"
	klingTryOnModel   = "kolors-virtual-try-on-v1-5"
)

type KlingOptions struct {
	AccessKey    string
	SecretKey    string
	APIURL       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxAttempts  int
	// 설정되면 Kling 임시 URL 결과를 Storage 로 다시 올림
	Uploader Uploader
}

// KlingTryOnGenerator - tryon 모드: Kling virtual try-on 태스크 생성 후 폴링
type KlingTryOnGenerator struct {
	accessKey    string
	secretKey    string
	apiURL       string
	client       *http.Client
	pollInterval time.Duration
	maxAttempts  int
	uploader     Uploader
}

type klingTryOnRequest struct {
	ModelName  string `json:"model_name"`
	HumanImage string `json:"human_image"`
	ClothImage string `json:"cloth_image"`
}

type klingTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Images []struct {
				Index int    `json:"index"`
				URL   string `json:"url"`
			} `json:"images"`
		} `json:"task_result"`
	} `json:"data"`
}

func NewKlingTryOnGenerator(opts KlingOptions) *KlingTryOnGenerator {
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.klingai.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 60
	}
	return &KlingTryOnGenerator{
		accessKey:    opts.AccessKey,
		secretKey:    opts.SecretKey,
		apiURL:       apiURL,
		client:       client,
		pollInterval: interval,
		maxAttempts:  attempts,
		uploader:     opts.Uploader,
	}
}

// generateJWT - Kling AI JWT (HS256, 30분 유효)
func (k *KlingTryOnGenerator) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    k.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Minute)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(k.secretKey))
}

func (k *KlingTryOnGenerator) GenerateFinalImages(ctx context.Context, req ImageRequest) (*FinalImages, error) {
	if req.GarmentImage == "" {
		return nil, providerError(klingProviderName, fmt.Errorf("garment image is required"))
	}

	taskID, err := k.createTask(ctx, req)
	if err != nil {
		return nil, providerError(klingProviderName, err)
	}

	urls, err := k.waitForCompletion(ctx, taskID)
	if err != nil {
		return nil, providerError(klingProviderName, err)
	}

	if k.uploader != nil {
		urls, err = k.rehost(ctx, req, urls)
		if err != nil {
			return nil, providerError(klingProviderName, err)
		}
	}

	return &FinalImages{Prompt: BuildFinalPrompt(req), URLs: urls}, nil
}

func (k *KlingTryOnGenerator) createTask(ctx context.Context, req ImageRequest) (string, error) {
	body, err := json.Marshal(klingTryOnRequest{
		ModelName:  klingTryOnModel,
		HumanImage: klingImage(req.HumanImage),
		ClothImage: klingImage(req.GarmentImage),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	result, err := k.do(ctx, http.MethodPost, k.apiURL+klingTryOnPath, body)
	if err != nil {
		return "", err
	}

	log := logger.For("kling")
	log.Info().Msgf("🚀 [Kling] Try-on task created: %s (job %s, suggestion %d)", result.Data.TaskID, req.JobID, req.Index)
	return result.Data.TaskID, nil
}

func (k *KlingTryOnGenerator) waitForCompletion(ctx context.Context, taskID string) ([]string, error) {
	log := logger.For("kling")
	statusURL := fmt.Sprintf("%s%s/%s", k.apiURL, klingTryOnPath, taskID)

	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		result, err := k.do(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Msgf("⚠️ [Kling] Attempt %d: Failed to get status: %v", attempt, err)
		} else {
			switch result.Data.TaskStatus {
			case "succeed":
				var urls []string
				for _, img := range result.Data.TaskResult.Images {
					if img.URL != "" {
						urls = append(urls, img.URL)
					}
				}
				if len(urls) == 0 {
					return nil, fmt.Errorf("task %s succeeded without images", taskID)
				}
				log.Info().Msgf("✅ [Kling] Task %s completed with %d images", taskID, len(urls))
				return urls, nil
			case "failed":
				return nil, fmt.Errorf("task failed: %s", result.Data.TaskStatusMsg)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.pollInterval):
		}
	}

	return nil, fmt.Errorf("timeout waiting for task completion after %d attempts", k.maxAttempts)
}

func (k *KlingTryOnGenerator) do(ctx context.Context, method, url string, body []byte) (*klingTaskResponse, error) {
	token, err := k.generateJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result klingTaskResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("API error code %d: %s", result.Code, result.Message)
	}
	return &result, nil
}

func (k *KlingTryOnGenerator) rehost(ctx context.Context, req ImageRequest, urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		data, err := utils.LoadImage(ctx, k.client, u)
		if err != nil {
			return nil, fmt.Errorf("download result: %w", err)
		}
		stored, err := k.uploader.UploadImage(ctx, data, resultDir(req))
		if err != nil {
			return nil, fmt.Errorf("upload result: %w", err)
		}
		out = append(out, stored)
	}
	return out, nil
}

// klingImage - Kling 은 URL 또는 prefix 없는 base64 를 받음
func klingImage(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "data:") {
		if comma := strings.Index(ref, ","); comma >= 0 {
			return ref[comma+1:]
		}
	}
	return ref
}
