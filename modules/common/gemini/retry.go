package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"stylist-server/modules/common/logger"
)

// Caller - 단일 API 키로 GenerateContent 호출
type Caller func(ctx context.Context, apiKey, model string, parts []genai.Part) (*genai.GenerateContentResponse, error)

// Retrier - 429 에러 시 여러 API 키로 재시도
type Retrier struct {
	APIKeys          []string
	Model            string
	Call             Caller
	MaxRetriesPerKey int
	Wait             time.Duration
}

// NewRetrier - 기본 설정 (키당 3회, 2초 대기)
func NewRetrier(apiKeys []string, model string) *Retrier {
	return &Retrier{
		APIKeys:          apiKeys,
		Model:            model,
		Call:             callGemini,
		MaxRetriesPerKey: 3,
		Wait:             2 * time.Second,
	}
}

func callGemini(ctx context.Context, apiKey, model string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	return client.GenerativeModel(model).GenerateContent(ctx, parts...)
}

// GenerateContent - 키 순서대로 시도. 429 가 아닌 에러는 바로 반환
func (r *Retrier) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if len(r.APIKeys) == 0 {
		return nil, fmt.Errorf("no API keys provided")
	}
	log := logger.For("gemini")

	var lastErr error
	for keyIndex, apiKey := range r.APIKeys {
		for attempt := 1; attempt <= r.MaxRetriesPerKey; attempt++ {
			result, err := r.Call(ctx, apiKey, r.Model, parts)
			if err == nil {
				log.Debug().Msgf("✅ [Gemini Retry] Success with API key #%d (attempt %d/%d)", keyIndex+1, attempt, r.MaxRetriesPerKey)
				return result, nil
			}
			lastErr = err

			if !Is429Error(err) {
				log.Warn().Msgf("❌ [Gemini Retry] Key #%d failed with non-429 error: %v", keyIndex+1, err)
				return nil, err
			}

			log.Warn().Msgf("⚠️  [Gemini Retry] Key #%d hit rate limit (429) on attempt %d/%d", keyIndex+1, attempt, r.MaxRetriesPerKey)
			if attempt < r.MaxRetriesPerKey {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(r.Wait):
				}
			}
		}
		log.Warn().Msgf("⚠️  [Gemini Retry] Key #%d exhausted all %d attempts, trying next key...", keyIndex+1, r.MaxRetriesPerKey)
	}

	return nil, fmt.Errorf("all %d API keys exhausted (%d attempts each), last error: %w", len(r.APIKeys), r.MaxRetriesPerKey, lastErr)
}

// Is429Error - 429 Rate Limit 에러인지 확인
func Is429Error(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota")
}

// FirstImage - 응답에서 첫 번째 이미지 Blob 추출
func FirstImage(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil {
		return nil, "", fmt.Errorf("empty response")
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && strings.HasPrefix(blob.MIMEType, "image/") && len(blob.Data) > 0 {
				return blob.Data, blob.MIMEType, nil
			}
		}
	}
	return nil, "", fmt.Errorf("no image in response")
}
