package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"stylist-server/modules/common/gemini"
	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/utils"
)

const geminiProviderName = "gemini"

// ContentGenerator - gemini.Retrier 가 만족하는 최소 인터페이스
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiImageGenerator - stylize 모드: Gemini 이미지 모델로 스타일 적용 후 Storage 업로드
type GeminiImageGenerator struct {
	gen        ContentGenerator
	uploader   Uploader
	httpClient *http.Client
}

// NewGeminiImageGenerator - 생성자
func NewGeminiImageGenerator(apiKeys []string, modelName string, uploader Uploader) *GeminiImageGenerator {
	return &GeminiImageGenerator{
		gen:        gemini.NewRetrier(apiKeys, modelName),
		uploader:   uploader,
		httpClient: &http.Client{},
	}
}

// WithContentGenerator - Gemini 호출부 교체
func (g *GeminiImageGenerator) WithContentGenerator(gen ContentGenerator) *GeminiImageGenerator {
	g.gen = gen
	return g
}

func (g *GeminiImageGenerator) GenerateFinalImages(ctx context.Context, req ImageRequest) (*FinalImages, error) {
	log := logger.For("gemini")

	human, err := utils.LoadImage(ctx, g.httpClient, req.HumanImage)
	if err != nil {
		return nil, providerError(geminiProviderName, fmt.Errorf("human image: %w", err))
	}

	prompt := BuildFinalPrompt(req)
	parts := []genai.Part{genai.Text(prompt), genai.ImageData(imageFormat(human), human)}

	if req.GarmentImage != "" {
		garment, err := utils.LoadImage(ctx, g.httpClient, req.GarmentImage)
		if err != nil {
			return nil, providerError(geminiProviderName, fmt.Errorf("garment image: %w", err))
		}
		parts = append(parts, genai.ImageData(imageFormat(garment), garment))
	}

	log.Info().Msgf("🎨 [Gemini] Generating job %s suggestion %d", req.JobID, req.Index)
	resp, err := g.gen.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, providerError(geminiProviderName, err)
	}

	imageData, _, err := gemini.FirstImage(resp)
	if err != nil {
		return nil, providerError(geminiProviderName, err)
	}

	url, err := g.uploader.UploadImage(ctx, imageData, resultDir(req))
	if err != nil {
		return nil, providerError(geminiProviderName, fmt.Errorf("upload: %w", err))
	}

	return &FinalImages{Prompt: prompt, URLs: []string{url}}, nil
}

// imageFormat - genai.ImageData 용 포맷 ("jpeg", "png", "webp")
func imageFormat(data []byte) string {
	mime := utils.DetectMimeType(data)
	if format, ok := strings.CutPrefix(mime, "image/"); ok {
		return format
	}
	return "jpeg"
}
