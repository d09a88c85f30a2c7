package provider

import (
	"context"
	"fmt"
	"strings"

	"stylist-server/modules/common/model"
)

// SuggestionRequest - 스타일 제안 요청
type SuggestionRequest struct {
	JobID string
	Input model.JobInput
	Count int
}

// ImageRequest - 하나의 suggestion에 대한 최종 이미지 요청
type ImageRequest struct {
	JobID        string
	Index        int
	Mode         string
	HumanImage   string
	GarmentImage string
	AspectRatio  string
	Style        model.StyleSuggestion
}

// FinalImages - 이미지 생성 결과
type FinalImages struct {
	Prompt string
	URLs   []string
}

// Suggester - 스타일 제안 provider
type Suggester interface {
	GenerateStyleSuggestions(ctx context.Context, req SuggestionRequest) ([]model.StyleSuggestion, error)
}

// ImageGenerator - 최종 이미지 provider
type ImageGenerator interface {
	GenerateFinalImages(ctx context.Context, req ImageRequest) (*FinalImages, error)
}

// Uploader - 생성된 이미지를 공개 URL로 저장
type Uploader interface {
	UploadImage(ctx context.Context, imageData []byte, dir string) (string, error)
}

// 기본 제안 개수
const defaultSuggestionCount = 3

func providerError(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrProvider, name, err)
}

// BuildFinalPrompt - suggestion 스타일로 이미지 프롬프트 구성
func BuildFinalPrompt(req ImageRequest) string {
	var b strings.Builder
	b.WriteString("[FASHION EDITORIAL RESTYLE]\n")
	b.WriteString("Restyle the person in the first image wearing the outfit described below.\n")
	b.WriteString("• ONLY ONE PERSON - the same person, face and identity unchanged\n")
	b.WriteString("• Natural body proportions are preserved, NO distortion\n")
	b.WriteString("• FULL BODY SHOT - head to toe, both feet and shoes in frame\n")
	b.WriteString("• Keep the pose and background; photorealistic editorial lighting\n\n")
	if req.Style.Title != "" {
		fmt.Fprintf(&b, "Look: %s\n", req.Style.Title)
	}
	if len(req.Style.Items) > 0 {
		fmt.Fprintf(&b, "Items: %s\n", strings.Join(req.Style.Items, ", "))
	}
	fmt.Fprintf(&b, "Styling: %s\n", req.Style.Explanation)
	if req.Style.Prompt != "" {
		fmt.Fprintf(&b, "Details: %s\n", req.Style.Prompt)
	}
	if req.GarmentImage != "" {
		b.WriteString("The second image is a garment that must be part of the outfit.\n")
	}
	if req.AspectRatio != "" {
		fmt.Fprintf(&b, "Aspect ratio: %s\n", req.AspectRatio)
	}
	return b.String()
}

func resultDir(req ImageRequest) string {
	return fmt.Sprintf("jobs/%s/%d", req.JobID, req.Index)
}
