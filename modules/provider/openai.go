package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
)

const (
	openAIDefaultTimeout = 30 * time.Second
	defaultOpenAIModel   = "gpt-4o-mini"
	openAIProviderName   = "openai"
)

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAISuggester - OpenAI 호환 chat/completions (vision) 으로 스타일 제안
type OpenAISuggester struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type suggestionPayload struct {
	Suggestions []model.StyleSuggestion `json:"suggestions"`
}

func NewOpenAISuggester(opts OpenAIOptions) (*OpenAISuggester, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelName := strings.TrimSpace(opts.Model)
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAISuggester{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   modelName,
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (o *OpenAISuggester) GenerateStyleSuggestions(ctx context.Context, req SuggestionRequest) ([]model.StyleSuggestion, error) {
	count := req.Count
	if count <= 0 {
		count = defaultSuggestionCount
	}

	parts := []openAIContentPart{{Type: "text", Text: buildSuggestionPrompt(req.Input, count)}}
	if url := imageURLForVision(req.Input.HumanImage); url != "" {
		parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
	}
	if url := imageURLForVision(req.Input.GarmentImage); url != "" {
		parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
	}

	payload := openAIChatRequest{
		Model:          o.model,
		Temperature:    0.7,
		ResponseFormat: &openAIFormat{Type: "json_object"},
		Messages: []openAIMessage{
			{Role: "system", Content: "You are a professional fashion stylist that only responds with valid JSON."},
			{Role: "user", Content: parts},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, providerError(openAIProviderName, err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, providerError(openAIProviderName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, providerError(openAIProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, providerError(openAIProviderName, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, providerError(openAIProviderName, err)
	}
	if len(out.Choices) == 0 {
		return nil, providerError(openAIProviderName, errors.New("no choices"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, providerError(openAIProviderName, errors.New("empty response"))
	}

	suggestions, err := parseSuggestions(text)
	if err != nil {
		return nil, providerError(openAIProviderName, err)
	}
	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}

	log := logger.For("openai")
	log.Info().Msgf("✅ [OpenAI] %d suggestions for job %s", len(suggestions), req.JobID)
	return suggestions, nil
}

// parseSuggestions - ```json 펜스 제거 후 파싱. explanation 없는 항목은 버림
func parseSuggestions(text string) ([]model.StyleSuggestion, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	out := make([]model.StyleSuggestion, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		s.Explanation = strings.TrimSpace(s.Explanation)
		if s.Explanation == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no usable suggestions")
	}
	return out, nil
}

func buildSuggestionPrompt(in model.JobInput, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Look at the person in the first image and propose %d distinct outfit suggestions.\n", count)
	if in.Occasion != "" {
		fmt.Fprintf(&b, "Occasion: %s\n", in.Occasion)
	}
	if in.Prompt != "" {
		fmt.Fprintf(&b, "User request: %s\n", in.Prompt)
	}
	if in.GarmentImage != "" {
		b.WriteString("Every suggestion must include the garment shown in the second image.\n")
	}
	b.WriteString(`Respond as {"suggestions":[{"title":string,"explanation":string,"items":[string],"prompt":string}]}. `)
	b.WriteString("explanation is a short paragraph for the user; prompt is an image-generation description of the full outfit.")
	return b.String()
}

// imageURLForVision - URL/data URL은 그대로, 순수 base64는 data URL로 감쌈
func imageURLForVision(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "data:"):
		return ref
	default:
		return "data:image/jpeg;base64," + ref
	}
}
