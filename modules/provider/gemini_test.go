package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
)

type fakeContent struct {
	parts []genai.Part
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeContent) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

type fakeUploader struct {
	dirs []string
	err  error
}

func (f *fakeUploader) UploadImage(_ context.Context, data []byte, dir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.dirs = append(f.dirs, dir)
	return "https://cdn.local/" + dir + "/out.webp", nil
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestGeminiImageGenerator(t *testing.T) {
	human := tinyPNG(t)
	content := &fakeContent{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{
			genai.Blob{MIMEType: "image/png", Data: []byte("generated")},
		}}}},
	}}
	uploader := &fakeUploader{}
	gen := NewGeminiImageGenerator([]string{"k"}, "m", uploader).WithContentGenerator(content)

	out, err := gen.GenerateFinalImages(context.Background(), ImageRequest{
		JobID:      "job-1",
		Index:      1,
		HumanImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(human),
		Style:      model.StyleSuggestion{Title: "Classic", Explanation: "navy suit", Items: []string{"suit"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.local/jobs/job-1/1/out.webp"}, out.URLs)
	require.Contains(t, out.Prompt, "navy suit")

	require.Len(t, content.parts, 2)
	blob, ok := content.parts[1].(genai.Blob)
	require.True(t, ok)
	require.Equal(t, "image/png", blob.MIMEType)
}

func TestGeminiImageGeneratorFailures(t *testing.T) {
	human := "data:image/png;base64," + base64.StdEncoding.EncodeToString(tinyPNG(t))

	noImage := NewGeminiImageGenerator(nil, "m", &fakeUploader{}).
		WithContentGenerator(&fakeContent{resp: &genai.GenerateContentResponse{}})
	_, err := noImage.GenerateFinalImages(context.Background(), ImageRequest{HumanImage: human})
	require.True(t, errors.Is(err, model.ErrProvider))

	apiErr := NewGeminiImageGenerator(nil, "m", &fakeUploader{}).
		WithContentGenerator(&fakeContent{err: errors.New("safety block")})
	_, err = apiErr.GenerateFinalImages(context.Background(), ImageRequest{HumanImage: human})
	require.True(t, errors.Is(err, model.ErrProvider))

	badImage := NewGeminiImageGenerator(nil, "m", &fakeUploader{})
	_, err = badImage.GenerateFinalImages(context.Background(), ImageRequest{HumanImage: ""})
	require.True(t, errors.Is(err, model.ErrProvider))
}

func TestBuildFinalPrompt(t *testing.T) {
	prompt := BuildFinalPrompt(ImageRequest{
		JobID:        "j1",
		GarmentImage: "https://img/g.png",
		AspectRatio:  "3:4",
		Style: model.StyleSuggestion{
			Title:       "Classic",
			Items:       []string{"navy blazer", "loafers"},
			Explanation: "tailored look for a wedding",
		},
	})

	require.Contains(t, prompt, "FULL BODY SHOT")
	require.Contains(t, prompt, "Look: Classic")
	require.Contains(t, prompt, "Items: navy blazer, loafers")
	require.Contains(t, prompt, "Styling: tailored look for a wedding")
	require.Contains(t, prompt, "second image is a garment")
	require.Contains(t, prompt, "Aspect ratio: 3:4")
	require.NotContains(t, prompt, "Details:")
}
