package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // JPEG 디코더 등록
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// 원격 이미지 최대 크기 (20MB)
const maxImageBytes = 20 << 20

// LoadImage - data URL, 순수 base64, http(s) URL 어느 쪽이든 이미지 바이트로
func LoadImage(ctx context.Context, client *http.Client, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("empty image reference")
	case strings.HasPrefix(ref, "data:"):
		comma := strings.Index(ref, ",")
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		return base64.StdEncoding.DecodeString(ref[comma+1:])
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return fetchImage(ctx, client, ref)
	default:
		return base64.StdEncoding.DecodeString(ref)
	}
}

func fetchImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	return data, nil
}

// DetectMimeType - provider 요청용 MIME 타입
func DetectMimeType(data []byte) string {
	return http.DetectContentType(data)
}

// ConvertToWebP - PNG/JPEG/WebP 바이너리를 lossy WebP로 변환
func ConvertToWebP(data []byte, quality float32) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	log.Debug().Msgf("🔄 %s converted to WebP: %d bytes → %d bytes", format, len(data), len(webpData))
	return webpData, nil
}

// MergeImages - 여러 이미지를 Grid 방식으로 병합 후 PNG로 인코딩
func MergeImages(images [][]byte, aspectRatio string) ([]byte, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to merge")
	}
	if len(images) == 1 {
		return images[0], nil
	}

	decodedImages := make([]image.Image, 0, len(images))
	for i, imgData := range images {
		img, _, err := image.Decode(bytes.NewReader(imgData))
		if err != nil {
			log.Warn().Msgf("⚠️  Failed to decode image %d: %v", i, err)
			continue
		}
		decodedImages = append(decodedImages, img)
	}
	if len(decodedImages) == 0 {
		return nil, fmt.Errorf("no valid images to merge")
	}

	numImages := len(decodedImages)
	cols := int(math.Ceil(math.Sqrt(float64(numImages))))
	rows := int(math.Ceil(float64(numImages) / float64(cols)))

	maxCellWidth, maxCellHeight := 0, 0
	for _, img := range decodedImages {
		b := img.Bounds()
		maxCellWidth = max(maxCellWidth, b.Dx())
		maxCellHeight = max(maxCellHeight, b.Dy())
	}

	totalWidth := cols * maxCellWidth
	totalHeight := rows * maxCellHeight
	merged := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))

	for idx, img := range decodedImages {
		x := (idx % cols) * maxCellWidth
		y := (idx / cols) * maxCellHeight

		b := img.Bounds()
		// 중앙 정렬
		xOffset := x + (maxCellWidth-b.Dx())/2
		yOffset := y + (maxCellHeight-b.Dy())/2

		draw.Draw(merged,
			image.Rect(xOffset, yOffset, xOffset+b.Dx(), yOffset+b.Dy()),
			img, b.Min, draw.Src)
	}

	log.Debug().Msgf("✅ Merged %d images into %dx%d grid (%dx%d total)", numImages, rows, cols, totalWidth, totalHeight)

	var finalImage image.Image = merged
	if w, h, ok := AspectSize(aspectRatio); ok {
		finalImage = ResizeImage(merged, w, h)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, finalImage); err != nil {
		return nil, fmt.Errorf("failed to encode merged image: %w", err)
	}
	return buf.Bytes(), nil
}

// AspectSize - aspect-ratio 별 목표 크기. 1:1/빈 값은 리사이즈하지 않음
func AspectSize(aspectRatio string) (int, int, bool) {
	switch aspectRatio {
	case "", "1:1":
		return 0, 0, false
	case "16:9":
		return 1344, 768, true
	case "9:16":
		return 768, 1344, true
	case "4:3":
		return 1152, 896, true
	case "3:4":
		return 896, 1152, true
	default:
		return 1024, 1024, true
	}
}

// ResizeImage - 비율 유지하며 fit (nearest neighbor, 남는 영역은 투명)
func ResizeImage(src image.Image, targetWidth, targetHeight int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	scale := math.Min(float64(targetWidth)/float64(srcWidth), float64(targetHeight)/float64(srcHeight))
	newWidth := int(float64(srcWidth) * scale)
	newHeight := int(float64(srcHeight) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	xOffset := (targetWidth - newWidth) / 2
	yOffset := (targetHeight - newHeight) / 2

	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			srcX := srcBounds.Min.X + int(float64(x)/scale)
			srcY := srcBounds.Min.Y + int(float64(y)/scale)
			dst.Set(x+xOffset, y+yOffset, src.At(srcX, srcY))
		}
	}
	return dst
}
