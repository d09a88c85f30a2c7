package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"stylist-server/modules/common/config"
	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/utils"
)

// WebP 변환 품질
const webpQuality = 90.0

// Converter - 업로드 전 이미지 변환 (기본: utils.ConvertToWebP)
type Converter func(data []byte, quality float32) ([]byte, error)

// Client - Supabase Storage 업로드 클라이언트
type Client struct {
	supabaseURL string
	serviceKey  string
	bucket      string
	publicURL   func(path string) string
	httpClient  *http.Client
	convert     Converter
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config) *Client {
	return &Client{
		supabaseURL: cfg.SupabaseURL,
		serviceKey:  cfg.SupabaseServiceKey,
		bucket:      cfg.SupabaseStorageBucket,
		publicURL:   cfg.StoragePublicURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		convert:     utils.ConvertToWebP,
	}
}

// WithConverter - 변환 함수 교체
func (c *Client) WithConverter(convert Converter) *Client {
	c.convert = convert
	return c
}

// WithHTTPClient - HTTP 클라이언트 교체
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// UploadImage - 이미지를 WebP로 변환해 <dir>/<file>.webp 로 업로드하고 공개 URL 반환
func (c *Client) UploadImage(ctx context.Context, imageData []byte, dir string) (string, error) {
	log := logger.For("storage")

	webpData, err := c.convert(imageData, webpQuality)
	if err != nil {
		return "", fmt.Errorf("failed to convert image to WebP: %w", err)
	}

	fileName := fmt.Sprintf("generated_%d_%d.webp", time.Now().UnixMilli(), rand.Intn(999999))
	filePath := strings.Trim(dir, "/") + "/" + fileName

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.supabaseURL, c.bucket, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(webpData))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "image/webp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Info().Msgf("📤 [Storage] Uploaded %s (%d bytes)", filePath, len(webpData))
	return c.publicURL(filePath), nil
}
