package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	AppEnv string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBucket  string
	SupabaseStorageBaseURL string

	// OpenAI (스타일 제안)
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Gemini API (stylize 이미지)
	GeminiAPIKeys []string
	GeminiModel   string

	// Kling AI (virtual try-on)
	KlingAccessKey string
	KlingSecretKey string
	KlingAPIURL    string

	// Server
	Port string

	// Pipeline
	MaxOperations   int
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	StuckTimeout    time.Duration
	ReaperInterval  time.Duration
	JobTTL          time.Duration
}

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg := fromEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fromEnv - 환경변수에서 Config 구성 (검증 없음)
func fromEnv() *Config {
	return &Config{
		AppEnv: getEnv("APP_ENV", "development"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", true),

		// Supabase
		SupabaseURL:            strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "stylist"),
		SupabaseStorageBaseURL: getEnv("SUPABASE_STORAGE_BASE_URL", ""),

		// OpenAI
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		// Gemini
		GeminiAPIKeys: splitList(getEnv("GEMINI_API_KEYS", getEnv("GEMINI_API_KEY", ""))),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),

		// Kling
		KlingAccessKey: getEnv("KLING_ACCESS_KEY", ""),
		KlingSecretKey: getEnv("KLING_SECRET_KEY", ""),
		KlingAPIURL:    strings.TrimRight(getEnv("KLING_API_URL", "https://api.klingai.com"), "/"),

		// Server
		Port: getEnv("PORT", "8080"),

		// Pipeline
		MaxOperations:   getEnvInt("MAX_OPERATIONS", 100),
		ProviderTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		LockTTL:         time.Duration(getEnvInt("LOCK_TTL_SECONDS", 300)) * time.Second,
		StuckTimeout:    time.Duration(getEnvInt("STUCK_TIMEOUT_MINUTES", 10)) * time.Minute,
		ReaperInterval:  time.Duration(getEnvInt("REAPER_INTERVAL_SECONDS", 60)) * time.Second,
		JobTTL:          time.Duration(getEnvInt("JOB_TTL_HOURS", 24*7)) * time.Hour,
	}
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.MaxOperations <= 0 {
		return fmt.Errorf("MAX_OPERATIONS must be positive")
	}
	return nil
}

// IsDevelopment - 개발 환경 여부
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// StoragePublicURL - 업로드된 파일의 공개 URL
func (c *Config) StoragePublicURL(filePath string) string {
	if c.SupabaseStorageBaseURL != "" {
		return c.SupabaseStorageBaseURL + filePath
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.SupabaseURL, c.SupabaseStorageBucket, filePath)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
