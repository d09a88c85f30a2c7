package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"stylist-server/modules/common/config"
	"stylist-server/modules/common/database"
	"stylist-server/modules/common/lock"
	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	"stylist-server/modules/common/ratelimit"
	keyspace "stylist-server/modules/common/redis"
	"stylist-server/modules/common/storage"
	"stylist-server/modules/job"
	"stylist-server/modules/lookbook"
	"stylist-server/modules/pipeline"
	"stylist-server/modules/provider"
	"stylist-server/modules/realtime"
	"stylist-server/modules/styling"
	"stylist-server/modules/tryon"
)

var startTime = time.Now()

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "stylist-server",
	})
}

// 서버 메트릭 조회 엔드포인트
func metricsHandler(runner *pipeline.Runner, feed *realtime.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"server": map[string]interface{}{
				"uptime":    time.Since(startTime).String(),
				"startTime": startTime,
			},
			"pipeline": runner.Stats(),
			"realtime": feed.Metrics(),
		})
	}
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}
	logger.Init(cfg.AppEnv)

	rdb, err := keyspace.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
	}
	defer rdb.Close()

	db, err := database.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to Supabase")
	}

	// 상태 머신 + 공용 인프라
	machine := job.NewMachine(job.NewStore(rdb, cfg.JobTTL))
	limiter := ratelimit.NewLimiter(rdb, cfg.MaxOperations)
	locker := lock.NewLocker(rdb, cfg.LockTTL)
	uploader := storage.NewClient(cfg)

	// 외부 provider
	suggester, err := provider.NewOpenAISuggester(provider.OpenAIOptions{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create suggestion provider")
	}
	kling := provider.NewKlingTryOnGenerator(provider.KlingOptions{
		AccessKey: cfg.KlingAccessKey,
		SecretKey: cfg.KlingSecretKey,
		APIURL:    cfg.KlingAPIURL,
		Uploader:  uploader,
	})
	images := provider.NewRouter(map[string]provider.ImageGenerator{
		model.GenerationModeStylize: provider.NewGeminiImageGenerator(cfg.GeminiAPIKeys, cfg.GeminiModel, uploader),
		model.GenerationModeTryOn:   kling,
	})

	// 파이프라인 + 멈춘 작업 정리
	runner := pipeline.NewRunner(machine, suggester, images, pipeline.Options{
		ProviderTimeout: cfg.ProviderTimeout,
	})
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go pipeline.NewReaper(machine, cfg.StuckTimeout, cfg.ReaperInterval).Run(reaperCtx)

	feed := realtime.NewFeed(machine.Store())

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(logger.Middleware)
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", metricsHandler(runner, feed)).Methods("GET")

	styling.NewHandler(machine, runner, limiter).RegisterRoutes(r)
	tryon.NewHandler(locker, limiter, kling, uploader, cfg.ProviderTimeout).RegisterRoutes(r)
	lookbook.NewHandler(lookbook.NewService(db)).RegisterRoutes(r)
	feed.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("🚀 Stylist Server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 Job feed: ws://localhost:%s/ws?jobId=", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	stopReaper()
	if err := runner.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Pipeline stages aborted before finishing")
	}
	log.Info().Msg("✅ Server stopped")
}
