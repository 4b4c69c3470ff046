package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"listinglab/backend/internal/api"
	"listinglab/backend/internal/cache"
	"listinglab/backend/internal/config"
	"listinglab/backend/internal/logging"
	"listinglab/backend/internal/pipeline"
	"listinglab/backend/internal/poll"
	"listinglab/backend/internal/provider"
	"listinglab/backend/internal/queue"
	"listinglab/backend/internal/storage"
	"listinglab/backend/internal/store"
	"listinglab/backend/internal/stream"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.PGURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Warn().Err(err).Msg("migrate (non-fatal)")
	}

	var redisOpt asynq.RedisConnOpt
	if parsed, err := asynq.ParseRedisURI(cfg.Redis); err == nil {
		redisOpt = parsed
	} else {
		// Fallback: host:port only (no auth)
		redisAddr := cfg.Redis
		redisAddr = strings.TrimPrefix(redisAddr, "rediss://")
		redisAddr = strings.TrimPrefix(redisAddr, "redis://")
		redisOpt = asynq.RedisClientOpt{Addr: redisAddr}
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	var streamPub *stream.Publisher
	var streamSub *stream.Subscriber
	if streamPub, _ = stream.NewPublisher(cfg.Redis); streamPub != nil {
		defer streamPub.Close()
		log.Info().Msg("stream: Redis Pub/Sub enabled for SSE")
	}
	if streamSub, _ = stream.NewSubscriber(cfg.Redis); streamSub != nil {
		defer streamSub.Close()
	}

	cacheRedis, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("cache disabled")
		cacheRedis = nil
	} else {
		defer cacheRedis.Close()
	}

	var providers []provider.Provider
	if fal, err := provider.NewFal(provider.FalConfig{
		APIKey:    cfg.FalAPIKey,
		BaseURL:   cfg.FalBaseURL,
		FillModel: cfg.FalModel,
	}); err != nil {
		log.Warn().Err(err).Msg("fal provider not configured")
	} else {
		providers = append(providers, fal)
	}
	if xai, err := provider.NewXAI(provider.XAIConfig{
		APIKey:     cfg.XAIAPIKey,
		BaseURL:    cfg.XAIBaseURL,
		ImageModel: cfg.XAIImageModel,
		VideoModel: cfg.XAIVideoModel,
	}); err != nil {
		log.Warn().Err(err).Msg("xai provider not configured")
	} else {
		providers = append(providers, xai)
	}
	if len(providers) == 0 {
		log.Fatal().Msg("no generation providers configured (set FAL_API_KEY or XAI_API_KEY)")
	}
	registry := provider.NewRegistry(providers...)

	s3Store, err := storage.NewS3(ctx, storage.S3Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		Bucket:        cfg.S3Bucket,
		Key:           cfg.S3AccessKey,
		Secret:        cfg.S3SecretKey,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.S3PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("s3 storage")
	}
	if s3Store == nil {
		log.Fatal().Msg("s3 storage not configured (results cannot be materialized)")
	}

	runner := pipeline.NewRunner(db, registry, pipeline.NewMaterializer(s3Store, db), streamPub, log)
	runner.Poll = poll.Config{Interval: cfg.PollInterval, MaxAttempts: cfg.MaxPollAttempts}

	qHandlers := &queue.Handlers{DB: db, Runner: runner, Cache: cacheRedis, Log: log}
	mux := asynq.NewServeMux()
	qHandlers.Register(mux)
	concurrency := cfg.AsynqConcurrency
	if concurrency < 1 {
		concurrency = 8
	}
	asynqSrv := asynq.NewServer(redisOpt, asynq.Config{Concurrency: concurrency})
	log.Info().Int("concurrency", concurrency).Msg("asynq worker")
	go func() {
		if err := asynqSrv.Run(mux); err != nil {
			log.Error().Err(err).Msg("asynq")
		}
	}()
	defer asynqSrv.Shutdown()

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 5m", queue.NewSweepTask()); err != nil {
		log.Warn().Err(err).Msg("sweep schedule")
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Error().Err(err).Msg("scheduler")
		}
	}()
	defer scheduler.Shutdown()

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		var errJWKS error
		jwks, errJWKS = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{})
		if errJWKS != nil {
			log.Warn().Err(errJWKS).Msg("JWKS unavailable (auth will use shared secret if set)")
			jwks = nil
		}
	}
	srv := api.NewServer(db, asynqClient, streamSub, cacheRedis, registry, cfg.Redis, cfg.JWTSecret, jwks)

	origins := []string{"*"}
	if cfg.CORSOrigins != "" {
		origins = strings.Split(cfg.CORSOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler(srv.Routes())

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("api listening")
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	_ = httpSrv.Shutdown(ctx)
}
