package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"studygen/internal/api"
	"studygen/internal/config"
	"studygen/internal/db"
	"studygen/internal/logging"
	"studygen/internal/services"
)

const jobRetention = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	log := logging.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	storage, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}

	completer, vision, closeLLM, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("init llm: %v", err)
	}
	defer closeLLM()

	generationService := services.NewGenerationService(
		services.NewContentExtractor(services.NewPDFService(), vision),
		services.NewRetryCompleter(completer, cfg.LLM.MaxAttempts, cfg.LLM.RetryBackoff),
		services.NewStore(conn),
		storage,
		services.GenerationOptions{
			Locale:         cfg.Locale,
			StrictParsing:  cfg.StrictParsing,
			MaxUploadBytes: cfg.MaxUploadBytes,
		},
	)

	server := api.NewServer(
		generationService,
		services.NewFlashcardService(conn),
		services.NewQuizService(conn),
		services.NewDocumentService(conn, storage),
		api.NewAuthenticator(cfg.JWTSecret),
		api.Options{MaxUploadBytes: cfg.MaxUploadBytes, RequestTimeout: cfg.RequestTimeout},
	)
	go pruneJobs(ctx, server.Jobs())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// generation runs inside the request
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"storage":  cfg.Storage.Backend,
		"provider": cfg.LLM.Provider,
	}).Info("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (services.Storage, error) {
	switch cfg.Backend {
	case config.StorageSupabase:
		return services.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket), nil
	case config.StorageMinio:
		return services.NewMinioStorage(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	default:
		return services.NewLocalStorage(cfg.UploadDir)
	}
}

func newLLM(ctx context.Context, cfg config.LLMConfig) (services.Completer, services.VisionDescriber, func(), error) {
	if cfg.Provider == config.ProviderGemini {
		client, err := services.NewGeminiClient(ctx, cfg.GeminiKey)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Close() }
		return services.NewGeminiCompleter(client, cfg.GeminiModel), services.NewGeminiVision(client, cfg.GeminiModel), closeFn, nil
	}

	client := services.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIEndpoint)
	return services.NewOpenAICompleter(client, cfg.OpenAIModel), services.NewVisionService(client, cfg.VisionModel), func() {}, nil
}

func pruneJobs(ctx context.Context, jobs *api.JobManager) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs.Prune(time.Now().UTC().Add(-jobRetention))
		}
	}
}
