package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"atelier/internal/adapter/repo"
	"atelier/internal/compositor"
	"atelier/internal/domain"
	"atelier/internal/http/handlers"
	"atelier/internal/http/httpapi"
	"atelier/internal/infra"
	"atelier/internal/middleware"
	"atelier/internal/pipeline"
	"atelier/internal/providers/genimage"
	"atelier/internal/providers/tryon"
	"atelier/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	images, err := newImageStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image storage")
	}

	genClient := genimage.NewClient(genimage.Options{
		BaseURL: cfg.GenImageBaseURL,
		APIKey:  cfg.GenImageAPIKey,
		Model:   cfg.GenImageModel,
		Logger:  &logger,
	})
	tryOnClient := tryon.NewClient(tryon.Options{
		BaseURL: cfg.TryOnBaseURL,
		APIKey:  cfg.TryOnAPIKey,
		Logger:  &logger,
	})

	jobs := repo.NewJobRepository(dbpool)
	svc := pipeline.NewService(jobs, images, genClient, tryOnClient, compositor.New(), &logger)

	app := handlers.NewApp(svc, jobs, &logger)
	routerOpts := httpapi.Options{
		App:            app,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow),
	}
	if cfg.StorageBackend == "file" {
		routerOpts.StaticDir = cfg.StoragePath
	}
	router := httpapi.NewRouter(routerOpts)

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newImageStore(ctx context.Context, cfg *infra.Config) (domain.ImageStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}
