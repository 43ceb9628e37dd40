package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visible-relay/internal/adapter/api"
	"visible-relay/internal/adapter/client"
	"visible-relay/internal/adapter/store"
	"visible-relay/internal/config"
	"visible-relay/internal/domain/entity"
	"visible-relay/internal/domain/repository"
	"visible-relay/internal/logger"
	"visible-relay/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logger.Err(err))
		os.Exit(1)
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("shutting down due to error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	primary, err := newProvider(ctx, cfg, cfg.Provider)
	if err != nil {
		return err
	}
	var fallback repository.VisionProvider
	if name := cfg.FallbackProvider(); name != "" {
		if fallback, err = newProvider(ctx, cfg, name); err != nil {
			return err
		}
	}

	resilientProvider := usecase.NewResilientProvider(primary, fallback, usecase.ResilienceConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
		Timeout:    cfg.UpstreamTimeout,
	})

	// Redis for Rate Limiting
	var tokenLimiter repository.TokenLimiter = store.NopLimiter{}
	if cfg.LimiterEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, token budget will fail open", "addr", cfg.RedisAddr, logger.Err(err))
		}
		tokenLimiter = store.NewRedisLimiter(rdb, cfg.UserTokenLimit)
	}

	formatter := usecase.NewPromptFormatter(resilientProvider, cfg.MaxOutputTokens)
	orchestrator := usecase.NewOrchestrator(formatter, tokenLimiter)

	app := fiber.New(fiber.Config{
		AppName:      "Visible Relay",
		BodyLimit:    cfg.BodyLimit(),
		ErrorHandler: api.ErrorHandler,
	})

	handler := api.NewAnalyzeHandler(orchestrator, cfg.DefaultMode)
	api.SetupRouter(app, handler, api.HealthInfo{
		Version:  cfg.AppVersion,
		Env:      cfg.Env,
		Provider: primary.Name(),
	}, os.Stdout)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening",
			"port", cfg.Port,
			"provider", primary.Name(),
			"fallback", cfg.FallbackProvider(),
			"default_mode", cfg.DefaultMode,
			"token_budget", cfg.LimiterEnabled(),
		)
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("stopping server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		orchestrator.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config, name string) (repository.VisionProvider, error) {
	switch name {
	case config.ProviderOpenAI:
		return client.NewOpenAIVision(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case config.ProviderGemini:
		p, err := client.NewGeminiVision(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", entity.ErrConfiguration, name)
	}
}
