package router

import (
	"context"
	"net/http"
	"strings"

	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/notify"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// 1. Open DB connection pool
	pool, err := pgxpool.New(ctx, cfg.DBConnectionString)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Bootstrap schema
	messageRepo := repository.NewMessageRepo(pool)
	if err := messageRepo.EnsureSchema(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to ensure schema")
		pool.Close()
		return nil, nil, err
	}

	// 3. Resolve the moderation API key, from Secret Manager when configured
	apiKey := cfg.OpenAIAPIKey
	if cfg.OpenAIAPIKeySecret != "" {
		resolver, err := service.NewSecretManagerResolver(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Secret Manager resolver")
			pool.Close()
			return nil, nil, err
		}
		apiKey, err = resolver.Resolve(ctx, cfg.OpenAIAPIKeySecret)
		resolver.Close()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resolve moderation API key")
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("Moderation API key resolved from Secret Manager")
	}

	// 4. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 5. Optional real-time channel for approved messages
	var notifier notify.Publisher
	if cfg.ApprovedTopic != "" {
		pub, err := notify.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Pub/Sub publisher")
			pool.Close()
			return nil, nil, err
		}
		notifier = pub
		logger.Info().Str("topic", cfg.ApprovedTopic).Msg("Approval notifications enabled")
	}

	// 6. Initialize services & handlers
	moderator := service.NewOpenAIModerator(cfg, apiKey, logger)
	queueSvc := service.NewQueueService(messageRepo, moderator, notifier, cfg.ApprovedTopic, cfg.ModerationContextSize, logger)

	messageHandler := handler.NewMessageHandler(queueSvc, validate, logger)
	healthHandler := handler.NewHealthHandler()

	// 7. Initialize middleware
	adminMw := middleware.AdminAuthMiddleware(cfg.AdminJWTSecret, logger)
	if cfg.AdminJWTSecret == "" {
		logger.Warn().Msg("ADMIN_JWT_SECRET not set, queue admin endpoints are open")
	}

	// 8. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	messageHandler.RegisterRoutes(apiV1Mux, adminMw)
	healthHandler.RegisterRoutes(apiV1Mux)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Redirect /api/* to /v1/* for clients of the legacy path layout
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	// 9. Apply CORS middleware. The display frontend is served from another
	// origin, so all origins are allowed.
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), pool, nil
}
