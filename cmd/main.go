/**
 * @description
 * This is the main entry point for the pix-service. It is responsible for
 * initializing all components of the service: configuration, database
 * connection pool, external API clients, message broker, Redis rate limiter,
 * the session registry, the reconciliation scheduler, and the HTTP server.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/session,
 *   internal/store: Internal packages for the service.
 * - pkg/authclient, pkg/celcoinclient, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rosebank/pix-service/internal/api"
	"github.com/rosebank/pix-service/internal/app"
	"github.com/rosebank/pix-service/internal/config"
	"github.com/rosebank/pix-service/internal/domain"
	"github.com/rosebank/pix-service/internal/session"
	"github.com/rosebank/pix-service/internal/store"
	"github.com/rosebank/pix-service/pkg/authclient"
	"github.com/rosebank/pix-service/pkg/celcoinclient"
	"github.com/rosebank/pix-service/pkg/rabbitmq"
)

// authProviderAdapter bridges the auth platform client to the session
// manager's AuthProvider interface.
type authProviderAdapter struct {
	client *authclient.Client
}

func (a *authProviderAdapter) GetSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	resp, err := a.client.GetSession(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return &domain.Session{UserID: resp.UserID, Email: resp.Email, AccessToken: accessToken}, nil
}

func (a *authProviderAdapter) SignInWithPassword(ctx context.Context, identifier, secret string) (*domain.Session, error) {
	resp, err := a.client.SignInWithPassword(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	email := resp.Email
	if email == "" {
		email = identifier
	}
	return &domain.Session{UserID: resp.UserID, Email: email, AccessToken: resp.AccessToken}, nil
}

func (a *authProviderAdapter) SignOut(ctx context.Context, accessToken string) error {
	return a.client.SignOut(ctx, accessToken)
}

func main() {
	// Load .env for local development; in deployment the environment is set
	// by the platform.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting pix-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for terminal payment events. The
	// service still boots without it; events are skipped with a warning.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// External clients.
	celcoinClient := celcoinclient.NewClient(cfg.CelcoinAPIBaseURL, cfg.CelcoinAPIKey)
	authClient := authclient.NewClient(cfg.AuthAPIBaseURL, cfg.AuthAPIKey)

	// Redis-backed rate limiter for PIN verification.
	var rateLimiter app.RateLimiter
	if cfg.PINRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; pin rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; pin rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; pin rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Data access layer and core service.
	repository := store.NewPostgresRepository(dbpool)
	pixService := app.NewService(repository, celcoinClient, producer, rateLimiter, app.Config{
		EventExchange:         cfg.PaymentEventExchange,
		PollInterval:          cfg.PollInterval(),
		PollMaxAttempts:       cfg.PollMaxAttempts,
		PINMaxAttempts:        cfg.PINMaxAttempts,
		PINLockoutSeconds:     cfg.PINLockoutSeconds,
		PINRateLimitPerMinute: cfg.PINRateLimitPerMinute,
		SourceAccount:         cfg.CelcoinSourceAccount,
		SourceBranch:          cfg.CelcoinSourceBranch,
	})

	// Session registry: one lifecycle manager per device installation.
	sessionRegistry := session.NewRegistry(&authProviderAdapter{client: authClient}, cfg.SessionIdleTimeout())

	// Stale-intent reconciliation cron.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := app.NewReconcileScheduler(pixService, slogger, cfg.IntentReconcileSchedule, cfg.IntentStaleAfter(), cfg.IntentReconcileBatchSize)
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// HTTP layer.
	handlers := api.NewPixHandlers(pixService, sessionRegistry, cfg.IntentStaleAfter(), cfg.IntentReconcileBatchSize)
	router := api.NewRouter(handlers, cfg.AuthJWKSURL)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
