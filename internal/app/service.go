/**
 * @description
 * This file contains the core `Service` for the pix-service. The service
 * orchestrates the payment confirmation pipeline and the transaction PIN
 * flows, coordinating between the database repository, the Celcoin BaaS API
 * client, the Redis rate limiter, and the message broker.
 *
 * Key features:
 * - Drives payment intents through decode, recipient resolution,
 *   confirmation, PIN gate, submission and bounded settlement polling.
 * - Persists every state transition; terminal states are immutable.
 * - Publishes terminal payment events to RabbitMQ for statement and
 *   notification consumers.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/celcoinclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"time"

	"github.com/rosebank/pix-service/internal/store"
	"github.com/rosebank/pix-service/pkg/celcoinclient"
	"github.com/rosebank/pix-service/pkg/rabbitmq"
)

// PixProvider is the slice of the Celcoin client the service consumes.
// Declared here so tests can substitute a scripted provider.
type PixProvider interface {
	DecodeEMV(ctx context.Context, rawCode string) (*celcoinclient.DecodeResponse, error)
	LookupRecipient(ctx context.Context, key, payerID, sourceAccount string) (*celcoinclient.DictLookupResponse, error)
	SubmitPayment(ctx context.Context, req celcoinclient.PaymentRequest) (*celcoinclient.PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, transactionID string) (*celcoinclient.StatusResponse, error)
}

// RateLimiter is the distributed rate limiter in front of PIN verification.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Config carries the tunables the service needs from the environment.
type Config struct {
	EventExchange         string
	PollInterval          time.Duration
	PollMaxAttempts       int
	PINMaxAttempts        int
	PINLockoutSeconds     int
	PINRateLimitPerMinute int
	SourceAccount         string
	SourceBranch          string
}

// Service provides the core business logic for PIX payments and PINs.
type Service struct {
	repo          store.Repository
	provider      PixProvider
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter
	cfg           Config
}

// NewService creates a new pix service instance. rateLimiter may be nil when
// Redis is not configured; PIN verification then relies on the database
// lockout alone.
func NewService(repo store.Repository, provider PixProvider, producer rabbitmq.Publisher, rateLimiter RateLimiter, cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 6
	}
	if cfg.PINMaxAttempts <= 0 {
		cfg.PINMaxAttempts = 5
	}
	if cfg.PINLockoutSeconds <= 0 {
		cfg.PINLockoutSeconds = 600
	}
	return &Service{
		repo:          repo,
		provider:      provider,
		eventProducer: producer,
		rateLimiter:   rateLimiter,
		cfg:           cfg,
	}
}
