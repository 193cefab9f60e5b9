package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rosebank/pix-service/internal/domain"
	"github.com/rosebank/pix-service/internal/store"
	"github.com/rosebank/pix-service/pkg/celcoinclient"
)

// repoStub is an in-memory store.Repository with the same guarded-update
// semantics as the Postgres implementation.
type repoStub struct {
	store.Repository

	mu       sync.Mutex
	intents  map[uuid.UUID]*domain.PaymentIntent
	receipts map[uuid.UUID]*domain.Receipt
	stale    []domain.PaymentIntent

	credential        *domain.UserSecurityCredential
	recordedFailures  int
	resetFailureCalls int
	upsertedPINHash   string
}

func newRepoStub() *repoStub {
	return &repoStub{
		intents:  make(map[uuid.UUID]*domain.PaymentIntent),
		receipts: make(map[uuid.UUID]*domain.Receipt),
	}
}

func (r *repoStub) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *intent
	r.intents[intent.ID] = &copied
	return nil
}

func (r *repoStub) FindPaymentIntentByID(ctx context.Context, intentID, userID uuid.UUID) (*domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok || intent.UserID != userID {
		return nil, store.ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

func (r *repoStub) UpdatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.intents[intent.ID]
	if !ok {
		return store.ErrIntentNotFound
	}
	if existing.Status.IsTerminal() {
		return store.ErrIntentTerminal
	}
	copied := *intent
	copied.UpdatedAt = time.Now()
	r.intents[intent.ID] = &copied
	return nil
}

func (r *repoStub) UpdatePaymentIntentStatus(ctx context.Context, intentID uuid.UUID, status domain.PaymentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	if intent.Status.IsTerminal() {
		return store.ErrIntentTerminal
	}
	intent.Status = status
	intent.UpdatedAt = time.Now()
	return nil
}

func (r *repoStub) SetPaymentIntentTransactionID(ctx context.Context, intentID uuid.UUID, transactionID string, status domain.PaymentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	if intent.Status.IsTerminal() {
		return store.ErrIntentTerminal
	}
	intent.TransactionID = &transactionID
	intent.Status = status
	intent.UpdatedAt = time.Now()
	return nil
}

func (r *repoStub) MarkPaymentIntentTerminal(ctx context.Context, intentID uuid.UUID, status domain.PaymentState, failureReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	if intent.Status.IsTerminal() {
		return store.ErrIntentTerminal
	}
	intent.Status = status
	intent.FailureReason = failureReason
	intent.UpdatedAt = time.Now()
	return nil
}

func (r *repoStub) ListStalePaymentIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stale) > limit {
		return r.stale[:limit], nil
	}
	return r.stale, nil
}

func (r *repoStub) SaveReceipt(ctx context.Context, receipt *domain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.receipts[receipt.IntentID]; exists {
		return nil
	}
	copied := *receipt
	r.receipts[receipt.IntentID] = &copied
	return nil
}

func (r *repoStub) FindReceiptByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[intentID]
	if !ok {
		return nil, store.ErrReceiptNotFound
	}
	copied := *receipt
	return &copied, nil
}

func (r *repoStub) GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credential == nil || r.credential.TransactionPINHash == "" {
		return nil, store.ErrTransactionPINNotSet
	}
	copied := *r.credential
	return &copied, nil
}

func (r *repoStub) UpsertTransactionPINHash(ctx context.Context, userID uuid.UUID, pinHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertedPINHash = pinHash
	r.credential = &domain.UserSecurityCredential{UserID: userID, TransactionPINHash: pinHash}
	return nil
}

func (r *repoStub) RecordFailedTransactionPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts, lockoutDurationSeconds int) (*domain.UserSecurityCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credential == nil {
		return nil, store.ErrTransactionPINNotSet
	}
	r.recordedFailures++
	r.credential.FailedAttempts++
	if r.credential.FailedAttempts >= maxAttempts {
		lockedUntil := time.Now().Add(time.Duration(lockoutDurationSeconds) * time.Second)
		r.credential.LockedUntil = &lockedUntil
	}
	copied := *r.credential
	return &copied, nil
}

func (r *repoStub) ResetTransactionPINFailureState(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credential == nil {
		return store.ErrTransactionPINNotSet
	}
	r.resetFailureCalls++
	r.credential.FailedAttempts = 0
	r.credential.LockedUntil = nil
	return nil
}

func (r *repoStub) intentByID(id uuid.UUID) *domain.PaymentIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return nil
	}
	copied := *intent
	return &copied
}

// statusStep scripts one GetPaymentStatus call.
type statusStep struct {
	resp *celcoinclient.StatusResponse
	err  error
}

// providerStub is a scripted PixProvider.
type providerStub struct {
	mu sync.Mutex

	decodeResp *celcoinclient.DecodeResponse
	decodeErr  error

	lookupResp *celcoinclient.DictLookupResponse
	lookupErr  error

	submitResp  *celcoinclient.PaymentResponse
	submitErr   error
	submitCalls int
	submitted   []celcoinclient.PaymentRequest

	statusQueue []statusStep
	statusCalls int
}

func (p *providerStub) DecodeEMV(ctx context.Context, rawCode string) (*celcoinclient.DecodeResponse, error) {
	if p.decodeErr != nil {
		return nil, p.decodeErr
	}
	return p.decodeResp, nil
}

func (p *providerStub) LookupRecipient(ctx context.Context, key, payerID, sourceAccount string) (*celcoinclient.DictLookupResponse, error) {
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	return p.lookupResp, nil
}

func (p *providerStub) SubmitPayment(ctx context.Context, req celcoinclient.PaymentRequest) (*celcoinclient.PaymentResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitCalls++
	p.submitted = append(p.submitted, req)
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	return p.submitResp, nil
}

func (p *providerStub) GetPaymentStatus(ctx context.Context, transactionID string) (*celcoinclient.StatusResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusCalls >= len(p.statusQueue) {
		p.statusCalls++
		return &celcoinclient.StatusResponse{TransactionID: transactionID, Status: "PENDING"}, nil
	}
	step := p.statusQueue[p.statusCalls]
	p.statusCalls++
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (p *providerStub) statusCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

// publisherStub records published terminal events.
type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

// limiterStub is a scripted RateLimiter.
type limiterStub struct {
	count int
	err   error
	calls int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, 1, l.err
}

var errProviderDown = errors.New("provider unreachable")

func testServiceConfig() Config {
	return Config{
		EventExchange:   "rose.events",
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 6,
		PINMaxAttempts:  3,
	}
}
