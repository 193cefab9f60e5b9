/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the pix-service. By defining an
 * interface, we decouple the application's business logic from the specific
 * database implementation (e.g., PostgreSQL), making the code more modular
 * and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rosebank/pix-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment intent methods
	CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error
	FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID, userID uuid.UUID) (*domain.PaymentIntent, error)
	FindPaymentIntentByClientRequestID(ctx context.Context, clientRequestID string) (*domain.PaymentIntent, error)
	// UpdatePaymentIntentStatus advances a non-terminal intent. Terminal
	// rows are never modified; attempting to do so returns ErrIntentTerminal.
	UpdatePaymentIntentStatus(ctx context.Context, intentID uuid.UUID, status domain.PaymentState) error
	// UpdatePaymentIntent rewrites the mutable columns (decode result,
	// recipient, amount, status) of a non-terminal intent.
	UpdatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error
	SetPaymentIntentTransactionID(ctx context.Context, intentID uuid.UUID, transactionID string, status domain.PaymentState) error
	MarkPaymentIntentTerminal(ctx context.Context, intentID uuid.UUID, status domain.PaymentState, failureReason *string) error
	ListStalePaymentIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error)

	// Receipt methods
	SaveReceipt(ctx context.Context, receipt *domain.Receipt) error
	FindReceiptByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.Receipt, error)

	// Transaction PIN methods
	GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error)
	UpsertTransactionPINHash(ctx context.Context, userID uuid.UUID, pinHash string) error
	RecordFailedTransactionPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockoutDurationSeconds int) (*domain.UserSecurityCredential, error)
	ResetTransactionPINFailureState(ctx context.Context, userID uuid.UUID) error
}
