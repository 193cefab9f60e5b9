/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the necessary SQL queries to interact with the
 * database tables related to payment intents, receipts, and transaction PIN
 * security credentials.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rosebank/pix-service/internal/domain"
)

var (
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrIntentTerminal       = errors.New("payment intent is in a terminal state")
	ErrReceiptNotFound      = errors.New("receipt not found")
	ErrDuplicateIntent      = errors.New("client request id already used")
	ErrTransactionPINNotSet = errors.New("transaction pin not set")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const intentColumns = `
	id, user_id, client_request_id, transaction_id, status, qr_kind, pix_key,
	transaction_identification, recipient_name, recipient_tax_id,
	recipient_institution, recipient_account, recipient_branch,
	recipient_synthesized, amount, amount_fixed, failure_reason,
	created_at, updated_at
`

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := row.Scan(
		&intent.ID,
		&intent.UserID,
		&intent.ClientRequestID,
		&intent.TransactionID,
		&intent.Status,
		&intent.QRKind,
		&intent.PixKey,
		&intent.TransactionIdentification,
		&intent.Recipient.Name,
		&intent.Recipient.TaxID,
		&intent.Recipient.Institution,
		&intent.Recipient.Account,
		&intent.Recipient.Branch,
		&intent.Recipient.Synthesized,
		&intent.Amount,
		&intent.AmountFixed,
		&intent.FailureReason,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// CreatePaymentIntent inserts a new payment intent record.
func (r *PostgresRepository) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			id, user_id, client_request_id, transaction_id, status, qr_kind,
			pix_key, transaction_identification, recipient_name,
			recipient_tax_id, recipient_institution, recipient_account,
			recipient_branch, recipient_synthesized, amount, amount_fixed,
			failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		ON CONFLICT (client_request_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		intent.ID,
		intent.UserID,
		intent.ClientRequestID,
		intent.TransactionID,
		intent.Status,
		intent.QRKind,
		intent.PixKey,
		intent.TransactionIdentification,
		intent.Recipient.Name,
		intent.Recipient.TaxID,
		intent.Recipient.Institution,
		intent.Recipient.Account,
		intent.Recipient.Branch,
		intent.Recipient.Synthesized,
		intent.Amount,
		intent.AmountFixed,
		intent.FailureReason,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDuplicateIntent
	}
	return nil
}

// FindPaymentIntentByID retrieves an intent scoped to its owning user.
func (r *PostgresRepository) FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID, userID uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1 AND user_id = $2`
	return scanIntent(r.db.QueryRow(ctx, query, intentID, userID))
}

// FindPaymentIntentByClientRequestID retrieves an intent by its idempotency token.
func (r *PostgresRepository) FindPaymentIntentByClientRequestID(ctx context.Context, clientRequestID string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE client_request_id = $1`
	return scanIntent(r.db.QueryRow(ctx, query, clientRequestID))
}

// UpdatePaymentIntentStatus advances the status of a non-terminal intent.
func (r *PostgresRepository) UpdatePaymentIntentStatus(ctx context.Context, intentID uuid.UUID, status domain.PaymentState) error {
	query := `
		UPDATE payment_intents
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ('CONFIRMED', 'FAILED', 'TIMEOUT')
	`
	result, err := r.db.Exec(ctx, query, status, intentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, intentID)
	}
	return nil
}

// UpdatePaymentIntent rewrites the mutable columns of a non-terminal intent.
// Used as the decode and confirmation stages enrich the record.
func (r *PostgresRepository) UpdatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
		UPDATE payment_intents
		SET status = $1, qr_kind = $2, pix_key = $3,
		    transaction_identification = $4, recipient_name = $5,
		    recipient_tax_id = $6, recipient_institution = $7,
		    recipient_account = $8, recipient_branch = $9,
		    recipient_synthesized = $10, amount = $11, amount_fixed = $12,
		    updated_at = NOW()
		WHERE id = $13 AND status NOT IN ('CONFIRMED', 'FAILED', 'TIMEOUT')
	`
	result, err := r.db.Exec(ctx, query,
		intent.Status,
		intent.QRKind,
		intent.PixKey,
		intent.TransactionIdentification,
		intent.Recipient.Name,
		intent.Recipient.TaxID,
		intent.Recipient.Institution,
		intent.Recipient.Account,
		intent.Recipient.Branch,
		intent.Recipient.Synthesized,
		intent.Amount,
		intent.AmountFixed,
		intent.ID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, intent.ID)
	}
	return nil
}

// SetPaymentIntentTransactionID records the provider transaction identifier
// assigned at submission acceptance, together with the new status.
func (r *PostgresRepository) SetPaymentIntentTransactionID(ctx context.Context, intentID uuid.UUID, transactionID string, status domain.PaymentState) error {
	query := `
		UPDATE payment_intents
		SET transaction_id = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ('CONFIRMED', 'FAILED', 'TIMEOUT')
	`
	result, err := r.db.Exec(ctx, query, transactionID, status, intentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, intentID)
	}
	return nil
}

// MarkPaymentIntentTerminal moves an intent into a terminal state. Once a
// row is terminal it never changes again; a second call is a no-op error.
func (r *PostgresRepository) MarkPaymentIntentTerminal(ctx context.Context, intentID uuid.UUID, status domain.PaymentState, failureReason *string) error {
	if !status.IsTerminal() {
		return errors.New("status is not terminal")
	}
	query := `
		UPDATE payment_intents
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ('CONFIRMED', 'FAILED', 'TIMEOUT')
	`
	result, err := r.db.Exec(ctx, query, status, failureReason, intentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, intentID)
	}
	return nil
}

// classifyMissedUpdate distinguishes "row does not exist" from "row is
// already terminal" after a guarded UPDATE touched nothing.
func (r *PostgresRepository) classifyMissedUpdate(ctx context.Context, intentID uuid.UUID) error {
	var status domain.PaymentState
	err := r.db.QueryRow(ctx, `SELECT status FROM payment_intents WHERE id = $1`, intentID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrIntentNotFound
		}
		return err
	}
	if status.IsTerminal() {
		return ErrIntentTerminal
	}
	return ErrIntentNotFound
}

// ListStalePaymentIntents returns intents that were accepted by the provider
// (transaction_id present) but never reached a terminal state before the
// cutoff. These are the reconciliation candidates.
func (r *PostgresRepository) ListStalePaymentIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status IN ('SUBMITTING', 'POLLING')
		  AND transaction_id IS NOT NULL
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

// SaveReceipt persists the receipt synthesized for a confirmed payment.
func (r *PostgresRepository) SaveReceipt(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		INSERT INTO payment_receipts (
			intent_id, transaction_id, client_request_id, recipient_name,
			recipient_tax_id, recipient_institution, recipient_account,
			recipient_branch, amount, provider_status, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (intent_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		receipt.IntentID,
		receipt.TransactionID,
		receipt.ClientRequestID,
		receipt.Recipient.Name,
		receipt.Recipient.TaxID,
		receipt.Recipient.Institution,
		receipt.Recipient.Account,
		receipt.Recipient.Branch,
		receipt.Amount,
		receipt.ProviderStatus,
		receipt.SettledAt,
	)
	return err
}

// FindReceiptByIntentID retrieves the receipt for a confirmed payment.
func (r *PostgresRepository) FindReceiptByIntentID(ctx context.Context, intentID uuid.UUID) (*domain.Receipt, error) {
	var receipt domain.Receipt
	query := `
		SELECT intent_id, transaction_id, client_request_id, recipient_name,
		       recipient_tax_id, recipient_institution, recipient_account,
		       recipient_branch, amount, provider_status, settled_at
		FROM payment_receipts
		WHERE intent_id = $1
	`
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&receipt.IntentID,
		&receipt.TransactionID,
		&receipt.ClientRequestID,
		&receipt.Recipient.Name,
		&receipt.Recipient.TaxID,
		&receipt.Recipient.Institution,
		&receipt.Recipient.Account,
		&receipt.Recipient.Branch,
		&receipt.Amount,
		&receipt.ProviderStatus,
		&receipt.SettledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

// GetUserSecurityCredentialByUserID returns transaction PIN security metadata for a user.
func (r *PostgresRepository) GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error) {
	var credential domain.UserSecurityCredential
	query := `
		SELECT user_id, transaction_pin_hash, failed_attempts, locked_until
		FROM user_security_credentials
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&credential.UserID,
		&credential.TransactionPINHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionPINNotSet
		}
		return nil, err
	}
	if credential.TransactionPINHash == "" {
		return nil, ErrTransactionPINNotSet
	}

	return &credential, nil
}

// UpsertTransactionPINHash stores a new PIN hash and clears any failure state.
func (r *PostgresRepository) UpsertTransactionPINHash(ctx context.Context, userID uuid.UUID, pinHash string) error {
	query := `
		INSERT INTO user_security_credentials (user_id, transaction_pin_hash, failed_attempts, locked_until)
		VALUES ($1, $2, 0, NULL)
		ON CONFLICT (user_id) DO UPDATE
		SET transaction_pin_hash = EXCLUDED.transaction_pin_hash,
		    failed_attempts = 0,
		    last_failed_at = NULL,
		    locked_until = NULL
	`
	_, err := r.db.Exec(ctx, query, userID, pinHash)
	return err
}

// RecordFailedTransactionPINAttempt atomically increments failed attempts and applies lockout.
func (r *PostgresRepository) RecordFailedTransactionPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockoutDurationSeconds int) (*domain.UserSecurityCredential, error) {
	var credential domain.UserSecurityCredential
	query := `
		UPDATE user_security_credentials
		SET
			failed_attempts = CASE
				WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
					OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
				ELSE failed_attempts + 1
			END,
			last_failed_at = NOW(),
			locked_until = CASE
				WHEN (
					CASE
						WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
							OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END
		WHERE user_id = $1
		RETURNING user_id, transaction_pin_hash, failed_attempts, locked_until
	`
	err := r.db.QueryRow(ctx, query, userID, maxAttempts, lockoutDurationSeconds).Scan(
		&credential.UserID,
		&credential.TransactionPINHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionPINNotSet
		}
		return nil, err
	}

	return &credential, nil
}

// ResetTransactionPINFailureState clears failed-attempt counters after a successful PIN verification.
func (r *PostgresRepository) ResetTransactionPINFailureState(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE user_security_credentials
		SET failed_attempts = 0, last_failed_at = NULL, locked_until = NULL
		WHERE user_id = $1
	`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionPINNotSet
	}
	return nil
}
