/**
 * @description
 * This file defines the core domain models for the pix-service. These structs
 * represent one in-flight PIX payment attempt as it moves through the
 * confirmation pipeline, plus the receipt synthesized once settlement is
 * acknowledged by the provider.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (centavos), which avoids floating-point inaccuracies with
 *   financial data. The provider-native decimal string is regenerated from
 *   the centavo value at the wire boundary, so the value survives every
 *   state transition unchanged.
 * - Terminal states (CONFIRMED, FAILED, TIMEOUT) are immutable once reached;
 *   the store enforces this with guarded updates.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentState identifies one stage of the payment confirmation pipeline.
type PaymentState string

const (
	StateDecoding             PaymentState = "DECODING"
	StateResolvingRecipient   PaymentState = "RESOLVING_RECIPIENT"
	StateAwaitingConfirmation PaymentState = "AWAITING_CONFIRMATION"
	StateAwaitingPIN          PaymentState = "AWAITING_PIN"
	StateSubmitting           PaymentState = "SUBMITTING"
	StatePolling              PaymentState = "POLLING"
	StateConfirmed            PaymentState = "CONFIRMED"
	StateFailed               PaymentState = "FAILED"
	StateTimeout              PaymentState = "TIMEOUT"
)

// IsTerminal reports whether the state ends the attempt. Terminal intents
// map 1:1 to a receipt (CONFIRMED) or an error outcome handed back to the
// client for manual retry (FAILED, TIMEOUT).
func (s PaymentState) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimeout
}

// QRKind distinguishes dynamic from static EMV payloads. The kind determines
// the transaction-identification length contract on submission: dynamic
// requires 26-35 characters, static at most 25.
type QRKind string

const (
	QRKindDynamic QRKind = "DYNAMIC"
	QRKindStatic  QRKind = "STATIC"
)

// Recipient is the resolved receiving party. Synthesized is true when the
// directory lookup failed for a dynamic QR and the record was built from the
// EMV payload alone.
type Recipient struct {
	Name        string `json:"name"`
	TaxID       string `json:"tax_id"`
	Institution string `json:"institution"`
	Account     string `json:"account"`
	Branch      string `json:"branch"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

// PaymentIntent represents one in-flight PIX payment attempt. It maps to the
// `payment_intents` table.
type PaymentIntent struct {
	ID                        uuid.UUID    `json:"id"`
	UserID                    uuid.UUID    `json:"user_id"`
	ClientRequestID           string       `json:"client_request_id"`
	TransactionID             *string      `json:"transaction_id,omitempty"`
	Status                    PaymentState `json:"status"`
	QRKind                    QRKind       `json:"qr_kind"`
	PixKey                    string       `json:"pix_key"`
	TransactionIdentification string       `json:"transaction_identification,omitempty"`
	Recipient                 Recipient    `json:"recipient"`
	Amount                    int64        `json:"amount"` // in centavos
	AmountFixed               bool         `json:"amount_fixed"`
	FailureReason             *string      `json:"failure_reason,omitempty"`
	CreatedAt                 time.Time    `json:"created_at"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}

// Receipt is the record synthesized when a payment reaches CONFIRMED. It
// combines the original intent, the submission response and the final poll
// payload, and is immutable once produced.
type Receipt struct {
	IntentID        uuid.UUID `json:"intent_id"`
	TransactionID   string    `json:"transaction_id"`
	ClientRequestID string    `json:"client_request_id"`
	Recipient       Recipient `json:"recipient"`
	Amount          int64     `json:"amount"` // in centavos
	ProviderStatus  string    `json:"provider_status"`
	SettledAt       time.Time `json:"settled_at"`
}

// PaymentStatusEvent is the message payload published when an intent reaches
// a terminal state, consumed by statement and notification services.
type PaymentStatusEvent struct {
	IntentID      uuid.UUID `json:"intent_id"`
	UserID        uuid.UUID `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// UserSecurityCredential stores server-owned transaction PIN security
// metadata for a user.
type UserSecurityCredential struct {
	UserID             uuid.UUID  `json:"user_id"`
	TransactionPINHash string     `json:"-"`
	FailedAttempts     int        `json:"failed_attempts"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
}
