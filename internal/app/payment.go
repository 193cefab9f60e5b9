/**
 * @description
 * Payment confirmation pipeline. An intent moves through
 * DECODING -> RESOLVING_RECIPIENT -> AWAITING_CONFIRMATION -> AWAITING_PIN ->
 * SUBMITTING -> POLLING and ends in exactly one of CONFIRMED, FAILED or
 * TIMEOUT. Each stage is an explicit method; the HTTP layer composes them.
 *
 * TIMEOUT is deliberately distinct from FAILED: after the poll budget is
 * exhausted the money may still move, so the user is told to check their
 * statement rather than that the payment failed.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rosebank/pix-service/internal/domain"
	"github.com/rosebank/pix-service/internal/store"
	"github.com/rosebank/pix-service/pkg/celcoinclient"
)

var (
	// ErrWrongPaymentState is returned when an operation is applied to an
	// intent that is not in the stage the operation expects.
	ErrWrongPaymentState = errors.New("payment intent is not in the expected state")
	// ErrAmountImmutable is returned when the caller tries to override an
	// amount fixed by the EMV payload.
	ErrAmountImmutable = errors.New("amount is fixed by the QR code and cannot be changed")
	// ErrAmountRequired is returned when the QR does not fix an amount and
	// the caller supplied none.
	ErrAmountRequired = errors.New("amount is required for this payment")
)

// Transaction identification length contract per QR kind, checked before
// submission. Violations are logged, not blocked: the provider is the
// authority on acceptance.
const (
	dynamicTxIDMinLen = 26
	dynamicTxIDMaxLen = 35
	staticTxIDMaxLen  = 25
)

type providerOutcome int

const (
	outcomePending providerOutcome = iota
	outcomeConfirmed
	outcomeFailed
)

// classifyProviderStatus normalizes a provider settlement status before
// branching. Unknown statuses are treated as still pending.
func classifyProviderStatus(raw string) providerOutcome {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed", "settled", "completed", "success", "successful", "liquidated":
		return outcomeConfirmed
	case "failed", "rejected", "error", "cancelled", "canceled", "denied", "returned":
		return outcomeFailed
	default:
		return outcomePending
	}
}

func normalizeQRKind(raw string) domain.QRKind {
	if strings.EqualFold(strings.TrimSpace(raw), string(domain.QRKindDynamic)) {
		return domain.QRKindDynamic
	}
	return domain.QRKindStatic
}

// DecodePayment runs the first two stages of the pipeline: EMV decode and
// recipient resolution. It creates the intent, persists each transition, and
// returns the intent in AWAITING_CONFIRMATION on success. Decode failure is
// terminal for the attempt. Recipient lookup failure is terminal for static
// QR codes; dynamic QR codes carrying a transaction identification proceed
// with a synthesized recipient record instead.
func (s *Service) DecodePayment(ctx context.Context, userID uuid.UUID, rawCode string) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{
		ID:              uuid.New(),
		UserID:          userID,
		ClientRequestID: uuid.NewString(),
		Status:          domain.StateDecoding,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	decoded, err := s.provider.DecodeEMV(ctx, rawCode)
	if err != nil {
		reason := fmt.Sprintf("emv decode failed: %v", err)
		s.finalizeFailed(ctx, intent, reason)
		return intent, fmt.Errorf("emv decode failed: %w", err)
	}

	intent.QRKind = normalizeQRKind(decoded.QRKind)
	intent.PixKey = decoded.Key
	intent.TransactionIdentification = decoded.TransactionIdentification
	if decoded.Amount != "" {
		amount, err := domain.ParseAmount(decoded.Amount)
		if err != nil {
			reason := fmt.Sprintf("unparsable amount in EMV payload: %v", err)
			s.finalizeFailed(ctx, intent, reason)
			return intent, fmt.Errorf("unparsable amount %q in EMV payload: %w", decoded.Amount, err)
		}
		intent.Amount = amount
		intent.AmountFixed = true
	}

	intent.Status = domain.StateResolvingRecipient
	if err := s.repo.UpdatePaymentIntent(ctx, intent); err != nil {
		return intent, fmt.Errorf("failed to persist decode result: %w", err)
	}

	lookup, err := s.provider.LookupRecipient(ctx, decoded.Key, userID.String(), s.cfg.SourceAccount)
	if err != nil {
		if intent.QRKind == domain.QRKindDynamic && intent.TransactionIdentification != "" {
			// Dynamic payloads carry enough routing information for the
			// provider to settle without a directory record.
			log.Printf("level=warn component=payment intent_id=%s msg=\"recipient lookup failed for dynamic QR; proceeding with synthesized recipient\" err=%v", intent.ID, err)
			intent.Recipient = domain.Recipient{
				Name:        synthesizedRecipientName(decoded),
				Synthesized: true,
			}
		} else {
			reason := fmt.Sprintf("recipient lookup failed: %v", err)
			s.finalizeFailed(ctx, intent, reason)
			return intent, fmt.Errorf("recipient lookup failed: %w", err)
		}
	} else {
		intent.Recipient = domain.Recipient{
			Name:        lookup.Name,
			TaxID:       lookup.DocumentNumber,
			Institution: lookup.Participant,
			Account:     lookup.AccountNumber,
			Branch:      lookup.Branch,
		}
	}

	intent.Status = domain.StateAwaitingConfirmation
	if err := s.repo.UpdatePaymentIntent(ctx, intent); err != nil {
		return intent, fmt.Errorf("failed to persist resolved recipient: %w", err)
	}

	log.Printf("level=info component=payment intent_id=%s user_id=%s qr_kind=%s amount_fixed=%v msg=\"payment decoded and recipient resolved\"", intent.ID, userID, intent.QRKind, intent.AmountFixed)
	return intent, nil
}

func synthesizedRecipientName(decoded *celcoinclient.DecodeResponse) string {
	if desc := strings.TrimSpace(decoded.Description); desc != "" {
		return desc
	}
	return "Unverified recipient"
}

// ConfirmPayment applies the amount rules and advances the intent to
// AWAITING_PIN. A fixed EMV amount is immutable; otherwise the caller must
// supply a positive decimal with exactly two fraction digits.
func (s *Service) ConfirmPayment(ctx context.Context, userID, intentID uuid.UUID, amount string) (*domain.PaymentIntent, error) {
	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID, userID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.StateAwaitingConfirmation {
		return intent, fmt.Errorf("%w: have %s, want %s", ErrWrongPaymentState, intent.Status, domain.StateAwaitingConfirmation)
	}

	amount = strings.TrimSpace(amount)
	if intent.AmountFixed {
		if amount != "" {
			supplied, err := domain.ParseAmount(amount)
			if err != nil || supplied != intent.Amount {
				return intent, ErrAmountImmutable
			}
		}
	} else {
		if amount == "" {
			return intent, ErrAmountRequired
		}
		parsed, err := domain.ParseAmount(amount)
		if err != nil {
			return intent, err
		}
		intent.Amount = parsed
	}

	intent.Status = domain.StateAwaitingPIN
	if err := s.repo.UpdatePaymentIntent(ctx, intent); err != nil {
		return intent, fmt.Errorf("failed to persist confirmation: %w", err)
	}
	return intent, nil
}

// ExecutePayment runs the PIN gate, submission and bounded settlement
// polling, driving the intent to a terminal state. A PIN failure leaves the
// intent at AWAITING_PIN and returns a sentinel; the client keeps the
// confirmation context and may retry manually. Terminal outcomes (CONFIRMED,
// FAILED, TIMEOUT) are expressed in the returned intent, not as errors.
func (s *Service) ExecutePayment(ctx context.Context, userID, intentID uuid.UUID, pin string) (*domain.PaymentIntent, error) {
	intent, err := s.repo.FindPaymentIntentByID(ctx, intentID, userID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.StateAwaitingPIN {
		return intent, fmt.Errorf("%w: have %s, want %s", ErrWrongPaymentState, intent.Status, domain.StateAwaitingPIN)
	}

	if err := s.VerifyTransactionPIN(ctx, userID, pin); err != nil {
		return intent, err
	}

	intent.Status = domain.StateSubmitting
	if err := s.repo.UpdatePaymentIntentStatus(ctx, intent.ID, domain.StateSubmitting); err != nil {
		return intent, fmt.Errorf("failed to persist submission start: %w", err)
	}

	s.checkTransactionIdentification(intent)

	req := celcoinclient.PaymentRequest{
		ClientRequestID: intent.ClientRequestID,
		Amount:          domain.FormatAmount(intent.Amount),
		DebitParty: celcoinclient.PaymentParty{
			Branch:        s.cfg.SourceBranch,
			AccountNumber: s.cfg.SourceAccount,
		},
		CreditParty: celcoinclient.PaymentParty{
			Name:           intent.Recipient.Name,
			DocumentNumber: intent.Recipient.TaxID,
			Participant:    intent.Recipient.Institution,
			Branch:         intent.Recipient.Branch,
			AccountNumber:  intent.Recipient.Account,
			Key:            intent.PixKey,
		},
		TransactionIdentification: intent.TransactionIdentification,
	}

	resp, err := s.provider.SubmitPayment(ctx, req)
	if err != nil {
		var provErr *celcoinclient.ErrorResponse
		if errors.As(err, &provErr) && provErr.IsExplicitRejection() {
			s.finalizeFailed(ctx, intent, fmt.Sprintf("provider rejected payment: %v", provErr))
		} else {
			s.finalizeFailed(ctx, intent, fmt.Sprintf("submission failed before acceptance: %v", err))
		}
		return intent, nil
	}

	if err := s.repo.SetPaymentIntentTransactionID(ctx, intent.ID, resp.TransactionID, domain.StatePolling); err != nil {
		return intent, fmt.Errorf("failed to persist accepted submission: %w", err)
	}
	intent.TransactionID = &resp.TransactionID
	intent.Status = domain.StatePolling
	log.Printf("level=info component=payment intent_id=%s transaction_id=%s client_request_id=%s msg=\"payment accepted; polling settlement\"", intent.ID, resp.TransactionID, intent.ClientRequestID)

	return s.pollSettlement(ctx, intent)
}

// checkTransactionIdentification enforces the QR-kind length contract as a
// logged warning only.
func (s *Service) checkTransactionIdentification(intent *domain.PaymentIntent) {
	length := len(intent.TransactionIdentification)
	switch intent.QRKind {
	case domain.QRKindDynamic:
		if length < dynamicTxIDMinLen || length > dynamicTxIDMaxLen {
			log.Printf("level=warn component=payment intent_id=%s msg=\"transaction identification length outside dynamic contract\" length=%d min=%d max=%d", intent.ID, length, dynamicTxIDMinLen, dynamicTxIDMaxLen)
		}
	case domain.QRKindStatic:
		if length > staticTxIDMaxLen {
			log.Printf("level=warn component=payment intent_id=%s msg=\"transaction identification length outside static contract\" length=%d max=%d", intent.ID, length, staticTxIDMaxLen)
		}
	}
}

// pollSettlement polls the provider at a fixed interval for a bounded number
// of attempts. The first terminal provider status wins. Exhausting the
// budget yields TIMEOUT, never an extra poll. A cancelled context leaves the
// intent in POLLING for the reconciliation job to finalize.
func (s *Service) pollSettlement(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	for attempt := 1; attempt <= s.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			log.Printf("level=warn component=payment intent_id=%s msg=\"polling interrupted; intent left for reconciliation\" attempt=%d err=%v", intent.ID, attempt, ctx.Err())
			return intent, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}

		status, err := s.provider.GetPaymentStatus(ctx, *intent.TransactionID)
		if err != nil {
			log.Printf("level=warn component=payment intent_id=%s attempt=%d msg=\"status poll failed\" err=%v", intent.ID, attempt, err)
			continue
		}

		switch classifyProviderStatus(status.Status) {
		case outcomeConfirmed:
			s.finalizeConfirmed(ctx, intent, status)
			return intent, nil
		case outcomeFailed:
			reason := status.Reason
			if reason == "" {
				reason = fmt.Sprintf("provider reported status %q", status.Status)
			}
			s.finalizeFailed(ctx, intent, reason)
			return intent, nil
		default:
			// Still pending; keep the remaining budget.
		}
	}

	s.finalizeTimeout(ctx, intent)
	return intent, nil
}

// finalizeConfirmed marks the intent CONFIRMED, synthesizes the immutable
// receipt and publishes the terminal event.
func (s *Service) finalizeConfirmed(ctx context.Context, intent *domain.PaymentIntent, status *celcoinclient.StatusResponse) {
	if err := s.repo.MarkPaymentIntentTerminal(ctx, intent.ID, domain.StateConfirmed, nil); err != nil {
		if errors.Is(err, store.ErrIntentTerminal) {
			log.Printf("level=info component=payment intent_id=%s msg=\"intent already finalized elsewhere\"", intent.ID)
		} else {
			log.Printf("level=error component=payment intent_id=%s msg=\"failed to persist CONFIRMED state\" err=%v", intent.ID, err)
		}
	}
	intent.Status = domain.StateConfirmed

	receipt := &domain.Receipt{
		IntentID:        intent.ID,
		TransactionID:   *intent.TransactionID,
		ClientRequestID: intent.ClientRequestID,
		Recipient:       intent.Recipient,
		Amount:          intent.Amount,
		ProviderStatus:  status.Status,
		SettledAt:       time.Now(),
	}
	if err := s.repo.SaveReceipt(ctx, receipt); err != nil {
		log.Printf("level=error component=payment intent_id=%s msg=\"failed to persist receipt\" err=%v", intent.ID, err)
	}

	log.Printf("level=info component=payment intent_id=%s transaction_id=%s amount=%d msg=\"payment confirmed\"", intent.ID, *intent.TransactionID, intent.Amount)
	s.publishTerminalEvent(ctx, intent, "")
}

// finalizeFailed marks the intent FAILED with a reason and publishes the
// terminal event. The confirmation context stays with the client; retries
// are always manual and create a new intent.
func (s *Service) finalizeFailed(ctx context.Context, intent *domain.PaymentIntent, reason string) {
	if err := s.repo.MarkPaymentIntentTerminal(ctx, intent.ID, domain.StateFailed, &reason); err != nil && !errors.Is(err, store.ErrIntentTerminal) {
		log.Printf("level=error component=payment intent_id=%s msg=\"failed to persist FAILED state\" err=%v", intent.ID, err)
	}
	intent.Status = domain.StateFailed
	intent.FailureReason = &reason
	log.Printf("level=warn component=payment intent_id=%s msg=\"payment failed\" reason=%q", intent.ID, reason)
	s.publishTerminalEvent(ctx, intent, reason)
}

// finalizeTimeout marks the intent TIMEOUT after the poll budget is spent
// without a terminal provider status. The outcome is unknown, not failed.
func (s *Service) finalizeTimeout(ctx context.Context, intent *domain.PaymentIntent) {
	reason := fmt.Sprintf("settlement status unknown after %d polls", s.cfg.PollMaxAttempts)
	if err := s.repo.MarkPaymentIntentTerminal(ctx, intent.ID, domain.StateTimeout, &reason); err != nil && !errors.Is(err, store.ErrIntentTerminal) {
		log.Printf("level=error component=payment intent_id=%s msg=\"failed to persist TIMEOUT state\" err=%v", intent.ID, err)
	}
	intent.Status = domain.StateTimeout
	intent.FailureReason = &reason
	log.Printf("level=warn component=payment intent_id=%s transaction_id=%v msg=\"poll budget exhausted; payment timed out\"", intent.ID, intent.TransactionID)
	s.publishTerminalEvent(ctx, intent, reason)
}

// publishTerminalEvent routes the terminal outcome onto the event exchange.
// Publish failures are logged, never surfaced: the database row is the
// source of truth.
func (s *Service) publishTerminalEvent(ctx context.Context, intent *domain.PaymentIntent, reason string) {
	if s.eventProducer == nil {
		return
	}
	event := domain.PaymentStatusEvent{
		IntentID:  intent.ID,
		UserID:    intent.UserID,
		Status:    string(intent.Status),
		Reason:    reason,
		Amount:    intent.Amount,
		Timestamp: time.Now(),
	}
	if intent.TransactionID != nil {
		event.TransactionID = *intent.TransactionID
	}
	routingKey := "pix.payment." + strings.ToLower(string(intent.Status))
	if err := s.eventProducer.Publish(ctx, s.cfg.EventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=payment intent_id=%s msg=\"failed to publish terminal event\" routing_key=%s err=%v", intent.ID, routingKey, err)
	}
}

// GetPaymentIntent returns an intent scoped to its owner.
func (s *Service) GetPaymentIntent(ctx context.Context, userID, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	return s.repo.FindPaymentIntentByID(ctx, intentID, userID)
}

// GetReceipt returns the receipt for a confirmed payment.
func (s *Service) GetReceipt(ctx context.Context, userID, intentID uuid.UUID) (*domain.Receipt, error) {
	if _, err := s.repo.FindPaymentIntentByID(ctx, intentID, userID); err != nil {
		return nil, err
	}
	return s.repo.FindReceiptByIntentID(ctx, intentID)
}
