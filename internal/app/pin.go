/**
 * @description
 * Transaction PIN flows: creation, existence check and verification. The PIN
 * is a second factor gating payment submission. Hashes are bcrypt; failed
 * attempts are counted atomically in the database and trip a temporary
 * lockout; a distributed rate limiter throttles verification bursts before
 * any credential is touched.
 *
 * Callers must map every verification failure to one generic client-facing
 * message so attempt counts and lockout state never leak.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rosebank/pix-service/internal/store"
)

var (
	ErrInvalidTransactionPIN     = errors.New("invalid transaction pin")
	ErrTransactionPINLocked      = errors.New("transaction pin is temporarily locked")
	ErrTransactionPINRateLimited = errors.New("too many pin verification attempts")
	ErrInvalidPINFormat          = errors.New("transaction pin must be exactly 6 digits")
)

const pinRateLimitScope = "pin_verify"

func validPINFormat(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SetTransactionPIN creates or replaces the user's transaction PIN. Setting
// a new PIN clears any failure counters and lockout.
func (s *Service) SetTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if !validPINFormat(pin) {
		return ErrInvalidPINFormat
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash transaction pin: %w", err)
	}
	if err := s.repo.UpsertTransactionPINHash(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("failed to store transaction pin: %w", err)
	}
	log.Printf("level=info component=pin user_id=%s msg=\"transaction pin set\"", userID)
	return nil
}

// HasTransactionPIN reports whether the user has a transaction PIN on file.
func (s *Service) HasTransactionPIN(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := s.repo.GetUserSecurityCredentialByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionPINNotSet) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// VerifyTransactionPIN checks the supplied PIN against the stored hash. A
// mismatch increments the failure counter atomically and may trip the
// lockout. The limiter runs first so bursts never reach bcrypt.
func (s *Service) VerifyTransactionPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if s.rateLimiter != nil && s.cfg.PINRateLimitPerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, pinRateLimitScope, userID.String(), s.cfg.PINRateLimitPerMinute, time.Minute)
		if err != nil {
			// Limiter outage must not block payments; the database lockout
			// still bounds attempts.
			log.Printf("level=warn component=pin user_id=%s msg=\"rate limiter unavailable; relying on lockout\" err=%v", userID, err)
		} else if count > s.cfg.PINRateLimitPerMinute {
			log.Printf("level=warn component=pin user_id=%s count=%d retry_after=%d msg=\"pin verification rate limited\"", userID, count, retryAfter)
			return ErrTransactionPINRateLimited
		}
	}

	if !validPINFormat(pin) {
		return ErrInvalidTransactionPIN
	}

	credential, err := s.repo.GetUserSecurityCredentialByUserID(ctx, userID)
	if err != nil {
		return err
	}

	if credential.LockedUntil != nil && credential.LockedUntil.After(time.Now()) {
		return ErrTransactionPINLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(credential.TransactionPINHash), []byte(pin)); err != nil {
		updated, recordErr := s.repo.RecordFailedTransactionPINAttempt(ctx, userID, s.cfg.PINMaxAttempts, s.cfg.PINLockoutSeconds)
		if recordErr != nil {
			log.Printf("level=error component=pin user_id=%s msg=\"failed to record pin attempt\" err=%v", userID, recordErr)
			return ErrInvalidTransactionPIN
		}
		if updated.LockedUntil != nil && updated.LockedUntil.After(time.Now()) {
			return ErrTransactionPINLocked
		}
		return ErrInvalidTransactionPIN
	}

	if err := s.repo.ResetTransactionPINFailureState(ctx, userID); err != nil {
		log.Printf("level=warn component=pin user_id=%s msg=\"failed to reset pin failure state\" err=%v", userID, err)
	}
	return nil
}
