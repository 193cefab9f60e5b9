/**
 * @description
 * Stale-intent reconciliation. A crash or cancelled request can leave an
 * intent in SUBMITTING or POLLING with a provider transaction id and no
 * terminal outcome. The reconciliation job gives each such intent one more
 * status poll and finalizes it: a terminal provider status wins, anything
 * else becomes TIMEOUT so the user is told to check their statement.
 *
 * The job is driven by a cron scheduler; both the schedule and the batch
 * size come from configuration.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const maxReconcileBatchSize = 500

// IntentReconcileResult summarizes one reconciliation pass.
type IntentReconcileResult struct {
	Processed int `json:"processed"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// ReconcileStaleIntents finalizes intents stuck in flight past the staleness
// cutoff. Each candidate gets exactly one status poll.
func (s *Service) ReconcileStaleIntents(ctx context.Context, staleAfter time.Duration, limit int) (*IntentReconcileResult, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxReconcileBatchSize {
		limit = maxReconcileBatchSize
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}

	cutoff := time.Now().UTC().Add(-staleAfter)
	candidates, err := s.repo.ListStalePaymentIntents(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payment intents: %w", err)
	}

	result := &IntentReconcileResult{Processed: len(candidates)}

	for i := range candidates {
		intent := &candidates[i]
		if intent.TransactionID == nil {
			// Listed candidates always carry a transaction id; guard anyway.
			continue
		}

		status, pollErr := s.provider.GetPaymentStatus(ctx, *intent.TransactionID)
		if pollErr != nil {
			log.Printf("level=warn component=reconcile intent_id=%s msg=\"reconcile poll failed; timing out intent\" err=%v", intent.ID, pollErr)
			s.finalizeTimeout(ctx, intent)
			result.TimedOut++
			continue
		}

		switch classifyProviderStatus(status.Status) {
		case outcomeConfirmed:
			s.finalizeConfirmed(ctx, intent, status)
			result.Confirmed++
		case outcomeFailed:
			reason := status.Reason
			if reason == "" {
				reason = fmt.Sprintf("provider reported status %q", status.Status)
			}
			s.finalizeFailed(ctx, intent, reason)
			result.Failed++
		default:
			s.finalizeTimeout(ctx, intent)
			result.TimedOut++
		}
	}

	if result.Processed > 0 {
		log.Printf("level=info component=reconcile processed=%d confirmed=%d failed=%d timed_out=%d msg=\"reconciliation pass complete\"", result.Processed, result.Confirmed, result.Failed, result.TimedOut)
	}
	return result, nil
}

// ReconcileScheduler runs the reconciliation job on a cron schedule.
type ReconcileScheduler struct {
	cron       *cron.Cron
	service    *Service
	logger     *slog.Logger
	schedule   string
	staleAfter time.Duration
	batchSize  int
}

// NewReconcileScheduler creates the scheduler without starting it.
func NewReconcileScheduler(service *Service, logger *slog.Logger, schedule string, staleAfter time.Duration, batchSize int) *ReconcileScheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &ReconcileScheduler{
		cron:       c,
		service:    service,
		logger:     logger,
		schedule:   schedule,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

// Start registers the job and starts the cron scheduler.
func (s *ReconcileScheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		s.logger.Error("failed to schedule intent reconciliation job", "error", err)
	} else {
		s.logger.Info("scheduled intent reconciliation job", "schedule", s.schedule)
	}
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *ReconcileScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ReconcileScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := s.service.ReconcileStaleIntents(ctx, s.staleAfter, s.batchSize)
	if err != nil {
		s.logger.Error("intent reconciliation pass failed", "error", err)
		return
	}
	if result.Processed > 0 {
		s.logger.Info("intent reconciliation pass finished",
			"processed", result.Processed,
			"confirmed", result.Confirmed,
			"failed", result.Failed,
			"timed_out", result.TimedOut,
		)
	}
}
