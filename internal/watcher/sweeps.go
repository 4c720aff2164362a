package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/freightflow/chain-event-logger/internal/block"
	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/processor"
	"github.com/freightflow/chain-event-logger/internal/store"
)

// SweepConfig holds the schedules and bounds for the background sweeps
type SweepConfig struct {
	// RetrySchedule is the cron spec for the retry sweep
	RetrySchedule string
	// GapSchedule is the cron spec for the gap recovery sweep
	GapSchedule string
	// CleanupSchedule is the cron spec for the retention sweep
	CleanupSchedule string
	// RetryCooldown is how long an errored subscription rests before the
	// sweep revives it
	RetryCooldown time.Duration
	// GapThreshold is the minimum head-to-checkpoint distance that counts
	// as a gap worth recovering outside the regular tick
	GapThreshold uint64
	// WorkerPoolSize bounds concurrent gap recoveries
	WorkerPoolSize int
	// WorkerQueueSize bounds the gap recovery queue
	WorkerQueueSize int
}

// Sweeps runs the periodic maintenance jobs: reviving errored
// subscriptions, retrying failed events, closing checkpoint gaps and
// purging events past retention.
type Sweeps struct {
	store     store.Store
	blocks    block.BlockProvider
	manager   Manager
	processor processor.Processor
	config    SweepConfig

	cron *cron.Cron
	pool pond.Pool
}

// NewSweeps creates the sweep scheduler
func NewSweeps(s store.Store, blocks block.BlockProvider, manager Manager, p processor.Processor, config SweepConfig) *Sweeps {
	if config.RetrySchedule == "" {
		config.RetrySchedule = "*/5 * * * *"
	}
	if config.GapSchedule == "" {
		config.GapSchedule = "0 * * * *"
	}
	if config.CleanupSchedule == "" {
		config.CleanupSchedule = "0 3 * * *"
	}
	if config.RetryCooldown == 0 {
		config.RetryCooldown = 5 * time.Minute
	}
	if config.GapThreshold == 0 {
		config.GapThreshold = 10
	}
	if config.WorkerPoolSize == 0 {
		config.WorkerPoolSize = 10
	}

	return &Sweeps{
		store:     s,
		blocks:    blocks,
		manager:   manager,
		processor: p,
		config:    config,
		cron:      cron.New(),
	}
}

// Start registers the sweep schedules and starts the scheduler
func (s *Sweeps) Start(ctx context.Context) error {
	s.pool = pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.WorkerQueueSize),
		pond.WithContext(ctx),
	)

	if _, err := s.cron.AddFunc(s.config.RetrySchedule, func() { s.runRetrySweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule retry sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.GapSchedule, func() { s.runGapSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule gap sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.CleanupSchedule, func() { s.runCleanupSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup sweep: %w", err)
	}

	s.cron.Start()
	logger.InfoCtx(ctx, "sweeps scheduled",
		zap.String("retry", s.config.RetrySchedule),
		zap.String("gap", s.config.GapSchedule),
		zap.String("cleanup", s.config.CleanupSchedule))
	return nil
}

// Stop stops the scheduler and waits for running sweeps to finish
func (s *Sweeps) Stop() {
	<-s.cron.Stop().Done()
	if s.pool != nil {
		s.pool.StopAndWait()
	}
}

// runRetrySweep revives errored subscriptions past their cooldown and
// reprocesses failed events
func (s *Sweeps) runRetrySweep(ctx context.Context) {
	subs, err := s.store.ListSubscriptionsForRetry(ctx, s.config.RetryCooldown)
	if err != nil {
		logger.ErrorCtx(ctx, err)
		return
	}

	revived := 0
	for _, sub := range subs {
		if s.manager.IsRunning(sub.ID) {
			continue
		}
		if err := s.manager.StartWatch(ctx, sub.ID); err != nil {
			logger.WarnCtx(ctx, "failed to revive subscription",
				zap.String("subscription_id", sub.ID),
				zap.String("contract", sub.ContractAddress),
				zap.Error(err))
			continue
		}
		revived++
	}

	if revived > 0 {
		logger.InfoCtx(ctx, "revived errored subscriptions", zap.Int("count", revived))
	}

	if _, err := s.processor.RetryFailedEvents(ctx, 0); err != nil {
		logger.ErrorCtx(ctx, err)
	}
}

// runGapSweep closes the distance between checkpoints and the head for
// contracts whose loops have fallen behind
func (s *Sweeps) runGapSweep(ctx context.Context) {
	head, err := s.blocks.GetLatestBlock(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, err)
		return
	}

	checkpoints, err := s.store.ListCheckpoints(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, err)
		return
	}

	group := s.pool.NewGroup()
	for _, cp := range checkpoints {
		if head <= cp.LastBlock || head-cp.LastBlock <= s.config.GapThreshold {
			continue
		}

		contract := cp.ContractAddress
		fromBlock := cp.LastBlock + 1

		group.SubmitErr(func() error {
			sub, err := s.store.GetSubscriptionByContract(ctx, contract)
			if err != nil {
				// A checkpoint can outlive its subscription, nothing to recover
				if err == domain.ErrSubscriptionNotFound {
					return nil
				}
				return err
			}
			if sub.Status != domain.SubscriptionStatusActive {
				return nil
			}

			logger.InfoCtx(ctx, "recovering checkpoint gap",
				zap.String("contract", contract),
				zap.Uint64("from_block", fromBlock),
				zap.Uint64("to_block", head))

			_, err = s.manager.PollWindow(ctx, sub, fromBlock, head)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		logger.ErrorCtx(ctx, err)
	}
}

// runCleanupSweep purges events past the retention window
func (s *Sweeps) runCleanupSweep(ctx context.Context) {
	if _, err := s.processor.CleanupOldEvents(ctx, 0); err != nil {
		logger.ErrorCtx(ctx, err)
	}
}
