package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freightflow/chain-event-logger/internal/adapter"
	"github.com/freightflow/chain-event-logger/internal/block"
	"github.com/freightflow/chain-event-logger/internal/chain"
	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/processor"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

// Manager owns the polling loops, one per started subscription.
//
//go:generate mockgen -source=manager.go -destination=../mocks/watcher_manager.go -package=mocks -mock_names=Manager=MockManager
type Manager interface {
	// StartAll starts loops for every active subscription, used at boot
	StartAll(ctx context.Context) error

	// StartWatch starts the polling loop for a subscription and marks it
	// active. At most one loop per subscription can run.
	StartWatch(ctx context.Context, subscriptionID string) error

	// StopWatch stops the polling loop and marks the subscription stopped
	StopWatch(ctx context.Context, subscriptionID string) error

	// PauseWatch stops the polling loop and marks the subscription paused
	PauseWatch(ctx context.Context, subscriptionID string) error

	// RestartWatch stops any running loop and starts a fresh one
	RestartWatch(ctx context.Context, subscriptionID string) error

	// IsRunning reports whether a loop is active for the subscription
	IsRunning(subscriptionID string) bool

	// PollWindow fetches, processes and checkpoints one block window for
	// a subscription. Used by the loop tick and by gap recovery.
	PollWindow(ctx context.Context, sub *schema.ContractSubscription, fromBlock, toBlock uint64) (domain.BatchResult, error)

	// Shutdown stops all loops and waits for them to drain
	Shutdown(ctx context.Context)
}

// Config holds polling loop configuration
type Config struct {
	// PollInterval is the delay between poll ticks
	PollInterval time.Duration
	// SeedOffset is how many blocks behind the head a fresh checkpoint starts
	SeedOffset uint64
}

type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type manager struct {
	store     store.Store
	chain     chain.Client
	blocks    block.BlockProvider
	processor processor.Processor
	clock     adapter.Clock
	config    Config

	mu    sync.Mutex
	loops map[string]*loopHandle
}

// NewManager creates a watch loop manager
func NewManager(s store.Store, c chain.Client, blocks block.BlockProvider, p processor.Processor, clock adapter.Clock, config Config) Manager {
	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.SeedOffset == 0 {
		config.SeedOffset = 100
	}
	return &manager{
		store:     s,
		chain:     c,
		blocks:    blocks,
		processor: p,
		clock:     clock,
		config:    config,
		loops:     make(map[string]*loopHandle),
	}
}

// StartAll starts loops for every active subscription
func (m *manager) StartAll(ctx context.Context) error {
	active := domain.SubscriptionStatusActive
	subs, err := m.store.ListSubscriptions(ctx, &active)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := m.StartWatch(ctx, sub.ID); err != nil {
			logger.WarnCtx(ctx, "failed to start watch loop",
				zap.String("subscription_id", sub.ID),
				zap.String("contract", sub.ContractAddress),
				zap.Error(err))
		}
	}

	logger.InfoCtx(ctx, "watch loops started", zap.Int("count", len(subs)))
	return nil
}

// StartWatch starts the polling loop for a subscription
func (m *manager) StartWatch(ctx context.Context, subscriptionID string) error {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	if err := m.seedCheckpoint(ctx, sub); err != nil {
		return err
	}

	m.mu.Lock()
	if _, running := m.loops[subscriptionID]; running {
		m.mu.Unlock()
		return domain.ErrWatchRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &loopHandle{cancel: cancel, done: make(chan struct{})}
	m.loops[subscriptionID] = handle
	m.mu.Unlock()

	if err := m.store.UpdateSubscriptionStatus(ctx, subscriptionID, domain.SubscriptionStatusActive, nil); err != nil {
		m.removeLoop(subscriptionID)
		cancel()
		close(handle.done)
		return err
	}

	go m.runLoop(loopCtx, sub, handle)

	logger.InfoCtx(ctx, "watch loop started",
		zap.String("subscription_id", sub.ID),
		zap.String("contract", sub.ContractAddress))
	return nil
}

// StopWatch stops the polling loop and marks the subscription stopped
func (m *manager) StopWatch(ctx context.Context, subscriptionID string) error {
	return m.stopWithStatus(ctx, subscriptionID, domain.SubscriptionStatusStopped)
}

// PauseWatch stops the polling loop and marks the subscription paused
func (m *manager) PauseWatch(ctx context.Context, subscriptionID string) error {
	return m.stopWithStatus(ctx, subscriptionID, domain.SubscriptionStatusPaused)
}

func (m *manager) stopWithStatus(ctx context.Context, subscriptionID string, status domain.SubscriptionStatus) error {
	if _, err := m.store.GetSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	m.stopLoop(subscriptionID)
	return m.store.UpdateSubscriptionStatus(ctx, subscriptionID, status, nil)
}

// RestartWatch stops any running loop and starts a fresh one
func (m *manager) RestartWatch(ctx context.Context, subscriptionID string) error {
	m.stopLoop(subscriptionID)
	return m.StartWatch(ctx, subscriptionID)
}

// IsRunning reports whether a loop is active for the subscription
func (m *manager) IsRunning(subscriptionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.loops[subscriptionID]
	return running
}

// Shutdown stops all loops and waits for them to drain
func (m *manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*loopHandle, 0, len(m.loops))
	for id, handle := range m.loops {
		handle.cancel()
		handles = append(handles, handle)
		delete(m.loops, id)
	}
	m.mu.Unlock()

	for _, handle := range handles {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return
		}
	}
}

// seedCheckpoint creates the initial checkpoint for a contract. A
// subscription with an explicit start block seeds there, otherwise the
// checkpoint starts a fixed offset behind the head so a fresh
// subscription backfills recent history without replaying the whole
// chain.
func (m *manager) seedCheckpoint(ctx context.Context, sub *schema.ContractSubscription) error {
	cp, err := m.store.GetCheckpoint(ctx, sub.ContractAddress)
	if err != nil {
		return err
	}
	if cp != nil {
		return nil
	}

	var seed uint64
	if sub.FromBlock != nil {
		if *sub.FromBlock > 0 {
			seed = *sub.FromBlock - 1
		}
	} else {
		head, err := m.blocks.GetLatestBlock(ctx)
		if err != nil {
			return err
		}
		if head > m.config.SeedOffset {
			seed = head - m.config.SeedOffset
		}
	}

	_, err = m.store.SeedCheckpoint(ctx, sub.ContractAddress, seed)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "checkpoint seeded",
		zap.String("contract", sub.ContractAddress),
		zap.Uint64("last_block", seed))
	return nil
}

// runLoop polls one subscription until canceled or a poll cycle fails
func (m *manager) runLoop(ctx context.Context, sub *schema.ContractSubscription, handle *loopHandle) {
	defer close(handle.done)
	defer m.removeLoop(sub.ID)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx, sub); err != nil {
				if ctx.Err() != nil {
					return
				}
				// The retry sweep revives errored subscriptions after the
				// cooldown, a broken node must not keep a hot loop spinning
				msg := err.Error()
				logger.ErrorCtx(ctx, err,
					zap.String("subscription_id", sub.ID),
					zap.String("contract", sub.ContractAddress))
				if uerr := m.store.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionStatusError, &msg); uerr != nil {
					logger.ErrorCtx(ctx, uerr, zap.String("subscription_id", sub.ID))
				}
				return
			}
		}
	}
}

// tick polls the window between the checkpoint and the current head
func (m *manager) tick(ctx context.Context, sub *schema.ContractSubscription) error {
	head, err := m.blocks.GetLatestBlock(ctx)
	if err != nil {
		return err
	}

	cp, err := m.store.GetCheckpoint(ctx, sub.ContractAddress)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint for contract %s", sub.ContractAddress)
	}

	if head <= cp.LastBlock {
		return nil
	}

	_, err = m.PollWindow(ctx, sub, cp.LastBlock+1, head)
	return err
}

// PollWindow fetches, processes and checkpoints one block window
func (m *manager) PollWindow(ctx context.Context, sub *schema.ContractSubscription, fromBlock, toBlock uint64) (domain.BatchResult, error) {
	eventTypes := make([]domain.EventType, 0, len(sub.EventTypes))
	for _, t := range sub.EventTypes {
		eventTypes = append(eventTypes, domain.EventType(t))
	}

	start := time.Now()

	raws, err := m.chain.FetchEvents(ctx, sub.ContractAddress, fromBlock, toBlock, eventTypes)
	if err != nil {
		return domain.BatchResult{}, err
	}

	result, err := m.processor.ProcessBatch(ctx, sub, raws)
	if err != nil {
		return result, err
	}

	err = m.store.AdvanceCheckpoint(ctx, sub.ContractAddress, toBlock, store.CheckpointDelta{
		EventsStored:      int64(result.Stored),
		DuplicatesSkipped: int64(result.Duplicates),
		FailedEvents:      int64(result.Failed),
		BatchSize:         len(raws),
		Duration:          time.Since(start),
	})
	if err != nil {
		return result, err
	}

	if result.Stored > 0 || result.Failed > 0 {
		logger.InfoCtx(ctx, "poll window processed",
			zap.String("contract", sub.ContractAddress),
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", toBlock),
			zap.Int("stored", result.Stored),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("failed", result.Failed))
	}

	return result, nil
}

func (m *manager) stopLoop(subscriptionID string) {
	m.mu.Lock()
	handle, running := m.loops[subscriptionID]
	if running {
		handle.cancel()
		delete(m.loops, subscriptionID)
	}
	m.mu.Unlock()

	if running {
		<-handle.done
	}
}

func (m *manager) removeLoop(subscriptionID string) {
	m.mu.Lock()
	delete(m.loops, subscriptionID)
	m.mu.Unlock()
}
