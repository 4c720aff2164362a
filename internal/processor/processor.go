package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/freightflow/chain-event-logger/internal/adapter"
	"github.com/freightflow/chain-event-logger/internal/block"
	"github.com/freightflow/chain-event-logger/internal/chain"
	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

// Processor decodes raw logs and persists them exactly once.
//
//go:generate mockgen -source=processor.go -destination=../mocks/processor.go -package=mocks -mock_names=Processor=MockProcessor
type Processor interface {
	// ProcessBatch decodes and stores a poll window's logs for one
	// subscription. A single bad event never fails the batch.
	ProcessBatch(ctx context.Context, sub *schema.ContractSubscription, raws []domain.RawEvent) (domain.BatchResult, error)

	// RetryFailedEvents reprocesses failed events below the retry bound,
	// oldest first, returning the number recovered. A zero maxRetries
	// falls back to the configured bound.
	RetryFailedEvents(ctx context.Context, maxRetries int) (int, error)

	// CleanupOldEvents removes events older than the retention window,
	// returning the number deleted. A zero daysToKeep falls back to the
	// configured window.
	CleanupOldEvents(ctx context.Context, daysToKeep int) (int64, error)
}

// ProcessingVersion is stamped into event metadata so reprocessed rows
// can be told apart after a decoder change
const ProcessingVersion = "1"

// Config holds processing bounds
type Config struct {
	// MaxRetries bounds reprocessing attempts per failed event
	MaxRetries int
	// RetryBatchSize bounds how many failed events one sweep picks up
	RetryBatchSize int
	// DaysToKeep is the retention window for stored events
	DaysToKeep int
	// CleanupBatchSize bounds the rows deleted per statement
	CleanupBatchSize int
}

type processor struct {
	store  store.Store
	blocks block.BlockProvider
	clock  adapter.Clock
	config Config
}

// NewProcessor creates an event processor
func NewProcessor(s store.Store, blocks block.BlockProvider, clock adapter.Clock, config Config) Processor {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryBatchSize == 0 {
		config.RetryBatchSize = 100
	}
	if config.DaysToKeep == 0 {
		config.DaysToKeep = 90
	}
	return &processor{store: s, blocks: blocks, clock: clock, config: config}
}

// ProcessBatch decodes and stores a poll window's logs for one subscription
func (p *processor) ProcessBatch(ctx context.Context, sub *schema.ContractSubscription, raws []domain.RawEvent) (domain.BatchResult, error) {
	var result domain.BatchResult

	wanted := subscribedTypes(sub)
	criteria := filterCriteria(sub)

	for _, raw := range raws {
		start := time.Now()
		ev, created, filtered, err := p.processOne(ctx, raw, wanted, criteria)

		res := domain.ProcessingResult{
			TxHash:   raw.TxHash,
			LogIndex: raw.LogIndex,
			Duration: time.Since(start),
			Filtered: filtered,
			Err:      err,
		}
		if ev != nil {
			res.EventID = ev.ID
		}

		switch {
		case err != nil:
			result.Failed++
			logger.ErrorCtx(ctx, err,
				zap.String("tx_hash", raw.TxHash),
				zap.String("contract", raw.ContractAddress),
				zap.Uint64("block", raw.BlockNumber))
		case filtered:
			result.Filtered++
		case created:
			result.Stored++
		default:
			res.Duplicate = true
			result.Duplicates++
		}

		result.Results = append(result.Results, res)
	}

	if result.Stored > 0 {
		if err := p.store.IncrementEventsLogged(ctx, sub.ID, int64(result.Stored)); err != nil {
			logger.WarnCtx(ctx, "failed to bump subscription counter",
				zap.String("subscription_id", sub.ID), zap.Error(err))
		}
	}

	return result, nil
}

// processOne decodes and stores a single raw event. The first bool
// reports whether a new row was created, false means a natural-key
// duplicate. The second bool reports that the event was dropped by the
// subscription's type set or filter criteria.
func (p *processor) processOne(ctx context.Context, raw domain.RawEvent, wanted map[domain.EventType]bool, criteria map[string]string) (*schema.ChainEvent, bool, bool, error) {
	timestamp, err := p.blocks.GetBlockTimestamp(ctx, raw.BlockNumber)
	if err != nil {
		// Node timestamp lookups are best effort, ingestion time is an
		// acceptable stand-in and the block number stays authoritative
		logger.WarnCtx(ctx, "block timestamp unavailable, using ingestion time",
			zap.Uint64("block", raw.BlockNumber), zap.Error(err))
		timestamp = p.clock.Now().UTC()
	}

	decoded := chain.Decode(raw, timestamp)

	if wanted != nil && !wanted[decoded.Type] {
		return nil, false, true, nil
	}
	if !matchesCriteria(criteria, decoded.Fields) {
		return nil, false, true, nil
	}

	payload, err := json.Marshal(decoded.Fields)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode payload for tx %s: %w", raw.TxHash, err)
	}

	ev := schema.ChainEvent{
		EventType:       decoded.Type,
		ContractAddress: raw.ContractAddress,
		TxHash:          raw.TxHash,
		LogIndex:        raw.LogIndex,
		BlockNumber:     raw.BlockNumber,
		BlockHash:       raw.BlockHash,
		BlockTimestamp:  decoded.Timestamp,
		Payload:         datatypes.JSON(payload),
		Keys:            datatypes.NewJSONSlice(raw.Keys),
		Data:            datatypes.NewJSONSlice(raw.Data),
		Metadata:        p.eventMetadata(),
		Status:          domain.EventStatusProcessed,
	}

	created, err := p.store.UpsertEvent(ctx, &ev)
	return &ev, created, false, err
}

// eventMetadata records when and by which pipeline revision an event
// was decoded
func (p *processor) eventMetadata() datatypes.JSON {
	meta, _ := json.Marshal(map[string]string{
		"processed_at":       p.clock.Now().UTC().Format(time.RFC3339),
		"processing_version": ProcessingVersion,
	})
	return datatypes.JSON(meta)
}

// RetryFailedEvents reprocesses failed events below the retry bound
func (p *processor) RetryFailedEvents(ctx context.Context, maxRetries int) (int, error) {
	if maxRetries <= 0 {
		maxRetries = p.config.MaxRetries
	}

	failed, err := p.store.ListFailedEvents(ctx, maxRetries, p.config.RetryBatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, ev := range failed {
		retryCount := ev.RetryCount + 1

		err := p.reprocess(ctx, &ev)
		if err == nil {
			err = p.store.UpdateEventDecoding(ctx, ev.ID, ev.EventType, ev.Payload)
		}
		if err != nil {
			msg := err.Error()
			status := domain.EventStatusFailed
			if retryCount < maxRetries {
				status = domain.EventStatusRetrying
			}
			if uerr := p.store.UpdateEventStatus(ctx, ev.ID, status, retryCount, &msg); uerr != nil {
				logger.ErrorCtx(ctx, uerr, zap.Int64("event_id", ev.ID))
			}
			continue
		}

		if err := p.store.UpdateEventStatus(ctx, ev.ID, domain.EventStatusProcessed, retryCount, nil); err != nil {
			logger.ErrorCtx(ctx, err, zap.Int64("event_id", ev.ID))
			continue
		}
		recovered++
	}

	if len(failed) > 0 {
		logger.InfoCtx(ctx, "retry sweep finished",
			zap.Int("picked_up", len(failed)),
			zap.Int("recovered", recovered))
	}

	return recovered, nil
}

// reprocess re-decodes a stored event from its raw topics and data and
// refreshes the payload
func (p *processor) reprocess(ctx context.Context, ev *schema.ChainEvent) error {
	raw := domain.RawEvent{
		TxHash:          ev.TxHash,
		ContractAddress: ev.ContractAddress,
		BlockNumber:     ev.BlockNumber,
		BlockHash:       ev.BlockHash,
		LogIndex:        ev.LogIndex,
		Keys:            ev.Keys,
		Data:            ev.Data,
	}

	decoded := chain.Decode(raw, ev.BlockTimestamp)

	payload, err := json.Marshal(decoded.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	ev.EventType = decoded.Type
	ev.Payload = datatypes.JSON(payload)
	return nil
}

// CleanupOldEvents removes processed events past the retention window
func (p *processor) CleanupOldEvents(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = p.config.DaysToKeep
	}

	cutoff := p.clock.Now().UTC().AddDate(0, 0, -daysToKeep)

	deleted, err := p.store.DeleteEventsBefore(ctx, cutoff, p.config.CleanupBatchSize)
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		logger.InfoCtx(ctx, "cleaned up old events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	return deleted, nil
}

// filterCriteria extracts a subscription's field equality criteria,
// nil means no field filtering
func filterCriteria(sub *schema.ContractSubscription) map[string]string {
	if sub == nil {
		return nil
	}
	criteria := sub.FilterCriteria.Data()
	if len(criteria) == 0 {
		return nil
	}
	return criteria
}

// matchesCriteria reports whether every criterion matches a decoded
// field exactly
func matchesCriteria(criteria map[string]string, fields map[string]string) bool {
	for key, want := range criteria {
		if fields[key] != want {
			return false
		}
	}
	return true
}

// subscribedTypes builds the filter set for a subscription, nil means all
func subscribedTypes(sub *schema.ContractSubscription) map[domain.EventType]bool {
	if sub == nil || len(sub.EventTypes) == 0 {
		return nil
	}
	wanted := make(map[domain.EventType]bool, len(sub.EventTypes))
	for _, t := range sub.EventTypes {
		wanted[domain.EventType(t)] = true
	}
	return wanted
}
