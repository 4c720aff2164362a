package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates or updates the tables backing the store
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.ContractSubscription{},
		&schema.ChainEvent{},
		&schema.EventCheckpoint{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults:
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	// database/sql treats MaxIdleConns above MaxOpenConns as MaxOpenConns,
	// clamp explicitly to keep the settings readable in logs
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeAddress lowercases a 0x-hex contract address so lookups and
// unique indexes are case-insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CreateSubscription inserts a subscription for a contract address
func (s *pgStore) CreateSubscription(ctx context.Context, newSub NewSubscription) (*schema.ContractSubscription, error) {
	sub := schema.ContractSubscription{
		ID:              uuid.NewString(),
		ContractAddress: NormalizeAddress(newSub.ContractAddress),
		Label:           newSub.Label,
		EventTypes:      datatypes.NewJSONSlice(newSub.EventTypes),
		FromBlock:       newSub.FromBlock,
		Status:          domain.SubscriptionStatusActive,
	}
	if len(newSub.FilterCriteria) > 0 {
		sub.FilterCriteria = datatypes.NewJSONType(newSub.FilterCriteria)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contract_address"}},
			DoNothing: true,
		}).
		Create(&sub)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrSubscriptionExists
	}

	return &sub, nil
}

// UpdateSubscription merges a partial update and returns the stored row
func (s *pgStore) UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (*schema.ContractSubscription, error) {
	updates := map[string]any{
		"updated_at": time.Now(),
	}
	if patch.Label != nil {
		updates["label"] = *patch.Label
	}
	if patch.EventTypes != nil {
		updates["event_types"] = datatypes.NewJSONSlice(*patch.EventTypes)
	}
	if patch.FilterCriteria != nil {
		updates["filter_criteria"] = datatypes.NewJSONType(*patch.FilterCriteria)
	}
	if patch.FromBlock != nil {
		updates["from_block"] = *patch.FromBlock
	}

	result := s.db.WithContext(ctx).
		Model(&schema.ContractSubscription{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}

	return s.GetSubscription(ctx, id)
}

// GetSubscription retrieves a subscription by id
func (s *pgStore) GetSubscription(ctx context.Context, id string) (*schema.ContractSubscription, error) {
	var sub schema.ContractSubscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByContract retrieves a subscription by contract address
func (s *pgStore) GetSubscriptionByContract(ctx context.Context, contractAddress string) (*schema.ContractSubscription, error) {
	var sub schema.ContractSubscription
	err := s.db.WithContext(ctx).
		Where("contract_address = ?", NormalizeAddress(contractAddress)).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription by contract: %w", err)
	}
	return &sub, nil
}

// ListSubscriptions retrieves subscriptions, optionally filtered by status
func (s *pgStore) ListSubscriptions(ctx context.Context, status *domain.SubscriptionStatus) ([]schema.ContractSubscription, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var subs []schema.ContractSubscription
	if err := query.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateSubscriptionStatus transitions a subscription's lifecycle state.
// A non-nil lastError records the failure timestamp, nil clears both.
func (s *pgStore) UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus, lastError *string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
		updates["last_error_at"] = time.Now()
	} else {
		updates["last_error"] = nil
		updates["last_error_at"] = nil
	}

	result := s.db.WithContext(ctx).
		Model(&schema.ContractSubscription{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update subscription status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription by id
func (s *pgStore) DeleteSubscription(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&schema.ContractSubscription{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// IncrementEventsLogged adds n to a subscription's events_logged counter
func (s *pgStore) IncrementEventsLogged(ctx context.Context, id string, n int64) error {
	if n == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&schema.ContractSubscription{}).
		Where("id = ?", id).
		UpdateColumn("events_logged", gorm.Expr("events_logged + ?", n)).Error
	if err != nil {
		return fmt.Errorf("failed to increment events_logged: %w", err)
	}
	return nil
}

// ListSubscriptionsForRetry retrieves errored subscriptions whose last
// failure is older than the cooldown
func (s *pgStore) ListSubscriptionsForRetry(ctx context.Context, cooldown time.Duration) ([]schema.ContractSubscription, error) {
	cutoff := time.Now().Add(-cooldown)

	var subs []schema.ContractSubscription
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.SubscriptionStatusError).
		Where("last_error_at IS NULL OR last_error_at < ?", cutoff).
		Order("last_error_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for retry: %w", err)
	}
	return subs, nil
}

// UpsertEvent stores an event, skipping natural-key duplicates
func (s *pgStore) UpsertEvent(ctx context.Context, ev *schema.ChainEvent) (bool, error) {
	ev.ContractAddress = NormalizeAddress(ev.ContractAddress)
	ev.TxHash = strings.ToLower(ev.TxHash)

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tx_hash"},
				{Name: "contract_address"},
				{Name: "log_index"},
			},
			DoNothing: true,
		}).
		Create(ev)
	if result.Error != nil {
		return false, fmt.Errorf("failed to upsert event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// GetEventByID retrieves an event by database id
func (s *pgStore) GetEventByID(ctx context.Context, id int64) (*schema.ChainEvent, error) {
	var ev schema.ChainEvent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

// GetEventsByTx retrieves all events emitted in a transaction
func (s *pgStore) GetEventsByTx(ctx context.Context, txHash string) ([]schema.ChainEvent, error) {
	var events []schema.ChainEvent
	err := s.db.WithContext(ctx).
		Where("tx_hash = ?", strings.ToLower(txHash)).
		Order("log_index ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get events by tx: %w", err)
	}
	return events, nil
}

// QueryEvents retrieves events matching the filter plus the total count
func (s *pgStore) QueryEvents(ctx context.Context, filter EventFilter) ([]schema.ChainEvent, int64, error) {
	query := s.db.WithContext(ctx).Model(&schema.ChainEvent{})

	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.ContractAddress != "" {
		query = query.Where("contract_address = ?", NormalizeAddress(filter.ContractAddress))
	}
	if filter.TxHash != "" {
		query = query.Where("tx_hash = ?", strings.ToLower(filter.TxHash))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.FromBlock != nil {
		query = query.Where("block_number >= ?", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		query = query.Where("block_number <= ?", *filter.ToBlock)
	}
	if filter.Since != nil {
		query = query.Where("block_timestamp >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("block_timestamp <= ?", *filter.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	var events []schema.ChainEvent
	err := query.
		Order("block_number " + order).
		Order("log_index " + order).
		Offset(filter.Offset).
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}

	return events, total, nil
}

// ListFailedEvents retrieves failed and retrying events below the retry
// bound, oldest first
func (s *pgStore) ListFailedEvents(ctx context.Context, maxRetries int, limit int) ([]schema.ChainEvent, error) {
	var events []schema.ChainEvent
	err := s.db.WithContext(ctx).
		Where("status IN ?", []domain.EventStatus{domain.EventStatusFailed, domain.EventStatusRetrying}).
		Where("retry_count < ?", maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}
	return events, nil
}

// UpdateEventStatus transitions an event's processing state
func (s *pgStore) UpdateEventStatus(ctx context.Context, id int64, status domain.EventStatus, retryCount int, lastError *string) error {
	updates := map[string]any{
		"status":      status,
		"retry_count": retryCount,
		"updated_at":  time.Now(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	} else {
		updates["last_error"] = nil
	}

	result := s.db.WithContext(ctx).
		Model(&schema.ChainEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update event status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// UpdateEventDecoding refreshes an event's decoded type and payload
func (s *pgStore) UpdateEventDecoding(ctx context.Context, id int64, eventType domain.EventType, payload []byte) error {
	result := s.db.WithContext(ctx).
		Model(&schema.ChainEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"event_type": eventType,
			"payload":    datatypes.JSON(payload),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update event decoding: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// EventStats aggregates stored events by type, status and contract
func (s *pgStore) EventStats(ctx context.Context) (*domain.EventStats, error) {
	stats := domain.EventStats{
		ByType:     make(map[domain.EventType]int64),
		ByStatus:   make(map[domain.EventStatus]int64),
		ByContract: make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).Model(&schema.ChainEvent{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byType []bucket
	err := s.db.WithContext(ctx).
		Model(&schema.ChainEvent{}).
		Select("event_type AS key, COUNT(*) AS count").
		Group("event_type").
		Scan(&byType).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by type: %w", err)
	}
	for _, b := range byType {
		stats.ByType[domain.EventType(b.Key)] = b.Count
	}

	var byStatus []bucket
	err = s.db.WithContext(ctx).
		Model(&schema.ChainEvent{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	for _, b := range byStatus {
		stats.ByStatus[domain.EventStatus(b.Key)] = b.Count
	}

	var byContract []bucket
	err = s.db.WithContext(ctx).
		Model(&schema.ChainEvent{}).
		Select("contract_address AS key, COUNT(*) AS count").
		Group("contract_address").
		Scan(&byContract).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by contract: %w", err)
	}
	for _, b := range byContract {
		stats.ByContract[b.Key] = b.Count
	}

	return &stats, nil
}

// DeleteEventsBefore removes processed events ingested before the cutoff
// in batches. Failed and retrying rows are left for the retry sweep no
// matter how old they get.
func (s *pgStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var deleted int64
	for {
		// Batched via id subquery so a large purge never holds one long
		// transaction open
		sub := s.db.
			Model(&schema.ChainEvent{}).
			Select("id").
			Where("status = ?", domain.EventStatusProcessed).
			Where("created_at < ?", cutoff).
			Limit(batchSize)

		result := s.db.WithContext(ctx).
			Where("id IN (?)", sub).
			Delete(&schema.ChainEvent{})
		if result.Error != nil {
			return deleted, fmt.Errorf("failed to delete old events: %w", result.Error)
		}

		deleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return deleted, nil
		}
	}
}

// GetCheckpoint retrieves the checkpoint for a contract, nil when absent
func (s *pgStore) GetCheckpoint(ctx context.Context, contractAddress string) (*schema.EventCheckpoint, error) {
	var cp schema.EventCheckpoint
	err := s.db.WithContext(ctx).
		Where("contract_address = ?", NormalizeAddress(contractAddress)).
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// SeedCheckpoint creates a checkpoint if none exists and returns the
// stored row either way
func (s *pgStore) SeedCheckpoint(ctx context.Context, contractAddress string, lastBlock uint64) (*schema.EventCheckpoint, error) {
	cp := schema.EventCheckpoint{
		ContractAddress: NormalizeAddress(contractAddress),
		LastBlock:       lastBlock,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contract_address"}},
			DoNothing: true,
		}).
		Create(&cp)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to seed checkpoint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race or already seeded, read back the stored row
		return s.GetCheckpoint(ctx, contractAddress)
	}

	return &cp, nil
}

// AdvanceCheckpoint moves a checkpoint forward, never backward, and
// applies the counter delta
func (s *pgStore) AdvanceCheckpoint(ctx context.Context, contractAddress string, toBlock uint64, delta CheckpointDelta) error {
	result := s.db.WithContext(ctx).
		Model(&schema.EventCheckpoint{}).
		Where("contract_address = ?", NormalizeAddress(contractAddress)).
		Updates(map[string]any{
			"last_block":            gorm.Expr("CASE WHEN last_block < ? THEN ? ELSE last_block END", toBlock, toBlock),
			"events_stored":         gorm.Expr("events_stored + ?", delta.EventsStored),
			"duplicates_skipped":    gorm.Expr("duplicates_skipped + ?", delta.DuplicatesSkipped),
			"failed_events":         gorm.Expr("failed_events + ?", delta.FailedEvents),
			"last_batch_size":       delta.BatchSize,
			"last_poll_duration_ms": delta.Duration.Milliseconds(),
			"last_processed_at":     time.Now(),
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no checkpoint for contract %s", NormalizeAddress(contractAddress))
	}
	return nil
}

// ListCheckpoints retrieves all checkpoints
func (s *pgStore) ListCheckpoints(ctx context.Context) ([]schema.EventCheckpoint, error) {
	var cps []schema.EventCheckpoint
	err := s.db.WithContext(ctx).
		Order("contract_address ASC").
		Find(&cps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}
