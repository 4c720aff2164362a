package store

import (
	"context"
	"time"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

// EventFilter narrows event queries. Zero values mean "no constraint".
type EventFilter struct {
	EventType       domain.EventType
	ContractAddress string
	TxHash          string
	Status          domain.EventStatus
	FromBlock       *uint64
	ToBlock         *uint64
	Since           *time.Time
	Until           *time.Time
	// Ascending orders by (block_number, log_index) ascending instead of
	// the default newest-first
	Ascending bool
	Offset    int
	Limit     int
}

// NewSubscription carries the caller-supplied fields of a subscription
// to create.
type NewSubscription struct {
	ContractAddress string
	Label           string
	EventTypes      []string
	FilterCriteria  map[string]string
	FromBlock       *uint64
}

// SubscriptionPatch carries a partial subscription update. Nil fields
// stay unchanged.
type SubscriptionPatch struct {
	Label          *string
	EventTypes     *[]string
	FilterCriteria *map[string]string
	FromBlock      *uint64
}

// CheckpointDelta carries per-cycle counters and timings applied
// together with a checkpoint advance.
type CheckpointDelta struct {
	EventsStored      int64
	DuplicatesSkipped int64
	FailedEvents      int64
	BatchSize         int
	Duration          time.Duration
}

// Store defines the interface for database operations
type Store interface {
	// CreateSubscription inserts a subscription for a contract address
	CreateSubscription(ctx context.Context, sub NewSubscription) (*schema.ContractSubscription, error)
	// GetSubscription retrieves a subscription by id
	GetSubscription(ctx context.Context, id string) (*schema.ContractSubscription, error)
	// UpdateSubscription merges a partial update into a subscription and
	// returns the stored row
	UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (*schema.ContractSubscription, error)
	// GetSubscriptionByContract retrieves a subscription by contract address
	GetSubscriptionByContract(ctx context.Context, contractAddress string) (*schema.ContractSubscription, error)
	// ListSubscriptions retrieves subscriptions, optionally filtered by status
	ListSubscriptions(ctx context.Context, status *domain.SubscriptionStatus) ([]schema.ContractSubscription, error)
	// UpdateSubscriptionStatus transitions a subscription's lifecycle state
	UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus, lastError *string) error
	// DeleteSubscription removes a subscription by id
	DeleteSubscription(ctx context.Context, id string) error
	// IncrementEventsLogged adds n to a subscription's events_logged counter
	IncrementEventsLogged(ctx context.Context, id string, n int64) error
	// ListSubscriptionsForRetry retrieves errored subscriptions whose last
	// failure is older than the cooldown
	ListSubscriptionsForRetry(ctx context.Context, cooldown time.Duration) ([]schema.ContractSubscription, error)

	// UpsertEvent stores an event, skipping natural-key duplicates.
	// The returned bool is true when a new row was created.
	UpsertEvent(ctx context.Context, ev *schema.ChainEvent) (bool, error)
	// GetEventByID retrieves an event by database id
	GetEventByID(ctx context.Context, id int64) (*schema.ChainEvent, error)
	// GetEventsByTx retrieves all events emitted in a transaction
	GetEventsByTx(ctx context.Context, txHash string) ([]schema.ChainEvent, error)
	// QueryEvents retrieves events matching the filter plus the total count
	QueryEvents(ctx context.Context, filter EventFilter) ([]schema.ChainEvent, int64, error)
	// ListFailedEvents retrieves failed and retrying events below the retry
	// bound, oldest first
	ListFailedEvents(ctx context.Context, maxRetries int, limit int) ([]schema.ChainEvent, error)
	// UpdateEventStatus transitions an event's processing state
	UpdateEventStatus(ctx context.Context, id int64, status domain.EventStatus, retryCount int, lastError *string) error
	// UpdateEventDecoding refreshes an event's decoded type and payload
	UpdateEventDecoding(ctx context.Context, id int64, eventType domain.EventType, payload []byte) error
	// EventStats aggregates stored events by type, status and contract
	EventStats(ctx context.Context) (*domain.EventStats, error)
	// DeleteEventsBefore removes processed events older than the cutoff in
	// batches, returning the number of rows deleted
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

	// GetCheckpoint retrieves the checkpoint for a contract, nil when absent
	GetCheckpoint(ctx context.Context, contractAddress string) (*schema.EventCheckpoint, error)
	// SeedCheckpoint creates a checkpoint if none exists and returns the
	// stored row either way
	SeedCheckpoint(ctx context.Context, contractAddress string, lastBlock uint64) (*schema.EventCheckpoint, error)
	// AdvanceCheckpoint moves a checkpoint forward, never backward, and
	// applies the counter delta
	AdvanceCheckpoint(ctx context.Context, contractAddress string, toBlock uint64, delta CheckpointDelta) error
	// ListCheckpoints retrieves all checkpoints
	ListCheckpoints(ctx context.Context) ([]schema.EventCheckpoint, error)
}
