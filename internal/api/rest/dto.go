package rest

import (
	"encoding/json"
	"time"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

// CreateSubscriptionRequest is the body for POST /subscriptions
type CreateSubscriptionRequest struct {
	ContractAddress string   `json:"contract_address" binding:"required"`
	Label           string   `json:"label"`
	EventTypes      []string `json:"event_types"`
	// FilterCriteria keeps only events whose decoded fields match every
	// key exactly
	FilterCriteria map[string]string `json:"filter_criteria"`
	// FromBlock seeds the checkpoint so polling starts at this block
	// instead of a fixed offset behind the head
	FromBlock *uint64 `json:"from_block"`
	// Start controls whether the watch loop starts immediately, defaults
	// to true
	Start *bool `json:"start"`
}

// UpdateSubscriptionRequest is the body for PUT /subscriptions/:id.
// Absent fields are left unchanged.
type UpdateSubscriptionRequest struct {
	Label          *string            `json:"label"`
	EventTypes     *[]string          `json:"event_types"`
	FilterCriteria *map[string]string `json:"filter_criteria"`
	FromBlock      *uint64            `json:"from_block"`
}

// SubscriptionResponse is the wire form of a contract subscription
type SubscriptionResponse struct {
	ID              string            `json:"id"`
	ContractAddress string            `json:"contract_address"`
	Label           string            `json:"label"`
	EventTypes      []string          `json:"event_types"`
	FilterCriteria  map[string]string `json:"filter_criteria,omitempty"`
	FromBlock       *uint64           `json:"from_block,omitempty"`
	Status          string            `json:"status"`
	Running         bool              `json:"running"`
	LastError       *string           `json:"last_error,omitempty"`
	LastErrorAt     *time.Time        `json:"last_error_at,omitempty"`
	EventsLogged    int64             `json:"events_logged"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EventResponse is the wire form of a stored chain event
type EventResponse struct {
	ID              int64           `json:"id"`
	EventType       string          `json:"event_type"`
	ContractAddress string          `json:"contract_address"`
	TxHash          string          `json:"tx_hash"`
	LogIndex        uint            `json:"log_index"`
	BlockNumber     uint64          `json:"block_number"`
	BlockHash       string          `json:"block_hash"`
	BlockTimestamp  time.Time       `json:"block_timestamp"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	RetryCount      int             `json:"retry_count"`
	LastError       *string         `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ListEventsResponse is the paginated envelope for GET /events
type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// CheckpointResponse is the wire form of a contract checkpoint
type CheckpointResponse struct {
	ContractAddress    string     `json:"contract_address"`
	LastBlock          uint64     `json:"last_block"`
	EventsStored       int64      `json:"events_stored"`
	DuplicatesSkipped  int64      `json:"duplicates_skipped"`
	FailedEvents       int64      `json:"failed_events"`
	LastBatchSize      int        `json:"last_batch_size"`
	LastPollDurationMs int64      `json:"last_poll_duration_ms"`
	LastProcessedAt    *time.Time `json:"last_processed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// StatsResponse is the wire form of the event corpus stats
type StatsResponse struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByContract map[string]int64 `json:"by_contract"`
}

func toSubscriptionResponse(sub *schema.ContractSubscription, running bool) SubscriptionResponse {
	return SubscriptionResponse{
		ID:              sub.ID,
		ContractAddress: sub.ContractAddress,
		Label:           sub.Label,
		EventTypes:      []string(sub.EventTypes),
		FilterCriteria:  sub.FilterCriteria.Data(),
		FromBlock:       sub.FromBlock,
		Status:          string(sub.Status),
		Running:         running,
		LastError:       sub.LastError,
		LastErrorAt:     sub.LastErrorAt,
		EventsLogged:    sub.EventsLogged,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
}

func toEventResponse(ev *schema.ChainEvent) EventResponse {
	return EventResponse{
		ID:              ev.ID,
		EventType:       string(ev.EventType),
		ContractAddress: ev.ContractAddress,
		TxHash:          ev.TxHash,
		LogIndex:        ev.LogIndex,
		BlockNumber:     ev.BlockNumber,
		BlockHash:       ev.BlockHash,
		BlockTimestamp:  ev.BlockTimestamp,
		Payload:         json.RawMessage(ev.Payload),
		Status:          string(ev.Status),
		RetryCount:      ev.RetryCount,
		LastError:       ev.LastError,
		CreatedAt:       ev.CreatedAt,
	}
}

func toStatsResponse(stats *domain.EventStats) StatsResponse {
	resp := StatsResponse{
		Total:      stats.Total,
		ByType:     make(map[string]int64, len(stats.ByType)),
		ByStatus:   make(map[string]int64, len(stats.ByStatus)),
		ByContract: stats.ByContract,
	}
	for t, n := range stats.ByType {
		resp.ByType[string(t)] = n
	}
	for s, n := range stats.ByStatus {
		resp.ByStatus[string(s)] = n
	}
	return resp
}
