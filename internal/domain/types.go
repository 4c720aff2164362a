package domain

import (
	"time"
)

// EventType identifies a decoded FreightFlow contract event.
type EventType string

const (
	EventTypeShipmentCreated   EventType = "shipment_created"
	EventTypeDeliveryConfirmed EventType = "delivery_confirmed"
	EventTypeEscrowCreated     EventType = "escrow_created"
	EventTypeEscrowReleased    EventType = "escrow_released"
	EventTypePaymentProcessed  EventType = "payment_processed"
	EventTypeDisputeRaised     EventType = "dispute_raised"
	EventTypeDisputeResolved   EventType = "dispute_resolved"
	EventTypeContractDeployed  EventType = "contract_deployed"
)

// KnownEventTypes lists every event type the decoder can emit.
func KnownEventTypes() []EventType {
	return []EventType{
		EventTypeShipmentCreated,
		EventTypeDeliveryConfirmed,
		EventTypeEscrowCreated,
		EventTypeEscrowReleased,
		EventTypePaymentProcessed,
		EventTypeDisputeRaised,
		EventTypeDisputeResolved,
		EventTypeContractDeployed,
	}
}

func (t EventType) Valid() bool {
	switch t {
	case EventTypeShipmentCreated,
		EventTypeDeliveryConfirmed,
		EventTypeEscrowCreated,
		EventTypeEscrowReleased,
		EventTypePaymentProcessed,
		EventTypeDisputeRaised,
		EventTypeDisputeResolved,
		EventTypeContractDeployed:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle state of a contract subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusPaused  SubscriptionStatus = "paused"
	SubscriptionStatusStopped SubscriptionStatus = "stopped"
	SubscriptionStatusError   SubscriptionStatus = "error"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusPaused, SubscriptionStatusStopped, SubscriptionStatusError:
		return true
	}
	return false
}

// EventStatus is the persistence/processing state of a stored event.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusRetrying  EventStatus = "retrying"
)

// RawEvent is a chain log as fetched from the RPC node, before decoding
// into typed payload fields. Keys holds the indexed topics, Data the
// 32-byte data words, both 0x-hex encoded.
type RawEvent struct {
	TxHash          string
	ContractAddress string
	BlockNumber     uint64
	BlockHash       string
	LogIndex        uint
	Keys            []string
	Data            []string
}

// DecodedEvent is a RawEvent after selector resolution and positional
// field extraction.
type DecodedEvent struct {
	Raw       RawEvent
	Type      EventType
	Fields    map[string]string
	Timestamp time.Time
}

// ProcessingResult reports the outcome of persisting one event.
type ProcessingResult struct {
	// EventID is the database id of the stored row, zero when the event
	// failed before persistence or was filtered out
	EventID int64
	// TxHash and LogIndex identify the source log even when no row exists
	TxHash   string
	LogIndex uint
	// Duplicate is true when the natural key already existed
	Duplicate bool
	// Filtered is true when the subscription's criteria excluded the event
	Filtered bool
	Duration time.Duration
	Err      error
}

// Success reports whether the event ended in a persisted or deduplicated
// state.
func (r ProcessingResult) Success() bool {
	return r.Err == nil
}

// BatchResult aggregates processing outcomes for one poll cycle.
type BatchResult struct {
	Stored     int
	Duplicates int
	Filtered   int
	Failed     int
	Results    []ProcessingResult
}

// EventStats summarizes the stored event corpus for the stats endpoint.
type EventStats struct {
	Total      int64
	ByType     map[EventType]int64
	ByStatus   map[EventStatus]int64
	ByContract map[string]int64
}
