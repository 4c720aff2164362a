package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/freightflow/chain-event-logger/internal/domain"
)

// ChainEvent represents the chain_events table. The natural key
// (tx_hash, contract_address, log_index) makes persistence idempotent
// across overlapping poll windows and gap recovery.
type ChainEvent struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// EventType is the decoded event name
	EventType domain.EventType `gorm:"column:event_type;not null;index"`
	// ContractAddress is the emitting contract, lowercase 0x-hex
	ContractAddress string `gorm:"column:contract_address;not null;uniqueIndex:idx_chain_events_natural_key,priority:2;index"`
	// TxHash is the transaction hash the log was emitted in
	TxHash string `gorm:"column:tx_hash;not null;uniqueIndex:idx_chain_events_natural_key,priority:1;index"`
	// LogIndex is the position of the log within its block
	LogIndex uint `gorm:"column:log_index;not null;uniqueIndex:idx_chain_events_natural_key,priority:3"`
	// BlockNumber is the block the log was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null;index"`
	// BlockHash is the hash of the containing block
	BlockHash string `gorm:"column:block_hash;not null"`
	// BlockTimestamp is the containing block's timestamp
	BlockTimestamp time.Time `gorm:"column:block_timestamp;not null;index"`
	// Payload holds the decoded event fields as JSON
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb"`
	// Keys holds the raw indexed topics, 0x-hex encoded
	Keys datatypes.JSONSlice[string] `gorm:"column:keys;type:jsonb"`
	// Data holds the raw 32-byte data words, 0x-hex encoded
	Data datatypes.JSONSlice[string] `gorm:"column:data;type:jsonb"`
	// Metadata holds processing annotations such as processed_at and the
	// decoder version
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb"`
	// Status is the processing state of the event
	Status domain.EventStatus `gorm:"column:status;not null;index"`
	// RetryCount is the number of reprocessing attempts so far
	RetryCount int `gorm:"column:retry_count;not null;default:0"`
	// LastError holds the most recent processing failure
	LastError *string `gorm:"column:last_error"`
	// CreatedAt is the timestamp when the event was first stored
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	// UpdatedAt is the timestamp when the event was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for the ChainEvent model
func (ChainEvent) TableName() string {
	return "chain_events"
}
