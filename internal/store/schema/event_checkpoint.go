package schema

import (
	"time"
)

// EventCheckpoint represents the event_checkpoints table. One row per
// watched contract, recording the highest block already polled.
type EventCheckpoint struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ContractAddress is the watched contract, lowercase 0x-hex
	ContractAddress string `gorm:"column:contract_address;not null;uniqueIndex:idx_event_checkpoints_address"`
	// LastBlock is the highest block number already polled for this contract
	LastBlock uint64 `gorm:"column:last_block;not null"`
	// EventsStored counts events persisted under this checkpoint
	EventsStored int64 `gorm:"column:events_stored;not null;default:0"`
	// DuplicatesSkipped counts natural-key conflicts observed
	DuplicatesSkipped int64 `gorm:"column:duplicates_skipped;not null;default:0"`
	// FailedEvents counts events that failed processing under this checkpoint
	FailedEvents int64 `gorm:"column:failed_events;not null;default:0"`
	// LastBatchSize is the event count of the most recent poll window
	LastBatchSize int `gorm:"column:last_batch_size;not null;default:0"`
	// LastPollDuration is the wall time of the most recent poll window, in
	// milliseconds
	LastPollDuration int64 `gorm:"column:last_poll_duration_ms;not null;default:0"`
	// LastProcessedAt is the timestamp of the most recent advance
	LastProcessedAt *time.Time `gorm:"column:last_processed_at"`
	// CreatedAt is the timestamp when the checkpoint was seeded
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	// UpdatedAt is the timestamp when the checkpoint last advanced
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for the EventCheckpoint model
func (EventCheckpoint) TableName() string {
	return "event_checkpoints"
}
