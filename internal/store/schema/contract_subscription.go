package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/freightflow/chain-event-logger/internal/domain"
)

// ContractSubscription represents the contract_subscriptions table
type ContractSubscription struct {
	// ID is the subscription identifier, assigned on creation
	ID string `gorm:"column:id;primaryKey;type:uuid"`
	// ContractAddress is the watched contract, lowercase 0x-hex
	ContractAddress string `gorm:"column:contract_address;not null;uniqueIndex:idx_contract_subscriptions_address"`
	// Label is a human-readable name for the subscription
	Label string `gorm:"column:label;not null;default:''"`
	// EventTypes restricts decoding to these types; empty means all known types
	EventTypes datatypes.JSONSlice[string] `gorm:"column:event_types;type:jsonb"`
	// FilterCriteria holds field equality predicates evaluated against
	// decoded event fields; nil or empty means no field filtering
	FilterCriteria datatypes.JSONType[map[string]string] `gorm:"column:filter_criteria;type:jsonb"`
	// FromBlock is the explicit starting block for a fresh checkpoint.
	// Nil seeds a fixed offset behind the head instead.
	FromBlock *uint64 `gorm:"column:from_block"`
	// Status is the lifecycle state of the subscription
	Status domain.SubscriptionStatus `gorm:"column:status;not null;index"`
	// LastError holds the most recent polling failure, cleared on recovery
	LastError *string `gorm:"column:last_error"`
	// LastErrorAt is the timestamp of the most recent polling failure
	LastErrorAt *time.Time `gorm:"column:last_error_at"`
	// EventsLogged counts events persisted through this subscription
	EventsLogged int64 `gorm:"column:events_logged;not null;default:0"`
	// CreatedAt is the timestamp when the subscription was created
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	// UpdatedAt is the timestamp when the subscription was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for the ContractSubscription model
func (ContractSubscription) TableName() string {
	return "contract_subscriptions"
}
