package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/freightflow/chain-event-logger/internal/domain"
)

// Event signatures emitted by the FreightFlow contracts. Selector is the
// keccak hash of the signature, carried as topic 0.
var (
	shipmentCreatedSignature   = crypto.Keccak256Hash([]byte("ShipmentCreated(uint256,address,address,uint256)"))
	deliveryConfirmedSignature = crypto.Keccak256Hash([]byte("DeliveryConfirmed(uint256,address,uint256)"))
	escrowCreatedSignature     = crypto.Keccak256Hash([]byte("EscrowCreated(uint256,uint256,address,uint256)"))
	escrowReleasedSignature    = crypto.Keccak256Hash([]byte("EscrowReleased(uint256,address,uint256)"))
	paymentProcessedSignature  = crypto.Keccak256Hash([]byte("PaymentProcessed(uint256,address,address,uint256)"))
	disputeRaisedSignature     = crypto.Keccak256Hash([]byte("DisputeRaised(uint256,uint256,address)"))
	disputeResolvedSignature   = crypto.Keccak256Hash([]byte("DisputeResolved(uint256,address,uint256)"))
	contractDeployedSignature  = crypto.Keccak256Hash([]byte("ContractDeployed(address,address)"))
)

// selectorToEventType maps topic-0 selectors to decoded event types
var selectorToEventType = map[common.Hash]domain.EventType{
	shipmentCreatedSignature:   domain.EventTypeShipmentCreated,
	deliveryConfirmedSignature: domain.EventTypeDeliveryConfirmed,
	escrowCreatedSignature:     domain.EventTypeEscrowCreated,
	escrowReleasedSignature:    domain.EventTypeEscrowReleased,
	paymentProcessedSignature:  domain.EventTypePaymentProcessed,
	disputeRaisedSignature:     domain.EventTypeDisputeRaised,
	disputeResolvedSignature:   domain.EventTypeDisputeResolved,
	contractDeployedSignature:  domain.EventTypeContractDeployed,
}

// eventTypeToSelector is the reverse mapping, used to build topic filters
var eventTypeToSelector = func() map[domain.EventType]common.Hash {
	m := make(map[domain.EventType]common.Hash, len(selectorToEventType))
	for sel, t := range selectorToEventType {
		m[t] = sel
	}
	return m
}()

// fieldNamesByEventType names the decoded positions, indexed topics
// first, then data words
var fieldNamesByEventType = map[domain.EventType][]string{
	domain.EventTypeShipmentCreated:   {"shipment_id", "sender", "recipient", "payment_amount"},
	domain.EventTypeDeliveryConfirmed: {"shipment_id", "confirmed_by", "confirmed_at"},
	domain.EventTypeEscrowCreated:     {"escrow_id", "shipment_id", "depositor", "amount"},
	domain.EventTypeEscrowReleased:    {"escrow_id", "recipient", "amount"},
	domain.EventTypePaymentProcessed:  {"payment_id", "payer", "payee", "amount"},
	domain.EventTypeDisputeRaised:     {"dispute_id", "shipment_id", "raised_by"},
	domain.EventTypeDisputeResolved:   {"dispute_id", "resolver", "resolution"},
	domain.EventTypeContractDeployed:  {"contract_address", "deployer"},
}

// SelectorForEventType returns the topic-0 selector for an event type
func SelectorForEventType(t domain.EventType) (common.Hash, bool) {
	sel, ok := eventTypeToSelector[t]
	return sel, ok
}

// EventTypeForSelector resolves a topic-0 selector. Unknown selectors
// fall back to contract_deployed so unexpected logs from a watched
// contract are still persisted rather than dropped.
func EventTypeForSelector(selector common.Hash) domain.EventType {
	if t, ok := selectorToEventType[selector]; ok {
		return t
	}
	return domain.EventTypeContractDeployed
}

// Decode resolves a raw log into a typed event with named fields.
// Values are decoded positionally, indexed topics first and data words
// after, against the field names for the resolved type. Positions past
// the named list, and every position of a log whose selector is not in
// the signature table, keep generic key_N / data_N names.
func Decode(raw domain.RawEvent, timestamp time.Time) domain.DecodedEvent {
	eventType := domain.EventTypeContractDeployed
	known := false
	if len(raw.Keys) > 0 {
		eventType, known = selectorToEventType[common.HexToHash(raw.Keys[0])]
		if !known {
			eventType = domain.EventTypeContractDeployed
		}
	}

	var names []string
	if known {
		names = fieldNamesByEventType[eventType]
	}
	fields := make(map[string]string)

	pos := 0
	// Topic 0 is the selector, the remaining topics are indexed fields
	for i, key := range raw.Keys {
		if i == 0 {
			continue
		}
		if pos < len(names) {
			fields[names[pos]] = key
		} else {
			fields[fmt.Sprintf("key_%d", i)] = key
		}
		pos++
	}
	for i, word := range raw.Data {
		if pos < len(names) {
			fields[names[pos]] = word
		} else {
			fields[fmt.Sprintf("data_%d", i)] = word
		}
		pos++
	}

	return domain.DecodedEvent{
		Raw:       raw,
		Type:      eventType,
		Fields:    fields,
		Timestamp: timestamp,
	}
}
