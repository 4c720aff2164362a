package rest

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/store"
)

const MAX_PAGE_SIZE = 100

// ListEventsQueryParams holds query parameters for GET /events
type ListEventsQueryParams struct {
	// Filters
	EventType       string  `form:"event_type"`
	ContractAddress string  `form:"contract_address"`
	TxHash          string  `form:"tx_hash"`
	Status          string  `form:"status"`
	FromBlock       *uint64 `form:"from_block"`
	ToBlock         *uint64 `form:"to_block"`
	Since           string  `form:"since"`
	Until           string  `form:"until"`

	// Order sorts by block number and log index, "desc" by default
	Order string `form:"order"`

	// Pagination
	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// ListSubscriptionsQueryParams holds query parameters for GET /subscriptions
type ListSubscriptionsQueryParams struct {
	Status string `form:"status"`
}

// ParseListEventsQuery parses and validates query parameters for GET /events
func ParseListEventsQuery(c *gin.Context) (*store.EventFilter, error) {
	var params ListEventsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	if params.Limit > MAX_PAGE_SIZE {
		params.Limit = MAX_PAGE_SIZE
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	filter := store.EventFilter{
		EventType:       domain.EventType(params.EventType),
		ContractAddress: params.ContractAddress,
		TxHash:          params.TxHash,
		Status:          domain.EventStatus(params.Status),
		FromBlock:       params.FromBlock,
		ToBlock:         params.ToBlock,
		Offset:          params.Offset,
		Limit:           params.Limit,
	}

	switch params.Order {
	case "", "desc":
	case "asc":
		filter.Ascending = true
	default:
		return nil, &invalidOrderError{value: params.Order}
	}

	if params.Since != "" {
		since, err := time.Parse(time.RFC3339, params.Since)
		if err != nil {
			return nil, err
		}
		filter.Since = &since
	}
	if params.Until != "" {
		until, err := time.Parse(time.RFC3339, params.Until)
		if err != nil {
			return nil, err
		}
		filter.Until = &until
	}

	return &filter, nil
}

// ParseListSubscriptionsQuery parses query parameters for GET /subscriptions
func ParseListSubscriptionsQuery(c *gin.Context) (*domain.SubscriptionStatus, error) {
	var params ListSubscriptionsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	if params.Status == "" {
		return nil, nil
	}

	status := domain.SubscriptionStatus(params.Status)
	if !status.Valid() {
		return nil, &invalidStatusError{value: params.Status}
	}
	return &status, nil
}

// parseOptionalInt reads a non-negative integer query parameter, zero
// when absent
func parseOptionalInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &invalidParamError{name: name, value: raw}
	}
	return n, nil
}

type invalidStatusError struct {
	value string
}

func (e *invalidStatusError) Error() string {
	return "invalid subscription status: " + e.value
}

type invalidOrderError struct {
	value string
}

func (e *invalidOrderError) Error() string {
	return "invalid order, want asc or desc: " + e.value
}

type invalidParamError struct {
	name  string
	value string
}

func (e *invalidParamError) Error() string {
	return "invalid " + e.name + ": " + e.value
}
