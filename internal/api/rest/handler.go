package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/processor"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/watcher"
)

// DefaultContracts names the well-known FreightFlow contracts the
// defaults endpoint subscribes to.
type DefaultContracts struct {
	CoreHub string
	Escrow  string
}

// Handler defines the interface for REST API handlers
type Handler interface {
	// CreateSubscription creates a subscription and, by default, starts
	// its watch loop
	// POST /api/v1/subscriptions
	CreateSubscription(c *gin.Context)

	// ListSubscriptions retrieves subscriptions with an optional status filter
	// GET /api/v1/subscriptions?status=<status>
	ListSubscriptions(c *gin.Context)

	// GetSubscription retrieves a single subscription
	// GET /api/v1/subscriptions/:id
	GetSubscription(c *gin.Context)

	// UpdateSubscription merges a partial update into a subscription and
	// restarts its watch loop when one is running
	// PUT /api/v1/subscriptions/:id
	UpdateSubscription(c *gin.Context)

	// DeleteSubscription stops the watch loop and removes the subscription
	// DELETE /api/v1/subscriptions/:id
	DeleteSubscription(c *gin.Context)

	// StartSubscription starts the watch loop for a subscription
	// POST /api/v1/subscriptions/:id/start
	StartSubscription(c *gin.Context)

	// StopSubscription stops the watch loop and marks the subscription stopped
	// POST /api/v1/subscriptions/:id/stop
	StopSubscription(c *gin.Context)

	// PauseSubscription stops the watch loop and marks the subscription paused
	// POST /api/v1/subscriptions/:id/pause
	PauseSubscription(c *gin.Context)

	// RestartSubscription restarts the watch loop for a subscription
	// POST /api/v1/subscriptions/:id/restart
	RestartSubscription(c *gin.Context)

	// CreateDefaultSubscriptions subscribes to the configured core hub and
	// escrow contracts
	// POST /api/v1/subscriptions/defaults
	CreateDefaultSubscriptions(c *gin.Context)

	// ListEvents retrieves events with filters and pagination
	// GET /api/v1/events?event_type=<type>&contract_address=<address>&tx_hash=<hash>&status=<status>&from_block=<n>&to_block=<n>&since=<ts>&until=<ts>&limit=<limit>&offset=<offset>
	ListEvents(c *gin.Context)

	// GetEventStats aggregates stored events by type, status and contract
	// GET /api/v1/events/stats
	GetEventStats(c *gin.Context)

	// GetEvent retrieves a single event by database id
	// GET /api/v1/events/:id
	GetEvent(c *gin.Context)

	// GetEventsByTx retrieves all events emitted in a transaction
	// GET /api/v1/events/tx/:tx_hash
	GetEventsByTx(c *gin.Context)

	// RetryFailedEvents reprocesses failed events below the retry bound
	// POST /api/v1/events/retry-failed
	RetryFailedEvents(c *gin.Context)

	// CleanupEvents purges events past the retention window
	// POST /api/v1/events/cleanup
	CleanupEvents(c *gin.Context)

	// ListCheckpoints retrieves all contract checkpoints
	// GET /api/v1/checkpoints
	ListCheckpoints(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store     store.Store
	manager   watcher.Manager
	processor processor.Processor
	defaults  DefaultContracts
}

// NewHandler creates a new REST API handler
func NewHandler(s store.Store, manager watcher.Manager, p processor.Processor, defaults DefaultContracts) Handler {
	return &handler{
		store:     s,
		manager:   manager,
		processor: p,
		defaults:  defaults,
	}
}

// CreateSubscription creates a subscription and optionally starts its loop
func (h *handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	for _, t := range req.EventTypes {
		if !domain.EventType(t).Valid() {
			respondBadRequest(c, "Unknown event type", t)
			return
		}
	}

	sub, err := h.store.CreateSubscription(c.Request.Context(), store.NewSubscription{
		ContractAddress: req.ContractAddress,
		Label:           req.Label,
		EventTypes:      req.EventTypes,
		FilterCriteria:  req.FilterCriteria,
		FromBlock:       req.FromBlock,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionExists) {
			respondConflict(c, "Subscription already exists for contract", req.ContractAddress)
			return
		}
		respondInternalError(c, err, "Failed to create subscription")
		return
	}

	if req.Start == nil || *req.Start {
		if err := h.manager.StartWatch(c.Request.Context(), sub.ID); err != nil {
			respondInternalError(c, err, "Subscription created but watch loop failed to start",
				zap.String("subscription_id", sub.ID))
			return
		}
	}

	c.JSON(http.StatusCreated, toSubscriptionResponse(sub, h.manager.IsRunning(sub.ID)))
}

// ListSubscriptions retrieves subscriptions with an optional status filter
func (h *handler) ListSubscriptions(c *gin.Context) {
	status, err := ParseListSubscriptionsQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	subs, err := h.store.ListSubscriptions(c.Request.Context(), status)
	if err != nil {
		respondInternalError(c, err, "Failed to list subscriptions")
		return
	}

	responses := make([]SubscriptionResponse, 0, len(subs))
	for i := range subs {
		responses = append(responses, toSubscriptionResponse(&subs[i], h.manager.IsRunning(subs[i].ID)))
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": responses})
}

// GetSubscription retrieves a single subscription
func (h *handler) GetSubscription(c *gin.Context) {
	sub, err := h.store.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			respondNotFound(c, "Subscription not found")
			return
		}
		respondInternalError(c, err, "Failed to get subscription")
		return
	}

	c.JSON(http.StatusOK, toSubscriptionResponse(sub, h.manager.IsRunning(sub.ID)))
}

// UpdateSubscription merges a partial update into a subscription. A
// running watch loop is restarted so the new event types and filter
// criteria take effect.
func (h *handler) UpdateSubscription(c *gin.Context) {
	id := c.Param("id")

	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if req.EventTypes != nil {
		for _, t := range *req.EventTypes {
			if !domain.EventType(t).Valid() {
				respondBadRequest(c, "Unknown event type", t)
				return
			}
		}
	}

	sub, err := h.store.UpdateSubscription(c.Request.Context(), id, store.SubscriptionPatch{
		Label:          req.Label,
		EventTypes:     req.EventTypes,
		FilterCriteria: req.FilterCriteria,
		FromBlock:      req.FromBlock,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			respondNotFound(c, "Subscription not found")
			return
		}
		respondInternalError(c, err, "Failed to update subscription")
		return
	}

	if h.manager.IsRunning(id) {
		if err := h.manager.RestartWatch(c.Request.Context(), id); err != nil {
			respondInternalError(c, err, "Subscription updated but watch loop failed to restart",
				zap.String("subscription_id", id))
			return
		}
	}

	c.JSON(http.StatusOK, toSubscriptionResponse(sub, h.manager.IsRunning(id)))
}

// DeleteSubscription stops the watch loop and removes the subscription
func (h *handler) DeleteSubscription(c *gin.Context) {
	id := c.Param("id")

	if h.manager.IsRunning(id) {
		if err := h.manager.StopWatch(c.Request.Context(), id); err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
			respondInternalError(c, err, "Failed to stop watch loop")
			return
		}
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			respondNotFound(c, "Subscription not found")
			return
		}
		respondInternalError(c, err, "Failed to delete subscription")
		return
	}

	c.Status(http.StatusNoContent)
}

// StartSubscription starts the watch loop for a subscription
func (h *handler) StartSubscription(c *gin.Context) {
	h.lifecycle(c, h.manager.StartWatch, "Failed to start watch loop")
}

// StopSubscription stops the watch loop and marks the subscription stopped
func (h *handler) StopSubscription(c *gin.Context) {
	h.lifecycle(c, h.manager.StopWatch, "Failed to stop watch loop")
}

// PauseSubscription stops the watch loop and marks the subscription paused
func (h *handler) PauseSubscription(c *gin.Context) {
	h.lifecycle(c, h.manager.PauseWatch, "Failed to pause watch loop")
}

// RestartSubscription restarts the watch loop for a subscription
func (h *handler) RestartSubscription(c *gin.Context) {
	h.lifecycle(c, h.manager.RestartWatch, "Failed to restart watch loop")
}

// lifecycle applies a manager transition to the subscription in the path
// and responds with its refreshed state
func (h *handler) lifecycle(c *gin.Context, op func(ctx context.Context, id string) error, failMsg string) {
	id := c.Param("id")

	if err := op(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
			respondNotFound(c, "Subscription not found")
		case errors.Is(err, domain.ErrWatchRunning):
			respondConflict(c, "Watch loop already running")
		default:
			respondInternalError(c, err, failMsg, zap.String("subscription_id", id))
		}
		return
	}

	sub, err := h.store.GetSubscription(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to get subscription")
		return
	}

	c.JSON(http.StatusOK, toSubscriptionResponse(sub, h.manager.IsRunning(id)))
}

// CreateDefaultSubscriptions subscribes to the configured contracts
func (h *handler) CreateDefaultSubscriptions(c *gin.Context) {
	defaults := []struct {
		address string
		label   string
	}{
		{h.defaults.CoreHub, "freightflow-core-hub"},
		{h.defaults.Escrow, "freightflow-escrow"},
	}

	created := make([]SubscriptionResponse, 0, len(defaults))
	for _, d := range defaults {
		if d.address == "" {
			continue
		}

		sub, err := h.store.CreateSubscription(c.Request.Context(), store.NewSubscription{
			ContractAddress: d.address,
			Label:           d.label,
		})
		if err != nil {
			if errors.Is(err, domain.ErrSubscriptionExists) {
				continue
			}
			respondInternalError(c, err, "Failed to create default subscription",
				zap.String("contract", d.address))
			return
		}

		if err := h.manager.StartWatch(c.Request.Context(), sub.ID); err != nil {
			respondInternalError(c, err, "Default subscription created but watch loop failed to start",
				zap.String("subscription_id", sub.ID))
			return
		}

		created = append(created, toSubscriptionResponse(sub, true))
	}

	c.JSON(http.StatusCreated, gin.H{"subscriptions": created})
}

// ListEvents retrieves events with filters and pagination
func (h *handler) ListEvents(c *gin.Context) {
	filter, err := ParseListEventsQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	events, total, err := h.store.QueryEvents(c.Request.Context(), *filter)
	if err != nil {
		respondInternalError(c, err, "Failed to query events")
		return
	}

	responses := make([]EventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, toEventResponse(&events[i]))
	}

	c.JSON(http.StatusOK, ListEventsResponse{
		Events: responses,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetEventStats aggregates stored events
func (h *handler) GetEventStats(c *gin.Context) {
	stats, err := h.store.EventStats(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to aggregate event stats")
		return
	}

	c.JSON(http.StatusOK, toStatsResponse(stats))
}

// GetEvent retrieves a single event by database id
func (h *handler) GetEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid event id")
		return
	}

	ev, err := h.store.GetEventByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			respondNotFound(c, "Event not found")
			return
		}
		respondInternalError(c, err, "Failed to get event")
		return
	}

	c.JSON(http.StatusOK, toEventResponse(ev))
}

// GetEventsByTx retrieves all events emitted in a transaction
func (h *handler) GetEventsByTx(c *gin.Context) {
	txHash := c.Param("tx_hash")
	if txHash == "" {
		respondBadRequest(c, "Transaction hash is required")
		return
	}

	events, err := h.store.GetEventsByTx(c.Request.Context(), txHash)
	if err != nil {
		respondInternalError(c, err, "Failed to get events by tx")
		return
	}

	responses := make([]EventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, toEventResponse(&events[i]))
	}

	c.JSON(http.StatusOK, gin.H{"events": responses})
}

// RetryFailedEvents reprocesses failed events below the retry bound.
// An optional max_retries query overrides the configured bound.
func (h *handler) RetryFailedEvents(c *gin.Context) {
	maxRetries, err := parseOptionalInt(c, "max_retries")
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	recovered, err := h.processor.RetryFailedEvents(c.Request.Context(), maxRetries)
	if err != nil {
		respondInternalError(c, err, "Failed to retry events")
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}

// CleanupEvents purges events past the retention window. An optional
// days query overrides the configured window.
func (h *handler) CleanupEvents(c *gin.Context) {
	days, err := parseOptionalInt(c, "days")
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	deleted, err := h.processor.CleanupOldEvents(c.Request.Context(), days)
	if err != nil {
		respondInternalError(c, err, "Failed to clean up events")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ListCheckpoints retrieves all contract checkpoints
func (h *handler) ListCheckpoints(c *gin.Context) {
	checkpoints, err := h.store.ListCheckpoints(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to list checkpoints")
		return
	}

	responses := make([]CheckpointResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		responses = append(responses, CheckpointResponse{
			ContractAddress:    cp.ContractAddress,
			LastBlock:          cp.LastBlock,
			EventsStored:       cp.EventsStored,
			DuplicatesSkipped:  cp.DuplicatesSkipped,
			FailedEvents:       cp.FailedEvents,
			LastBatchSize:      cp.LastBatchSize,
			LastPollDurationMs: cp.LastPollDuration,
			LastProcessedAt:    cp.LastProcessedAt,
			UpdatedAt:          cp.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"checkpoints": responses})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
