package store_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

var testDBCounter int64

// setupTestStore creates an in-memory SQLite database for testing.
// Each call creates a unique database to ensure test isolation.
func setupTestStore(t *testing.T) store.Store {
	counter := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", counter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, store.Migrate(db))

	return store.NewPGStore(db)
}

func newTestEvent(txHash string, logIndex uint, blockNumber uint64) *schema.ChainEvent {
	return &schema.ChainEvent{
		EventType:       domain.EventTypeShipmentCreated,
		ContractAddress: "0xAbCd000000000000000000000000000000000001",
		TxHash:          txHash,
		LogIndex:        logIndex,
		BlockNumber:     blockNumber,
		BlockHash:       "0xblock",
		BlockTimestamp:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Status:          domain.EventStatusProcessed,
	}
}

func TestCreateSubscription(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0xABC0000000000000000000000000000000000001", Label: "core-hub", EventTypes: []string{"shipment_created"}})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", sub.ContractAddress)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

	// Same address, different casing, must conflict
	_, err = s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0xabc0000000000000000000000000000000000001", Label: "dup", EventTypes: nil})
	assert.ErrorIs(t, err, domain.ErrSubscriptionExists)
}

func TestCreateSubscription_CriteriaAndFromBlock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	from := uint64(1200)
	sub, err := s.CreateSubscription(ctx, store.NewSubscription{
		ContractAddress: "0xABC0000000000000000000000000000000000009",
		Label:           "filtered",
		EventTypes:      []string{"shipment_created"},
		FilterCriteria:  map[string]string{"sender": "0x01"},
		FromBlock:       &from,
	})
	require.NoError(t, err)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sender": "0x01"}, got.FilterCriteria.Data())
	require.NotNil(t, got.FromBlock)
	assert.Equal(t, uint64(1200), *got.FromBlock)
}

func TestUpdateSubscription(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.CreateSubscription(ctx, store.NewSubscription{
		ContractAddress: "0xABC000000000000000000000000000000000000a",
		Label:           "before",
		EventTypes:      []string{"shipment_created"},
	})
	require.NoError(t, err)

	label := "after"
	types := []string{"escrow_created", "escrow_released"}
	criteria := map[string]string{"recipient": "0x02"}
	got, err := s.UpdateSubscription(ctx, sub.ID, store.SubscriptionPatch{
		Label:          &label,
		EventTypes:     &types,
		FilterCriteria: &criteria,
	})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Label)
	assert.Equal(t, types, []string(got.EventTypes))
	assert.Equal(t, criteria, got.FilterCriteria.Data())

	// Absent fields stay untouched
	from := uint64(77)
	got, err = s.UpdateSubscription(ctx, sub.ID, store.SubscriptionPatch{FromBlock: &from})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Label)
	require.NotNil(t, got.FromBlock)
	assert.Equal(t, uint64(77), *got.FromBlock)

	_, err = s.UpdateSubscription(ctx, "missing", store.SubscriptionPatch{Label: &label})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestGetSubscriptionByContract_NormalizesCase(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0xDEF0000000000000000000000000000000000002", Label: "", EventTypes: nil})
	require.NoError(t, err)

	found, err := s.GetSubscriptionByContract(ctx, "0xDEF0000000000000000000000000000000000002")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = s.GetSubscriptionByContract(ctx, "0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestListSubscriptions_StatusFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub1, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0x0000000000000000000000000000000000000001", Label: "a", EventTypes: nil})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0x0000000000000000000000000000000000000002", Label: "b", EventTypes: nil})
	require.NoError(t, err)

	require.NoError(t, s.UpdateSubscriptionStatus(ctx, sub1.ID, domain.SubscriptionStatusStopped, nil))

	stopped := domain.SubscriptionStatusStopped
	subs, err := s.ListSubscriptions(ctx, &stopped)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub1.ID, subs[0].ID)

	all, err := s.ListSubscriptions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateSubscriptionStatus_ErrorBookkeeping(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0x0000000000000000000000000000000000000003", Label: "", EventTypes: nil})
	require.NoError(t, err)

	msg := "rpc timeout"
	require.NoError(t, s.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionStatusError, &msg))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "rpc timeout", *got.LastError)
	assert.NotNil(t, got.LastErrorAt)

	// Recovery clears the error fields
	require.NoError(t, s.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionStatusActive, nil))
	got, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.LastErrorAt)
}

func TestListSubscriptionsForRetry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	subOld, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0x0000000000000000000000000000000000000004", Label: "", EventTypes: nil})
	require.NoError(t, err)
	subFresh, err := s.CreateSubscription(ctx, store.NewSubscription{ContractAddress: "0x0000000000000000000000000000000000000005", Label: "", EventTypes: nil})
	require.NoError(t, err)

	msg := "boom"
	require.NoError(t, s.UpdateSubscriptionStatus(ctx, subOld.ID, domain.SubscriptionStatusError, &msg))
	require.NoError(t, s.UpdateSubscriptionStatus(ctx, subFresh.ID, domain.SubscriptionStatusError, &msg))

	// A zero cooldown picks up both, a long cooldown picks up neither
	due, err := s.ListSubscriptionsForRetry(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	due, err = s.ListSubscriptionsForRetry(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
	_ = subOld
}

func TestUpsertEvent_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := newTestEvent("0xTX1", 0, 100)
	created, err := s.UpsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)

	// Same natural key again, must be skipped
	dup := newTestEvent("0xtx1", 0, 100)
	created, err = s.UpsertEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	// Different log index in the same tx is a distinct event
	other := newTestEvent("0xtx1", 1, 100)
	created, err = s.UpsertEvent(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)

	_, total, err := s.QueryEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestQueryEvents_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev1 := newTestEvent("0xtx1", 0, 100)
	ev2 := newTestEvent("0xtx2", 0, 200)
	ev2.EventType = domain.EventTypeEscrowReleased
	ev2.Status = domain.EventStatusFailed
	_, err := s.UpsertEvent(ctx, ev1)
	require.NoError(t, err)
	_, err = s.UpsertEvent(ctx, ev2)
	require.NoError(t, err)

	events, total, err := s.QueryEvents(ctx, store.EventFilter{EventType: domain.EventTypeEscrowReleased})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "0xtx2", events[0].TxHash)

	from := uint64(150)
	events, total, err = s.QueryEvents(ctx, store.EventFilter{FromBlock: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	to := uint64(150)
	_, total, err = s.QueryEvents(ctx, store.EventFilter{ToBlock: &to})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = s.QueryEvents(ctx, store.EventFilter{Status: domain.EventStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// Newest block first
	events, _, err = s.QueryEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(200), events[0].BlockNumber)

	// Chain order on request
	events, _, err = s.QueryEvents(ctx, store.EventFilter{Ascending: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(100), events[0].BlockNumber)
}

func TestGetEventsByTx(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := uint(0); i < 3; i++ {
		_, err := s.UpsertEvent(ctx, newTestEvent("0xTXA", i, 100))
		require.NoError(t, err)
	}

	events, err := s.GetEventsByTx(ctx, "0xTXA")
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Ordered by log index
	assert.Equal(t, uint(0), events[0].LogIndex)
	assert.Equal(t, uint(2), events[2].LogIndex)
}

func TestListFailedEvents_BoundAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exhausted := newTestEvent("0xtx1", 0, 100)
	exhausted.Status = domain.EventStatusFailed
	exhausted.RetryCount = 3
	_, err := s.UpsertEvent(ctx, exhausted)
	require.NoError(t, err)

	retryable := newTestEvent("0xtx2", 0, 100)
	retryable.Status = domain.EventStatusFailed
	retryable.RetryCount = 1
	_, err = s.UpsertEvent(ctx, retryable)
	require.NoError(t, err)

	// A row parked in retrying by an earlier failed attempt is still
	// eligible
	parked := newTestEvent("0xtx3", 0, 100)
	parked.Status = domain.EventStatusRetrying
	parked.RetryCount = 1
	_, err = s.UpsertEvent(ctx, parked)
	require.NoError(t, err)

	failed, err := s.ListFailedEvents(ctx, 3, 100)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	hashes := []string{failed[0].TxHash, failed[1].TxHash}
	assert.ElementsMatch(t, []string{"0xtx2", "0xtx3"}, hashes)
}

func TestUpdateEventStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := newTestEvent("0xtx1", 0, 100)
	ev.Status = domain.EventStatusFailed
	_, err := s.UpsertEvent(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, s.UpdateEventStatus(ctx, ev.ID, domain.EventStatusProcessed, 2, nil))

	got, err := s.GetEventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusProcessed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.LastError)

	err = s.UpdateEventStatus(ctx, 99999, domain.EventStatusProcessed, 0, nil)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestEventStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev1 := newTestEvent("0xtx1", 0, 100)
	ev2 := newTestEvent("0xtx2", 0, 101)
	ev2.EventType = domain.EventTypeEscrowCreated
	ev3 := newTestEvent("0xtx3", 0, 102)
	ev3.Status = domain.EventStatusFailed

	for _, ev := range []*schema.ChainEvent{ev1, ev2, ev3} {
		_, err := s.UpsertEvent(ctx, ev)
		require.NoError(t, err)
	}

	stats, err := s.EventStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByType[domain.EventTypeShipmentCreated])
	assert.Equal(t, int64(1), stats.ByType[domain.EventTypeEscrowCreated])
	assert.Equal(t, int64(2), stats.ByStatus[domain.EventStatusProcessed])
	assert.Equal(t, int64(1), stats.ByStatus[domain.EventStatusFailed])
	assert.Equal(t, int64(3), stats.ByContract["0xabcd000000000000000000000000000000000001"])
}

func TestDeleteEventsBefore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	oldDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	old := newTestEvent("0xtx1", 0, 100)
	old.CreatedAt = oldDate
	recent := newTestEvent("0xtx2", 0, 200)

	// A failed row past the horizon must survive for the retry sweep
	oldFailed := newTestEvent("0xtx3", 0, 100)
	oldFailed.Status = domain.EventStatusFailed
	oldFailed.CreatedAt = oldDate

	// The horizon is ingestion time, a backfill of old blocks stored
	// today is not eligible
	oldBlocks := newTestEvent("0xtx4", 0, 50)
	oldBlocks.BlockTimestamp = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, ev := range []*schema.ChainEvent{old, recent, oldFailed, oldBlocks} {
		_, err := s.UpsertEvent(ctx, ev)
		require.NoError(t, err)
	}

	deleted, err := s.DeleteEventsBefore(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetEventByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	for _, ev := range []*schema.ChainEvent{recent, oldFailed, oldBlocks} {
		_, err := s.GetEventByID(ctx, ev.ID)
		require.NoError(t, err)
	}
}

func TestCheckpointSeedAndAdvance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	contract := "0xC0DE000000000000000000000000000000000001"

	cp, err := s.GetCheckpoint(ctx, contract)
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = s.SeedCheckpoint(ctx, contract, 900)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), cp.LastBlock)

	// Seeding again keeps the stored row
	cp, err = s.SeedCheckpoint(ctx, contract, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), cp.LastBlock)

	err = s.AdvanceCheckpoint(ctx, contract, 1000, store.CheckpointDelta{
		EventsStored:      5,
		DuplicatesSkipped: 2,
		FailedEvents:      1,
		BatchSize:         8,
		Duration:          250 * time.Millisecond,
	})
	require.NoError(t, err)

	cp, err = s.GetCheckpoint(ctx, contract)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cp.LastBlock)
	assert.Equal(t, int64(5), cp.EventsStored)
	assert.Equal(t, int64(2), cp.DuplicatesSkipped)
	assert.Equal(t, int64(1), cp.FailedEvents)
	assert.Equal(t, 8, cp.LastBatchSize)
	assert.Equal(t, int64(250), cp.LastPollDuration)
	assert.NotNil(t, cp.LastProcessedAt)

	// A stale advance never moves the checkpoint backward, counters still apply
	err = s.AdvanceCheckpoint(ctx, contract, 950, store.CheckpointDelta{DuplicatesSkipped: 1})
	require.NoError(t, err)

	cp, err = s.GetCheckpoint(ctx, contract)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cp.LastBlock)
	assert.Equal(t, int64(3), cp.DuplicatesSkipped)
}

func TestAdvanceCheckpoint_Missing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.AdvanceCheckpoint(ctx, "0x0000000000000000000000000000000000000009", 10, store.CheckpointDelta{})
	assert.Error(t, err)
}
