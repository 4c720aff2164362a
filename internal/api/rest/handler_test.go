package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/freightflow/chain-event-logger/internal/api/rest"
	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
	"github.com/freightflow/chain-event-logger/internal/mocks"
	"github.com/freightflow/chain-event-logger/internal/store"
	"github.com/freightflow/chain-event-logger/internal/store/schema"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

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

const (
	coreHubContract = "0x00000000000000000000000000000000c03e4a01"
	escrowContract  = "0x00000000000000000000000000000000e5c30a02"
)

type apiFixture struct {
	router    *gin.Engine
	store     store.Store
	manager   *mocks.MockManager
	processor *mocks.MockProcessor
}

func setupAPI(t *testing.T, ctrl *gomock.Controller) *apiFixture {
	counter := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:apitestdb%d?mode=memory&cache=shared", counter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	s := store.NewPGStore(db)
	manager := mocks.NewMockManager(ctrl)
	processor := mocks.NewMockProcessor(ctrl)

	handler := rest.NewHandler(s, manager, processor, rest.DefaultContracts{
		CoreHub: coreHubContract,
		Escrow:  escrowContract,
	})

	router := gin.New()
	rest.SetupRoutes(router, handler)

	return &apiFixture{router: router, store: s, manager: manager, processor: processor}
}

func (f *apiFixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func storeEvent(t *testing.T, s store.Store, txHash string, blockNumber uint64, status domain.EventStatus) *schema.ChainEvent {
	ev := &schema.ChainEvent{
		EventType:       domain.EventTypeShipmentCreated,
		ContractAddress: coreHubContract,
		TxHash:          txHash,
		LogIndex:        0,
		BlockNumber:     blockNumber,
		BlockHash:       "0xblock",
		BlockTimestamp:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Payload:         []byte(`{"shipment_id":"0x01"}`),
		Status:          status,
	}
	created, err := s.UpsertEvent(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, created)
	return ev
}

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	w := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestCreateSubscription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	f.manager.EXPECT().StartWatch(gomock.Any(), gomock.Any()).Return(nil)
	f.manager.EXPECT().IsRunning(gomock.Any()).Return(true)

	from := uint64(1500)
	w := f.request(t, http.MethodPost, "/api/v1/subscriptions", rest.CreateSubscriptionRequest{
		ContractAddress: coreHubContract,
		Label:           "core-hub",
		EventTypes:      []string{"shipment_created", "delivery_confirmed"},
		FilterCriteria:  map[string]string{"sender": "0x01"},
		FromBlock:       &from,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[rest.SubscriptionResponse](t, w)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, coreHubContract, resp.ContractAddress)
	assert.Equal(t, "active", resp.Status)
	assert.True(t, resp.Running)
	assert.Equal(t, []string{"shipment_created", "delivery_confirmed"}, resp.EventTypes)
	assert.Equal(t, map[string]string{"sender": "0x01"}, resp.FilterCriteria)
	require.NotNil(t, resp.FromBlock)
	assert.Equal(t, uint64(1500), *resp.FromBlock)
}

func TestCreateSubscription_WithoutStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	// No StartWatch expectation, the loop must not be started
	f.manager.EXPECT().IsRunning(gomock.Any()).Return(false)

	start := false
	w := f.request(t, http.MethodPost, "/api/v1/subscriptions", rest.CreateSubscriptionRequest{
		ContractAddress: coreHubContract,
		Start:           &start,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[rest.SubscriptionResponse](t, w)
	assert.False(t, resp.Running)
}

func TestCreateSubscription_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	// Missing contract address
	w := f.request(t, http.MethodPost, "/api/v1/subscriptions", map[string]string{"label": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown event type
	w = f.request(t, http.MethodPost, "/api/v1/subscriptions", rest.CreateSubscriptionRequest{
		ContractAddress: coreHubContract,
		EventTypes:      []string{"cargo_vanished"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSubscription_Duplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	_, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "existing"})
	require.NoError(t, err)

	w := f.request(t, http.MethodPost, "/api/v1/subscriptions", rest.CreateSubscriptionRequest{
		ContractAddress: coreHubContract,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetSubscription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	f.manager.EXPECT().IsRunning(sub.ID).Return(false)

	w := f.request(t, http.MethodGet, "/api/v1/subscriptions/"+sub.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[rest.SubscriptionResponse](t, w)
	assert.Equal(t, sub.ID, resp.ID)

	w = f.request(t, http.MethodGet, "/api/v1/subscriptions/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSubscription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	// A running loop restarts so the new filter takes effect
	gomock.InOrder(
		f.manager.EXPECT().IsRunning(sub.ID).Return(true),
		f.manager.EXPECT().RestartWatch(gomock.Any(), sub.ID).Return(nil),
		f.manager.EXPECT().IsRunning(sub.ID).Return(true),
	)

	label := "renamed"
	types := []string{"escrow_created"}
	criteria := map[string]string{"sender": "0x01"}
	w := f.request(t, http.MethodPut, "/api/v1/subscriptions/"+sub.ID, rest.UpdateSubscriptionRequest{
		Label:          &label,
		EventTypes:     &types,
		FilterCriteria: &criteria,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[rest.SubscriptionResponse](t, w)
	assert.Equal(t, "renamed", resp.Label)
	assert.Equal(t, types, resp.EventTypes)
	assert.Equal(t, criteria, resp.FilterCriteria)
	assert.True(t, resp.Running)
}

func TestUpdateSubscription_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	types := []string{"not_a_real_type"}
	w := f.request(t, http.MethodPut, "/api/v1/subscriptions/"+sub.ID, rest.UpdateSubscriptionRequest{EventTypes: &types})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	label := "x"
	w = f.request(t, http.MethodPut, "/api/v1/subscriptions/missing-id", rest.UpdateSubscriptionRequest{Label: &label})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSubscriptions_StatusFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)
	ctx := context.Background()

	active, err := f.store.CreateSubscription(ctx, store.NewSubscription{ContractAddress: coreHubContract, Label: "a"})
	require.NoError(t, err)
	stopped, err := f.store.CreateSubscription(ctx, store.NewSubscription{ContractAddress: escrowContract, Label: "b"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateSubscriptionStatus(ctx, stopped.ID, domain.SubscriptionStatusStopped, nil))

	f.manager.EXPECT().IsRunning(active.ID).Return(true)

	w := f.request(t, http.MethodGet, "/api/v1/subscriptions?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[map[string][]rest.SubscriptionResponse](t, w)
	require.Len(t, resp["subscriptions"], 1)
	assert.Equal(t, active.ID, resp["subscriptions"][0].ID)

	// An unknown status is rejected
	w = f.request(t, http.MethodGet, "/api/v1/subscriptions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionLifecycleEndpoints(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	gomock.InOrder(
		f.manager.EXPECT().StartWatch(gomock.Any(), sub.ID).Return(nil),
		f.manager.EXPECT().IsRunning(sub.ID).Return(true),
		f.manager.EXPECT().StopWatch(gomock.Any(), sub.ID).Return(nil),
		f.manager.EXPECT().IsRunning(sub.ID).Return(false),
		f.manager.EXPECT().PauseWatch(gomock.Any(), sub.ID).Return(nil),
		f.manager.EXPECT().IsRunning(sub.ID).Return(false),
		f.manager.EXPECT().RestartWatch(gomock.Any(), sub.ID).Return(nil),
		f.manager.EXPECT().IsRunning(sub.ID).Return(true),
	)

	for _, action := range []string{"start", "stop", "pause", "restart"} {
		w := f.request(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/"+action, nil)
		assert.Equal(t, http.StatusOK, w.Code, "action %s", action)
	}
}

func TestStartSubscription_Conflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	f.manager.EXPECT().StartWatch(gomock.Any(), sub.ID).Return(domain.ErrWatchRunning)

	w := f.request(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteSubscription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	sub, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: coreHubContract, Label: "core"})
	require.NoError(t, err)

	f.manager.EXPECT().IsRunning(sub.ID).Return(true)
	f.manager.EXPECT().StopWatch(gomock.Any(), sub.ID).Return(nil)

	w := f.request(t, http.MethodDelete, "/api/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = f.store.GetSubscription(context.Background(), sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	f.manager.EXPECT().IsRunning(sub.ID).Return(false)
	w = f.request(t, http.MethodDelete, "/api/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateDefaultSubscriptions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	// The escrow contract is already subscribed, only the core hub is new
	_, err := f.store.CreateSubscription(context.Background(), store.NewSubscription{ContractAddress: escrowContract, Label: "existing"})
	require.NoError(t, err)

	f.manager.EXPECT().StartWatch(gomock.Any(), gomock.Any()).Return(nil)

	w := f.request(t, http.MethodPost, "/api/v1/subscriptions/defaults", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeBody[map[string][]rest.SubscriptionResponse](t, w)
	require.Len(t, resp["subscriptions"], 1)
	assert.Equal(t, coreHubContract, resp["subscriptions"][0].ContractAddress)
}

func TestListEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	storeEvent(t, f.store, "0xtx1", 100, domain.EventStatusProcessed)
	storeEvent(t, f.store, "0xtx2", 200, domain.EventStatusFailed)

	w := f.request(t, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[rest.ListEventsResponse](t, w)
	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, uint64(200), resp.Events[0].BlockNumber)

	w = f.request(t, http.MethodGet, "/api/v1/events?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[rest.ListEventsResponse](t, w)
	assert.Equal(t, int64(1), resp.Total)

	w = f.request(t, http.MethodGet, "/api/v1/events?from_block=150&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[rest.ListEventsResponse](t, w)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, 5, resp.Limit)

	w = f.request(t, http.MethodGet, "/api/v1/events?order=asc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[rest.ListEventsResponse](t, w)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, uint64(100), resp.Events[0].BlockNumber)

	w = f.request(t, http.MethodGet, "/api/v1/events?order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	ev := storeEvent(t, f.store, "0xtx1", 100, domain.EventStatusProcessed)

	w := f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/events/%d", ev.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[rest.EventResponse](t, w)
	assert.Equal(t, ev.ID, resp.ID)
	assert.Equal(t, "shipment_created", resp.EventType)
	assert.JSONEq(t, `{"shipment_id":"0x01"}`, string(resp.Payload))

	w = f.request(t, http.MethodGet, "/api/v1/events/99999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/events/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEventsByTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	storeEvent(t, f.store, "0xtx1", 100, domain.EventStatusProcessed)

	w := f.request(t, http.MethodGet, "/api/v1/events/tx/0xtx1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[map[string][]rest.EventResponse](t, w)
	require.Len(t, resp["events"], 1)
	assert.Equal(t, "0xtx1", resp["events"][0].TxHash)
}

func TestGetEventStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	storeEvent(t, f.store, "0xtx1", 100, domain.EventStatusProcessed)
	storeEvent(t, f.store, "0xtx2", 200, domain.EventStatusFailed)

	w := f.request(t, http.MethodGet, "/api/v1/events/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[rest.StatsResponse](t, w)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, int64(2), resp.ByType["shipment_created"])
	assert.Equal(t, int64(1), resp.ByStatus["failed"])
}

func TestRetryFailedEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	f.processor.EXPECT().RetryFailedEvents(gomock.Any(), 0).Return(7, nil)

	w := f.request(t, http.MethodPost, "/api/v1/events/retry-failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recovered":7`)

	// An explicit bound overrides the configured one
	f.processor.EXPECT().RetryFailedEvents(gomock.Any(), 5).Return(2, nil)

	w = f.request(t, http.MethodPost, "/api/v1/events/retry-failed?max_retries=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recovered":2`)

	w = f.request(t, http.MethodPost, "/api/v1/events/retry-failed?max_retries=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCleanupEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	f.processor.EXPECT().CleanupOldEvents(gomock.Any(), 0).Return(int64(12), nil)

	w := f.request(t, http.MethodPost, "/api/v1/events/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":12`)

	f.processor.EXPECT().CleanupOldEvents(gomock.Any(), 30).Return(int64(3), nil)

	w = f.request(t, http.MethodPost, "/api/v1/events/cleanup?days=30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":3`)
}

func TestListCheckpoints(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupAPI(t, ctrl)

	_, err := f.store.SeedCheckpoint(context.Background(), coreHubContract, 900)
	require.NoError(t, err)

	w := f.request(t, http.MethodGet, "/api/v1/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[map[string][]rest.CheckpointResponse](t, w)
	require.Len(t, resp["checkpoints"], 1)
	assert.Equal(t, coreHubContract, resp["checkpoints"][0].ContractAddress)
	assert.Equal(t, uint64(900), resp["checkpoints"][0].LastBlock)
}
