package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	syncengine "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/adapter"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/outbox"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

func newEngine(t *testing.T, a adapter.Adapter) *syncengine.Engine {
	t.Helper()
	cfg := syncengine.DefaultConfig()
	cfg.InitiallyOnline = true
	cfg.Scheduler.GracePeriod = time.Hour
	e := syncengine.NewEngine(context.Background(), syncengine.Dependencies{
		Documents:   outbox.NewMemoryDocumentStore(),
		Adapter:     a,
		IDGenerator: uuid.Sequence("item"),
		Logger:      logging.New(io.Discard, logging.LevelError),
	}, cfg)
	t.Cleanup(e.Stop)
	return e
}

func enqueue(t *testing.T, e *syncengine.Engine, visitID string) models.OutboxItem {
	t.Helper()
	item, err := e.Enqueue(context.Background(), outbox.EnqueueRequest{
		EntityType: models.EntityVisit,
		Operation:  models.OperationUpdate,
		Payload:    models.VisitPayload{VisitID: visitID},
	})
	require.NoError(t, err)
	return item
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	srv := NewServer(newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{})), nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatus(t *testing.T) {
	e := newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{}))
	enqueue(t, e, "V1")
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body syncengine.EngineStatus
	decode(t, rec, &body)
	assert.Equal(t, syncengine.SyncStatusIdle, body.Status)
	assert.Equal(t, models.ConnectivityOnline, body.Connectivity)
	assert.Equal(t, 1, body.Counts.Pending)
}

func TestOutbox_listsAndFilters(t *testing.T) {
	fake := adapter.NewScriptedAdapter(adapter.Applied{}).
		Script("visit/V2", adapter.RejectedConflict{Detail: "stale"})
	e := newEngine(t, fake)
	enqueue(t, e, "V1")
	conflicted := enqueue(t, e, "V2")
	_, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/outbox")
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Items []ItemView `json:"items"`
		Count int        `json:"count"`
	}
	decode(t, rec, &all)
	assert.Equal(t, 2, all.Count)
	assert.Equal(t, "V1", all.Items[0].EntityID)
	assert.JSONEq(t, `{"visitId":"V1","scheduledAt":"0001-01-01T00:00:00Z"}`, string(all.Items[0].Payload))

	rec = do(t, srv.Handler(), http.MethodGet, "/api/outbox?status=conflict")
	var filtered struct {
		Items []ItemView `json:"items"`
	}
	decode(t, rec, &filtered)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, conflicted.ID, filtered.Items[0].ID)
	assert.Equal(t, "stale", filtered.Items[0].LastError)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/outbox?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync_wait(t *testing.T) {
	e := newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{}))
	item := enqueue(t, e, "V1")
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/sync?wait=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Synced int `json:"synced"`
	}
	decode(t, rec, &result)
	assert.Equal(t, 1, result.Synced)

	got, _ := e.Item(item.ID)
	assert.Equal(t, models.StatusSynced, got.Status)
}

func TestSync_background(t *testing.T) {
	fake := adapter.NewScriptedAdapter(adapter.Applied{})
	fake.SetDelay(50 * time.Millisecond)
	e := newEngine(t, fake)
	enqueue(t, e, "V1")
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/sync?wait=true")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CYCLE_IN_PROGRESS")
}

func TestResolve(t *testing.T) {
	fake := adapter.NewScriptedAdapter(adapter.Applied{}).
		Script("visit/V1", adapter.RejectedConflict{Detail: "stale"})
	e := newEngine(t, fake)
	item := enqueue(t, e, "V1")
	_, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/outbox/"+item.ID.String()+"/resolve?side=merge")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/outbox/"+item.ID.String()+"/resolve?side=server")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"discarded"`)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/outbox/"+item.ID.String()+"/resolve?side=server")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND_OR_NOT_CONFLICTED")
}

func TestRetry(t *testing.T) {
	fake := adapter.NewScriptedAdapter(adapter.Applied{}).
		Script("visit/V1", adapter.RejectedPermanent{Reason: "missing party"})
	e := newEngine(t, fake)
	item := enqueue(t, e, "V1")
	_, err := e.SyncNow(context.Background())
	require.NoError(t, err)
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/outbox/"+item.ID.String()+"/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requeued":true`)

	got, _ := e.Item(item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/outbox/"+item.ID.String()+"/retry")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestNewItemView_quoteTotal(t *testing.T) {
	quote := models.OutboxItem{
		ID:          "item-1",
		EntityType:  models.EntityQuote,
		Operation:   models.OperationCreate,
		Status:      models.StatusPending,
		MaxAttempts: 3,
		Payload: models.QuotePayload{QuoteID: "Q1", PartyID: "P1", Currency: "EUR", Lines: []models.QuoteLine{
			{SKU: "A", Quantity: 2, UnitPriceCents: 150},
			{SKU: "B", Quantity: 1, UnitPriceCents: 1000},
		}},
	}
	view := NewItemView(quote)
	require.NotNil(t, view.TotalCents)
	assert.Equal(t, int64(1300), *view.TotalCents)
	assert.Equal(t, "Q1", view.EntityID)

	visit := NewItemView(models.OutboxItem{ID: "item-2", EntityType: models.EntityVisit, Payload: models.VisitPayload{VisitID: "V1"}})
	assert.Nil(t, visit.TotalCents)
}

func TestMetrics(t *testing.T) {
	e := newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{}))
	enqueue(t, e, "V1")
	srv := NewServer(e, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fieldsync_")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := NewServer(newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{})), nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/sync")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// =====================================================
// WebSocket Tests
// =====================================================

func dial(t *testing.T, server *httptest.Server, hub *Hub) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_streamsEngineEvents(t *testing.T) {
	e := newEngine(t, adapter.NewScriptedAdapter(adapter.Applied{}))
	hub := NewHub()
	t.Cleanup(hub.Close)
	e.SetEventHandler(hub)
	server := httptest.NewServer(NewServer(e, hub).Handler())
	t.Cleanup(server.Close)

	conn := dial(t, server, hub)
	item := enqueue(t, e, "V1")

	msg := readEnvelope(t, conn)
	assert.Equal(t, string(syncengine.SyncEventEnqueued), msg["type"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, item.ID.String(), data["itemId"])
}

func TestWebSocket_subscriptionFilters(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{"sync.completed"},
	}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.Broadcast("outbox.enqueued", map[string]string{"itemId": "a"})
	hub.Broadcast("sync.completed", map[string]string{"itemId": "b"})

	msg := readEnvelope(t, conn)
	assert.Equal(t, "sync.completed", msg["type"])
}

func TestWebSocket_ping(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	conn := dial(t, server, hub)
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))

	msg := readEnvelope(t, conn)
	assert.Equal(t, "pong", msg["action"])
}

func TestWebSocket_rejectsForeignOrigin(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_closeDisconnectsClients(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	conn := dial(t, server, hub)

	hub.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	hub.Broadcast("sync.started", nil)
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:8091", true},
		{"http://[::1]:8091", true},
		{"https://example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(req), tt.origin)
	}
}
