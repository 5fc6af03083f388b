// Package diagnostics exposes a local HTTP surface for inspecting and
// driving the sync engine: status, outbox contents, manual sync, conflict
// resolution, a WebSocket event stream and Prometheus metrics.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	syncengine "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
)

// Server serves the diagnostics API.
type Server struct {
	engine syncengine.SyncEngineInterface
	hub    *Hub
	mux    *http.ServeMux
}

// NewServer builds a Server. hub may be nil to disable the event stream.
func NewServer(engine syncengine.SyncEngineInterface, hub *Hub) *Server {
	s := &Server{engine: engine, hub: hub, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", healthz)
	s.mux.HandleFunc("GET /api/status", s.status)
	s.mux.HandleFunc("GET /api/outbox", s.outbox)
	s.mux.HandleFunc("POST /api/sync", s.sync)
	s.mux.HandleFunc("POST /api/outbox/{id}/resolve", s.resolve)
	s.mux.HandleFunc("POST /api/outbox/{id}/retry", s.retry)
	if s.hub != nil {
		s.mux.Handle("GET /api/ws", s.hub)
	}
	s.mux.Handle("GET /metrics", telemetry.Handler())
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Debug("Diagnostics request", map[string]interface{}{"method": r.Method, "path": r.URL.Path})
		s.mux.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Diagnostics server listening", map[string]interface{}{"address": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(errors.ErrInternal, "graceful shutdown failed", err)
	}
	return nil
}

// healthz reports a simple OK status.
func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "fieldsync"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// ItemView is the JSON shape of an outbox item.
type ItemView struct {
	ID             models.UUID         `json:"id"`
	EntityType     models.EntityType   `json:"entityType"`
	EntityID       string              `json:"entityId"`
	Operation      models.Operation    `json:"operation"`
	Status         models.OutboxStatus `json:"status"`
	Attempts       int                 `json:"attempts"`
	MaxAttempts    int                 `json:"maxAttempts"`
	LastError      string              `json:"lastError,omitempty"`
	UploadProgress *int                `json:"uploadProgress,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	NextEligibleAt *time.Time          `json:"nextEligibleAt,omitempty"`
	SyncedAt       *time.Time          `json:"syncedAt,omitempty"`
	Payload        json.RawMessage     `json:"payload,omitempty"`
	// TotalCents is set for quotes.
	TotalCents *int64 `json:"totalCents,omitempty"`
}

// NewItemView converts an outbox item to its JSON shape.
func NewItemView(item models.OutboxItem) ItemView {
	view := ItemView{
		ID:             item.ID,
		EntityType:     item.EntityType,
		Operation:      item.Operation,
		Status:         item.Status,
		Attempts:       item.Attempts,
		MaxAttempts:    item.MaxAttempts,
		LastError:      item.LastError,
		UploadProgress: item.UploadProgress,
		CreatedAt:      item.CreatedAt,
		NextEligibleAt: item.NextEligibleAt,
		SyncedAt:       item.SyncedAt,
	}
	if item.Payload != nil {
		view.EntityID = item.Payload.EntityID()
		if raw, err := models.EncodePayload(item.Payload); err == nil {
			view.Payload = raw
		}
		if quote, ok := item.Payload.(models.QuotePayload); ok {
			total := quote.TotalCents()
			view.TotalCents = &total
		}
	}
	return view
}

// outbox lists items in queue order, optionally filtered by ?status=.
func (s *Server) outbox(w http.ResponseWriter, r *http.Request) {
	filter := models.OutboxStatus(r.URL.Query().Get("status"))
	if filter != "" && !filter.Valid() {
		writeError(w, http.StatusBadRequest, string(errors.ErrInvalid), "unknown status "+string(filter))
		return
	}

	items := s.engine.Snapshot()
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		if filter != "" && item.Status != filter {
			continue
		}
		views = append(views, NewItemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": views, "count": len(views)})
}

// sync starts a cycle. With ?wait=true it runs the cycle inline and
// returns its result.
func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") != "true" {
		started := s.engine.TriggerSync(r.Context())
		status := http.StatusAccepted
		if !started {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]bool{"started": started})
		return
	}

	result, err := s.engine.SyncNow(r.Context())
	if err != nil {
		if errors.Is(err, errors.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, string(errors.ErrCycleInProgress), err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, string(errors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resolve applies ?side=local|server to a conflict item.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))
	resolution, err := conflict.ParseResolution(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(errors.ErrInvalid), err.Error())
		return
	}

	result := s.engine.Resolve(r.Context(), id, resolution)
	if !result.Applied() {
		writeError(w, http.StatusConflict, string(errors.CodeOf(result.Err)), result.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"itemId":     result.ItemID,
		"resolution": result.Resolution,
		"outcome":    result.Outcome,
		"triggered":  result.Triggered,
	})
}

// retry gives an error item a fresh attempt budget.
func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))
	if err := s.engine.Retry(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errors.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, string(errors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"itemId": id, "requeued": true})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("Failed to encode response", err)
	}
}
