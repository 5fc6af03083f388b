package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// IdempotencyHeader carries the outbox item id on every apply request.
const IdempotencyHeader = "Idempotency-Key"

// maxResponseBody caps how much of a response is read into an outcome.
const maxResponseBody = 1 << 20

// maxReasonBytes caps the response text kept in a failure reason.
const maxReasonBytes = 200

// HTTPConfig holds backend connection settings.
type HTTPConfig struct {
	BaseURL string
	Token   string
	// Timeout bounds a single request; the scheduler enforces its own
	// per-call deadline on top of this.
	Timeout time.Duration
}

// HTTPAdapter applies mutations against the backend's REST API.
type HTTPAdapter struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPAdapter creates a new HTTPAdapter.
func NewHTTPAdapter(config *HTTPConfig) *HTTPAdapter {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// applyBody is the JSON document sent for create and update requests.
type applyBody struct {
	EntityType models.EntityType `json:"entityType"`
	Operation  models.Operation  `json:"operation"`
	EntityID   string            `json:"entityId"`
	Payload    json.RawMessage   `json:"payload"`
	Attempt    int               `json:"attempt"`
}

// appliedBody is the expected 2xx response.
type appliedBody struct {
	ServerVersion string `json:"serverVersion"`
}

// conflictBody is the expected 409/412 response.
type conflictBody struct {
	Message string          `json:"message"`
	Current json.RawMessage `json:"current"`
}

// Apply implements Adapter. Transport failures are reported as
// RejectedTransient and unencodable requests as RejectedPermanent; Apply
// never returns an error.
func (a *HTTPAdapter) Apply(ctx context.Context, req Request) (Outcome, error) {
	httpReq, err := a.createRequest(ctx, req)
	if err != nil {
		return RejectedPermanent{Reason: err.Error()}, nil
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return RejectedTransient{Reason: "upload timed out"}, nil
		}
		return RejectedTransient{Reason: fmt.Sprintf("apply request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return RejectedTransient{Reason: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	return classify(resp.StatusCode, body), nil
}

func (a *HTTPAdapter) createRequest(ctx context.Context, req Request) (*http.Request, error) {
	if req.Payload == nil {
		return nil, fmt.Errorf("request %s has no payload", req.ItemID)
	}

	endpoint := a.endpoint(req.EntityType, req.Payload.EntityID())

	method := http.MethodPost
	var body io.Reader
	if req.Operation == models.OperationDelete {
		method = http.MethodDelete
	} else {
		data, err := encodeBody(req)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(IdempotencyHeader, string(req.ItemID))
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if a.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.Token)
	}
	return httpReq, nil
}

func (a *HTTPAdapter) endpoint(entityType models.EntityType, entityID string) string {
	return fmt.Sprintf("%s/v1/%s/%s",
		strings.TrimRight(a.config.BaseURL, "/"),
		collection(entityType),
		url.PathEscape(entityID))
}

// collection maps an entity type to its REST collection.
func collection(t models.EntityType) string {
	switch t {
	case models.EntityVisit:
		return "visits"
	case models.EntityTask:
		return "tasks"
	case models.EntityParty:
		return "parties"
	case models.EntityQuote:
		return "quotes"
	case models.EntityMedia:
		return "media"
	}
	return string(t)
}

func encodeBody(req Request) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch p := req.Payload.(type) {
	case models.VisitPayload, models.TaskPayload, models.PartyPayload:
		payload, err = models.EncodePayload(p)
	case models.QuotePayload:
		if len(p.Lines) == 0 {
			return nil, fmt.Errorf("quote %s has no lines", p.QuoteID)
		}
		payload, err = models.EncodePayload(p)
	case models.MediaPayload:
		// The binary is uploaded separately; only metadata is applied here.
		p.LocalPath = ""
		payload, err = models.EncodePayload(p)
	default:
		return nil, fmt.Errorf("unsupported payload %T", req.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	return json.Marshal(applyBody{
		EntityType: req.EntityType,
		Operation:  req.Operation,
		EntityID:   req.Payload.EntityID(),
		Payload:    payload,
		Attempt:    req.Attempts + 1,
	})
}

// classify maps an HTTP status to an outcome.
func classify(status int, body []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		var applied appliedBody
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &applied); err != nil {
				logging.Debug("Ignoring unexpected apply response body", map[string]interface{}{
					"status": status,
					"error":  err.Error(),
				})
			}
		}
		return Applied{ServerVersion: applied.ServerVersion}

	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		var conflict conflictBody
		if err := json.Unmarshal(body, &conflict); err != nil {
			return RejectedConflict{Detail: fmt.Sprintf("HTTP %d", status)}
		}
		detail := conflict.Message
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", status)
		}
		snapshot := conflict.Current
		if len(snapshot) == 0 && json.Valid(body) {
			snapshot = json.RawMessage(body)
		}
		return RejectedConflict{Detail: detail, ServerSnapshot: snapshot}

	case status == http.StatusRequestTimeout, status == http.StatusTooEarly,
		status == http.StatusTooManyRequests, status >= 500:
		return RejectedTransient{Reason: statusReason(status, body)}

	default:
		return RejectedPermanent{Reason: statusReason(status, body)}
	}
}

func statusReason(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxReasonBytes {
		cut := maxReasonBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return fmt.Sprintf("HTTP %d: %s", status, msg)
}
