// Package webhook sends outbound entity-change notifications. Calls are
// fire-and-forget: failures are logged and recorded in the WebhookLogs
// collection but never surfaced to the caller's control flow.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/models"
)

// Event describes one entity mutation to notify about.
type Event struct {
	EntityType string
	Operation  string // "POST", "PUT" or "DELETE"
	Payload    map[string]interface{}
	EntityID   string
}

// Notifier dispatches webhook events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// HTTPNotifier posts events to a configured webhook endpoint.
type HTTPNotifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logs       *mongo.Collection
	log        *zap.Logger
}

// NewHTTPNotifier creates a notifier. db may be nil to disable webhook logs.
func NewHTTPNotifier(url, apiKey string, db *mongo.Database, log *zap.Logger) *HTTPNotifier {
	var logs *mongo.Collection
	if db != nil {
		logs = db.Collection("WebhookLogs")
	}
	return &HTTPNotifier{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logs: logs,
		log:  log,
	}
}

type webhookBody struct {
	RequestType string                 `json:"request_type"`
	Endpoint    string                 `json:"endpoint"`
	Data        map[string]interface{} `json:"data"`
}

// Notify sends the event. All errors are swallowed after logging.
func (n *HTTPNotifier) Notify(ctx context.Context, event Event) {
	if n.url == "" {
		return
	}

	endpoint := "/" + event.EntityType
	if event.EntityID != "" && (event.Operation == http.MethodPut || event.Operation == http.MethodDelete) {
		endpoint = fmt.Sprintf("/%s/%s", event.EntityType, event.EntityID)
	}

	data := make(map[string]interface{}, len(event.Payload)+1)
	for k, v := range event.Payload {
		data[k] = v
	}
	if _, ok := data["_id"]; !ok && event.EntityID != "" {
		data["_id"] = event.EntityID
	}

	body, err := json.Marshal(webhookBody{
		RequestType: event.Operation,
		Endpoint:    endpoint,
		Data:        data,
	})
	if err != nil {
		n.log.Error("Failed to encode webhook body", zap.String("entity", event.EntityType), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("Failed to build webhook request", zap.String("entity", event.EntityType), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-make-apikey", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("Webhook call failed",
			zap.String("entity", event.EntityType),
			zap.String("operation", event.Operation),
			zap.Error(err),
		)
		n.saveLog(event, "FAILED", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		n.log.Warn("Webhook returned error status",
			zap.String("entity", event.EntityType),
			zap.Int("status", resp.StatusCode),
		)
		n.saveLog(event, "FAILED", map[string]interface{}{"status": resp.StatusCode})
		return
	}

	n.saveLog(event, "SUCCESS", map[string]interface{}{"status": resp.StatusCode})
}

func (n *HTTPNotifier) saveLog(event Event, status string, data map[string]interface{}) {
	if n.logs == nil {
		return
	}
	// Log writes get their own short deadline so a slow insert cannot hold
	// up row processing.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	entry := models.WebhookLog{
		Operation:  event.Operation,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Data:       data,
		Status:     status,
		Timestamp:  now,
		CreatedAt:  now,
	}
	if _, err := n.logs.InsertOne(ctx, entry); err != nil {
		n.log.Warn("Failed to save webhook log", zap.Error(err))
	}
}

// NopNotifier discards all events. Used in tests.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, Event) {}
