// Package notify creates rep-facing notifications when a client-side change
// touches an entity a rep is responsible for. Recipients are resolved by
// walking ownership chains (design version to design to request, order to
// request) until a repId turns up.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/models"
)

const deeplinkBase = "https://csm-be.web.app"

// EntityStore is the subset of the generic store the notifier needs.
type EntityStore interface {
	Create(ctx context.Context, entityType string, data bson.M) entity.Result
	Query(ctx context.Context, entityType string, req entity.QueryRequest) ([]bson.M, error)
}

// Publisher pushes a created notification to the realtime fan-out topic.
// Consumers deliver it to connected clients keyed by user id.
type Publisher interface {
	Publish(ctx context.Context, userID string, notification models.Notification) error
}

// KafkaPublisher writes notifications to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, userID string, notification models.Notification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops notifications; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, models.Notification) error { return nil }

// Service resolves recipients and persists notifications. All failures are
// logged and swallowed; notifications never fail the triggering request.
type Service struct {
	store     EntityStore
	publisher Publisher
	log       *zap.Logger
}

func NewService(store EntityStore, publisher Publisher, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{store: store, publisher: publisher, log: log}
}

// NotifyReps notifies the reps responsible for the given object about a
// client-side change. Non-client senders and unknown object types are no-ops.
func (s *Service) NotifyReps(ctx context.Context, senderRole, objectType, objectID string) {
	if senderRole != "Client" || objectType == "" || objectID == "" {
		return
	}

	repIDs, err := s.recipientIDs(ctx, objectType, objectID)
	if err != nil {
		s.log.Error("Failed to resolve notification recipients",
			zap.String("objectType", objectType), zap.String("objectId", objectID), zap.Error(err))
		return
	}
	if len(repIDs) == 0 {
		return
	}

	users, err := s.fetchUsers(ctx, repIDs)
	if err != nil {
		s.log.Error("Failed to fetch users for notification", zap.Error(err))
		return
	}
	if len(users) == 0 {
		s.log.Warn("No users found for repIds", zap.Strings("repIds", repIDs))
		return
	}

	title := "New Message from Client"
	body := fmt.Sprintf("You have received a new message in %s from the client. Please check for updates.", objectType)
	deeplink := deeplinkFor(objectType, objectID)
	now := time.Now().UTC()

	for _, userID := range users {
		notification := models.Notification{
			UserID:     userID,
			Title:      title,
			Body:       body,
			EntityType: objectType,
			EntityID:   objectID,
			CreatedAt:  now,
		}
		doc, err := models.ToDocument(notification)
		if err != nil {
			s.log.Error("Failed to encode notification", zap.Error(err))
			continue
		}
		delete(doc, "_id")
		doc["deeplink"] = deeplink
		if created := s.store.Create(ctx, "Notification", doc); !created.Success {
			s.log.Error("Failed to create notification",
				zap.String("userId", userID), zap.String("message", created.Message))
			continue
		}
		if err := s.publisher.Publish(ctx, userID, notification); err != nil {
			s.log.Warn("Failed to publish notification", zap.String("userId", userID), zap.Error(err))
		}
	}

	s.log.Info("Notified reps",
		zap.String("objectType", objectType),
		zap.String("objectId", objectID),
		zap.Int("recipients", len(users)),
	)
}

// recipientIDs walks the ownership chain for the object type and collects the
// distinct repIds found at its end.
func (s *Service) recipientIDs(ctx context.Context, objectType, objectID string) ([]string, error) {
	switch objectType {
	case "Request":
		doc, err := s.fetchByID(ctx, "Request", objectID)
		if err != nil || doc == nil {
			return nil, err
		}
		return collectRepIDs(doc), nil

	case "DesignVersion":
		version, err := s.fetchByID(ctx, "DesignVersion", objectID)
		if err != nil || version == nil {
			return nil, err
		}
		design, err := s.fetchByID(ctx, "Design", idString(version["designId"]))
		if err != nil || design == nil {
			return nil, err
		}
		request, err := s.fetchByID(ctx, "Request", idString(design["requestId"]))
		if err != nil || request == nil {
			return nil, err
		}
		return collectRepIDs(request), nil

	case "SampleLineItem":
		lineItem, err := s.fetchByID(ctx, "lineItem", objectID)
		if err != nil || lineItem == nil {
			return nil, err
		}
		return s.repIDsViaOrder(ctx, idString(lineItem["orderId"]))

	case "Order":
		return s.repIDsViaOrder(ctx, objectID)
	}
	return nil, nil
}

// repIDsViaOrder prefers repIds on the order itself, falling back to the
// order's originating request.
func (s *Service) repIDsViaOrder(ctx context.Context, orderID string) ([]string, error) {
	order, err := s.fetchByID(ctx, "Order", orderID)
	if err != nil || order == nil {
		return nil, err
	}
	if ids := collectRepIDs(order); len(ids) > 0 {
		return ids, nil
	}
	request, err := s.fetchByID(ctx, "Request", idString(order["requestId"]))
	if err != nil || request == nil {
		return nil, err
	}
	return collectRepIDs(request), nil
}

func (s *Service) fetchByID(ctx context.Context, entityType, id string) (bson.M, error) {
	if id == "" {
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	docs, err := s.store.Query(ctx, entityType, entity.QueryRequest{
		Filter:     bson.M{"_id": bson.M{"$eq": oid}},
		Pagination: entity.Pagination{Page: 1, PageSize: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entityType, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// fetchUsers resolves repIds to existing user ids, dropping unknowns.
func (s *Service) fetchUsers(ctx context.Context, repIDs []string) ([]string, error) {
	oids := make([]primitive.ObjectID, 0, len(repIDs))
	for _, id := range repIDs {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			s.log.Warn("Invalid repId skipped", zap.String("repId", id))
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil, nil
	}

	docs, err := s.store.Query(ctx, "User", entity.QueryRequest{
		Filter:     bson.M{"_id": bson.M{"$in": oids}},
		Pagination: entity.Pagination{Page: 1, PageSize: int64(len(oids))},
	})
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	users := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id := idString(doc["_id"]); id != "" {
			users = append(users, id)
		}
	}
	return users, nil
}

// collectRepIDs reads the document's repId field, which may be a single value
// or an array, and returns the distinct ids as strings.
func collectRepIDs(doc bson.M) []string {
	raw, ok := doc["repId"]
	if !ok || raw == nil {
		return nil
	}

	var values []interface{}
	switch v := raw.(type) {
	case []interface{}:
		values = v
	case primitive.A:
		values = v
	default:
		values = []interface{}{v}
	}

	seen := make(map[string]bool, len(values))
	ids := make([]string, 0, len(values))
	for _, value := range values {
		id := idString(value)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	}
	return ""
}

func deeplinkFor(objectType, objectID string) string {
	switch objectType {
	case "Request":
		return fmt.Sprintf("%s/ViewRequest/%s", deeplinkBase, objectID)
	case "DesignVersion":
		return fmt.Sprintf("%s/Viewdesign/%s", deeplinkBase, objectID)
	case "SampleLineItem":
		return fmt.Sprintf("%s/SampleDetail/%s", deeplinkBase, objectID)
	}
	return deeplinkBase
}
