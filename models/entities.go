package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PurchaseOrder is read-only from the import pipeline's point of view.
type PurchaseOrder struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	PONumber string             `bson:"PONumber" json:"PONumber"`
	ClientID primitive.ObjectID `bson:"clientId,omitempty" json:"clientId,omitempty"`
}

// Product is read-only from the import pipeline's point of view. A SKU that
// does not resolve to a product is treated as a size-level SKU instead.
type Product struct {
	ID   primitive.ObjectID `bson:"_id" json:"id"`
	SKU  string             `bson:"sku" json:"sku"`
	Name string             `bson:"name,omitempty" json:"name,omitempty"`
}

// SizeEntry is one size variant on a line item's size breakdown.
type SizeEntry struct {
	SizeName string `bson:"sizeName" json:"sizeName"`
	CsmSku   string `bson:"csmSku,omitempty" json:"csmSku,omitempty"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

// AllocationSize is the per-size quantity inside a shipment allocation.
type AllocationSize struct {
	SizeName string `bson:"sizeName" json:"sizeName"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

// ShipmentAllocation is one entry of LineItem.Shipments. During matching
// entries are only ever updated in place; the slice must not grow.
type ShipmentAllocation struct {
	ShipmentID    string           `bson:"shipmentId,omitempty" json:"shipmentId,omitempty"`
	ShipmentName  string           `bson:"shipmentName,omitempty" json:"shipmentName,omitempty"`
	Quantity      int              `bson:"quantity" json:"quantity"`
	ShippingMode  string           `bson:"shippingMode,omitempty" json:"shippingMode,omitempty"`
	ShipDate      *time.Time       `bson:"shipdate,omitempty" json:"shipdate,omitempty"`
	SizeBreakdown []AllocationSize `bson:"sizeBreakdown,omitempty" json:"sizeBreakdown,omitempty"`
}

// Line item statuses that block further shipment allocation.
const (
	LineItemInvoiced  = "Invoiced"
	LineItemDelivered = "Delivered"
)

// LineItem links a purchase order and a product, or carries a size breakdown
// for size-priced items.
type LineItem struct {
	ID            primitive.ObjectID   `bson:"_id" json:"id"`
	POID          primitive.ObjectID   `bson:"poId" json:"poId"`
	ProductID     primitive.ObjectID   `bson:"productId,omitempty" json:"productId,omitempty"`
	OrderID       primitive.ObjectID   `bson:"orderId,omitempty" json:"orderId,omitempty"`
	Status        string               `bson:"status,omitempty" json:"status,omitempty"`
	Quantity      int                  `bson:"quantity,omitempty" json:"quantity,omitempty"`
	SizeBreakdown []SizeEntry          `bson:"sizeBreakdown,omitempty" json:"sizeBreakdown,omitempty"`
	Shipments     []ShipmentAllocation `bson:"shipments,omitempty" json:"shipments,omitempty"`
}

// Blocked reports whether the line item rejects further shipment allocation.
func (li *LineItem) Blocked() bool {
	return li.Status == LineItemInvoiced || li.Status == LineItemDelivered
}

// SuspectedProduct is a deferred match parked on a shipment until the
// reconciliation pass can bind it. Entries are keyed by
// (sku, sizeName, quantity) for de-duplication.
type SuspectedProduct struct {
	SKU      string `bson:"sku" json:"sku"`
	SizeName string `bson:"sizeName,omitempty" json:"sizeName,omitempty"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

// Shipment is identified by its unique shipping number.
type Shipment struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ShippingNumber    string             `bson:"shippingNumber" json:"shippingNumber"`
	ShippingMode      string             `bson:"shippingMode,omitempty" json:"shippingMode,omitempty"`
	ShipDate          *time.Time         `bson:"shipDate,omitempty" json:"shipDate,omitempty"`
	ETA               *time.Time         `bson:"eta,omitempty" json:"eta,omitempty"`
	ExfactoryDate     *time.Time         `bson:"exfactoryDate,omitempty" json:"exfactoryDate,omitempty"`
	SuspectedProducts []SuspectedProduct `bson:"suspectedProducts,omitempty" json:"suspectedProducts,omitempty"`
}

// WebhookLog records the outcome of one outbound webhook call.
type WebhookLog struct {
	ID         primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Operation  string                 `bson:"operation" json:"operation"`
	EntityType string                 `bson:"entityType" json:"entityType"`
	EntityID   string                 `bson:"entityId,omitempty" json:"entityId,omitempty"`
	Data       map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`
	Status     string                 `bson:"status" json:"status"`
	Timestamp  time.Time              `bson:"timestamp" json:"timestamp"`
	CreatedAt  time.Time              `bson:"createdAt" json:"createdAt"`
}

// Notification is a persisted push notification for a rep user.
type Notification struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"userId" json:"userId"`
	Title      string             `bson:"title" json:"title"`
	Body       string             `bson:"body" json:"body"`
	EntityType string             `bson:"entityType" json:"entityType"`
	EntityID   string             `bson:"entityId,omitempty" json:"entityId,omitempty"`
	Read       bool               `bson:"read" json:"read"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// ToDocument converts a typed value into the generic document shape the
// entity store works with.
func ToDocument(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromDocument decodes a generic document into a typed value.
func FromDocument(doc bson.M, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}
