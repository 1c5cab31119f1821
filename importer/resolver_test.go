package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/events"
	"github.com/excel-pros/csm-backend/models"
	"github.com/excel-pros/csm-backend/webhook"
)

func newTestPipeline(store *fakeStore, repo *fakeRepo, cfg Config) (*Pipeline, *events.MemoryBroadcaster) {
	broadcaster := events.NewMemoryBroadcaster()
	p := New(store, repo, broadcaster, webhook.NopNotifier{}, zap.NewNop(), cfg)
	return p, broadcaster
}

func testRow(data map[string]interface{}) models.ImportRow {
	return models.ImportRow{
		ID:           primitive.NewObjectID(),
		ImportDataID: primitive.NewObjectID(),
		Data:         data,
		Status:       models.RowProcessing,
	}
}

func seedPO(store *fakeStore, poNumber string) models.PurchaseOrder {
	po := models.PurchaseOrder{ID: primitive.NewObjectID(), PONumber: poNumber}
	store.add(EntityPO, po)
	return po
}

func seedProduct(store *fakeStore, sku string) models.Product {
	product := models.Product{ID: primitive.NewObjectID(), SKU: sku}
	store.add(EntityProduct, product)
	return product
}

func TestResolveRowMissingFields(t *testing.T) {
	p, _ := newTestPipeline(newFakeStore(), newFakeRepo(), Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{
			"no PO name",
			map[string]interface{}{"sku": "A", "Shipment": "S", "quantity": 1},
			"Missing required fields: POName",
		},
		{
			"no shipping number",
			map[string]interface{}{"POName": "PO-1", "sku": "A", "quantity": 1},
			"Missing required fields: shippingNumber",
		},
		{
			"no sku",
			map[string]interface{}{"POName": "PO-1", "Shipment": "S", "quantity": 1},
			"Missing required fields: sku",
		},
		{
			"no quantity",
			map[string]interface{}{"POName": "PO-1", "sku": "A", "Shipment": "S"},
			"Missing required fields: quantity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.resolveRow(ctx, testRow(tt.data), nil)
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestResolvePONotFoundAndAmbiguous(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})
	ctx := context.Background()

	data := map[string]interface{}{"POName": "PO-1", "sku": "A", "Shipment": "S", "quantity": 1}

	_, err := p.resolveRow(ctx, testRow(data), nil)
	assert.EqualError(t, err, "PO not found: PO-1")

	seedPO(store, "PO-1")
	seedPO(store, "PO-1")
	_, err = p.resolveRow(ctx, testRow(data), nil)
	assert.EqualError(t, err, "Multiple purchase orders found with PO number: PO-1")
}

func TestResolveStandardLineItem(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})
	ctx := context.Background()

	po := seedPO(store, "PO-1")
	product := seedProduct(store, "SKU-1")
	li := models.LineItem{
		ID:        primitive.NewObjectID(),
		POID:      po.ID,
		ProductID: product.ID,
		Quantity:  10,
		Shipments: []models.ShipmentAllocation{{Quantity: 10}},
	}
	store.add(EntityLineItem, li)

	res, err := p.resolveRow(ctx, testRow(map[string]interface{}{
		"POName":       "PO-1",
		"sku":          "SKU-1",
		"Shipment":     "SHP-1",
		"quantity":     10,
		"shippingMode": "air",
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, li.ID, res.LineItem.ID)
	assert.False(t, res.SizePricing)
	assert.Equal(t, 10, res.Quantity)
	assert.Equal(t, ModeAir, res.ShippingMode)
	require.NotNil(t, res.ShipDate)
	require.NotNil(t, res.ETA)
	assert.True(t, res.ETA.Equal(res.ShipDate.AddDate(0, 0, 14)))

	// A shipment was created for the new shipping number.
	assert.Equal(t, "SHP-1", res.Shipment.ShippingNumber)
	assert.False(t, res.Shipment.ID.IsZero())
	require.Len(t, res.Events, 1)
	assert.Equal(t, "POST", res.Events[0].Operation)
	assert.Equal(t, EntityShipment, res.Events[0].EntityType)
}

func TestResolveBlockedLineItem(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	product := seedProduct(store, "SKU-1")
	store.add(EntityLineItem, models.LineItem{
		ID:        primitive.NewObjectID(),
		POID:      po.ID,
		ProductID: product.ID,
		Status:    models.LineItemInvoiced,
	})

	_, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "SKU-1", "Shipment": "SHP-1", "quantity": 5,
	}), nil)
	assert.EqualError(t, err,
		"Line item has invalid status (Invoiced). Cannot update line items with status Invoiced or Delivered.")
}

func TestResolveLineItemAmbiguity(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})
	ctx := context.Background()

	po := seedPO(store, "PO-1")
	product := seedProduct(store, "SKU-1")

	data := map[string]interface{}{"POName": "PO-1", "sku": "SKU-1", "Shipment": "SHP-1", "quantity": 5}

	_, err := p.resolveRow(ctx, testRow(data), nil)
	assert.EqualError(t, err, "No line items found")

	store.add(EntityLineItem, models.LineItem{ID: primitive.NewObjectID(), POID: po.ID, ProductID: product.ID})
	store.add(EntityLineItem, models.LineItem{ID: primitive.NewObjectID(), POID: po.ID, ProductID: product.ID})
	_, err = p.resolveRow(ctx, testRow(data), nil)
	assert.EqualError(t, err, "Multiple line items found for PO: PO-1 and SKU: SKU-1")
}

func TestResolveMultipleProducts(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	seedPO(store, "PO-1")
	seedProduct(store, "SKU-1")
	seedProduct(store, "SKU-1")

	_, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "SKU-1", "Shipment": "SHP-1", "quantity": 5,
	}), nil)
	assert.EqualError(t, err, "Multiple products found with SKU: SKU-1")
}

func TestResolveSizePricingByQuantity(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	// No product for this SKU: it lives inside a size breakdown.
	li := models.LineItem{
		ID:   primitive.NewObjectID(),
		POID: po.ID,
		SizeBreakdown: []models.SizeEntry{
			{SizeName: "S", CsmSku: "CSM-1", Quantity: 20},
			{SizeName: "M", CsmSku: "CSM-2", Quantity: 30},
		},
	}
	store.add(EntityLineItem, li)

	res, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "CSM-2", "Shipment": "SHP-1", "quantity": 30,
	}), nil)
	require.NoError(t, err)

	assert.True(t, res.SizePricing)
	assert.Equal(t, li.ID, res.LineItem.ID)
	require.NotNil(t, res.MatchedSize)
	assert.Equal(t, "M", res.MatchedSize.SizeName)
}

func TestResolveSizePricingAmbiguousSizes(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	store.add(EntityLineItem, models.LineItem{
		ID:   primitive.NewObjectID(),
		POID: po.ID,
		SizeBreakdown: []models.SizeEntry{
			{SizeName: "S", CsmSku: "CSM-1", Quantity: 20},
			{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
		},
	})

	// The imported quantity matches neither size and no suspected-products
	// entry names one, so the row is ambiguous.
	_, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "CSM-1", "Shipment": "SHP-1", "quantity": 7,
	}), nil)
	assert.EqualError(t, err, "Multiple sizes found with same SKU: CSM-1. Please specify size or quantity.")
}

func TestResolveSizePricingDisambiguatedBySuspected(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	store.add(EntityLineItem, models.LineItem{
		ID:   primitive.NewObjectID(),
		POID: po.ID,
		SizeBreakdown: []models.SizeEntry{
			{SizeName: "S", CsmSku: "CSM-1", Quantity: 20},
			{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
		},
	})
	store.add(EntityShipment, models.Shipment{
		ID:             primitive.NewObjectID(),
		ShippingNumber: "SHP-1",
		SuspectedProducts: []models.SuspectedProduct{
			{SKU: "CSM-1", SizeName: "M", Quantity: 7},
		},
	})

	res, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "CSM-1", "Shipment": "SHP-1", "quantity": 7,
	}), nil)
	require.NoError(t, err)
	require.NotNil(t, res.MatchedSize)
	assert.Equal(t, "M", res.MatchedSize.SizeName)
}

func TestResolveExistingShipmentUpdated(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	product := seedProduct(store, "SKU-1")
	store.add(EntityLineItem, models.LineItem{
		ID: primitive.NewObjectID(), POID: po.ID, ProductID: product.ID,
	})
	shipmentID := primitive.NewObjectID()
	store.add(EntityShipment, models.Shipment{ID: shipmentID, ShippingNumber: "SHP-1"})

	res, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName":       "PO-1",
		"sku":          "SKU-1",
		"Shipment":     "SHP-1",
		"quantity":     5,
		"shippingMode": "sea",
		"shipDate":     "04-01-2024",
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, shipmentID, res.Shipment.ID)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "PUT", res.Events[0].Operation)
	require.NotNil(t, res.ShipDate)
	assert.True(t, res.ShipDate.Equal(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, res.ETA)
	assert.True(t, res.ETA.Equal(time.Date(2024, time.May, 6, 0, 0, 0, 0, time.UTC)))

	var stored models.Shipment
	require.True(t, store.get(EntityShipment, shipmentID, &stored))
	assert.Equal(t, ModeSea, stored.ShippingMode)
}

func TestResolveMultipleShipments(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	po := seedPO(store, "PO-1")
	product := seedProduct(store, "SKU-1")
	store.add(EntityLineItem, models.LineItem{
		ID: primitive.NewObjectID(), POID: po.ID, ProductID: product.ID,
	})
	store.add(EntityShipment, models.Shipment{ID: primitive.NewObjectID(), ShippingNumber: "SHP-1"})
	store.add(EntityShipment, models.Shipment{ID: primitive.NewObjectID(), ShippingNumber: "SHP-1"})

	_, err := p.resolveRow(context.Background(), testRow(map[string]interface{}{
		"POName": "PO-1", "sku": "SKU-1", "Shipment": "SHP-1", "quantity": 5,
	}), nil)
	assert.EqualError(t, err, "Multiple shipments found with shipping number: SHP-1")
}
