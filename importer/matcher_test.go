package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/excel-pros/csm-backend/models"
)

func seedLineItemDoc(store *fakeStore, li models.LineItem) models.LineItem {
	store.add(EntityLineItem, li)
	return li
}

func seedShipmentDoc(store *fakeStore, s models.Shipment) models.Shipment {
	store.add(EntityShipment, s)
	return s
}

func TestMatchPlainAllocation(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	shipDate := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	li := seedLineItemDoc(store, models.LineItem{
		ID: primitive.NewObjectID(),
		Shipments: []models.ShipmentAllocation{
			{Quantity: 5},
			{Quantity: 10, ShippingMode: "Sea"},
		},
	})
	shipment := seedShipmentDoc(store, models.Shipment{
		ID: primitive.NewObjectID(), ShippingNumber: "SHP-1",
	})

	res := &resolution{
		SKU:            "SKU-1",
		ShippingNumber: "SHP-1",
		Quantity:       10,
		LineItem:       li,
		Shipment:       shipment,
		ShippingMode:   "Sea",
		ShipDate:       &shipDate,
	}

	outcome, err := p.matchShipment(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, models.RowSuccess, outcome.Status)
	assert.Equal(t, "Successfully updated 1 line item(s)", outcome.Message)
	require.Len(t, outcome.Events, 1)
	assert.Equal(t, "PUT", outcome.Events[0].Operation)

	var stored models.LineItem
	require.True(t, store.get(EntityLineItem, li.ID, &stored))
	require.Len(t, stored.Shipments, 2, "allocation list must not grow")
	assert.Equal(t, "", stored.Shipments[0].ShipmentID, "wrong-quantity entry untouched")
	assert.Equal(t, shipment.ID.Hex(), stored.Shipments[1].ShipmentID)
	assert.Equal(t, "SHP-1", stored.Shipments[1].ShipmentName)
}

func TestMatchPlainAllocationModeMismatchDefers(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{MatchPolicy: PolicyDefer})

	li := seedLineItemDoc(store, models.LineItem{
		ID:        primitive.NewObjectID(),
		Shipments: []models.ShipmentAllocation{{Quantity: 10, ShippingMode: "Sea"}},
	})
	shipment := seedShipmentDoc(store, models.Shipment{
		ID: primitive.NewObjectID(), ShippingNumber: "SHP-1",
	})

	res := &resolution{
		SKU:          "SKU-1",
		Quantity:     10,
		LineItem:     li,
		Shipment:     shipment,
		ShippingMode: "Air",
	}

	outcome, err := p.matchShipment(context.Background(), res)
	require.NoError(t, err)
	// Non-size rows end as soft successes under the defer policy.
	assert.Equal(t, models.RowSuccess, outcome.Status)
	assert.False(t, outcome.Deferred)
	assert.Equal(t, "No exact shipment match; added to suspected products", outcome.Message)

	var stored models.Shipment
	require.True(t, store.get(EntityShipment, shipment.ID, &stored))
	require.Len(t, stored.SuspectedProducts, 1)
	assert.Equal(t, "SKU-1", stored.SuspectedProducts[0].SKU)
	assert.Equal(t, 10, stored.SuspectedProducts[0].Quantity)

	var storedLi models.LineItem
	require.True(t, store.get(EntityLineItem, li.ID, &storedLi))
	assert.Equal(t, "", storedLi.Shipments[0].ShipmentID, "line item must stay untouched")
}

func TestMatchStrictPolicyFailsRow(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{MatchPolicy: PolicyStrict})

	li := seedLineItemDoc(store, models.LineItem{
		ID:        primitive.NewObjectID(),
		Shipments: []models.ShipmentAllocation{{Quantity: 5}},
	})
	shipment := seedShipmentDoc(store, models.Shipment{
		ID: primitive.NewObjectID(), ShippingNumber: "SHP-1",
	})

	res := &resolution{
		SKU:          "SKU-1",
		Quantity:     10,
		LineItem:     li,
		Shipment:     shipment,
		ShippingMode: "Air",
	}

	outcome, err := p.matchShipment(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, models.RowFailure, outcome.Status)
	assert.Equal(t, "No shipment allocation matched quantity 10 and mode Air for SKU: SKU-1", outcome.Error)

	var stored models.Shipment
	require.True(t, store.get(EntityShipment, shipment.ID, &stored))
	assert.Empty(t, stored.SuspectedProducts)
}

func TestMatchSizeAllocation(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{})

	li := seedLineItemDoc(store, models.LineItem{
		ID: primitive.NewObjectID(),
		SizeBreakdown: []models.SizeEntry{
			{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
		},
		Shipments: []models.ShipmentAllocation{
			{Quantity: 30, SizeBreakdown: []models.AllocationSize{{SizeName: "M", Quantity: 30}}},
		},
	})
	shipment := seedShipmentDoc(store, models.Shipment{
		ID: primitive.NewObjectID(), ShippingNumber: "SHP-1",
	})

	res := &resolution{
		SKU:         "CSM-1",
		Quantity:    30,
		LineItem:    li,
		Shipment:    shipment,
		SizePricing: true,
		MatchedSize: &models.SizeEntry{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
	}

	outcome, err := p.matchShipment(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, models.RowSuccess, outcome.Status)

	var stored models.LineItem
	require.True(t, store.get(EntityLineItem, li.ID, &stored))
	require.Len(t, stored.Shipments, 1)
	assert.Equal(t, shipment.ID.Hex(), stored.Shipments[0].ShipmentID)
}

func TestMatchSizeAllocationDefersForReconciliation(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestPipeline(store, newFakeRepo(), Config{MatchPolicy: PolicyDefer})

	li := seedLineItemDoc(store, models.LineItem{
		ID: primitive.NewObjectID(),
		SizeBreakdown: []models.SizeEntry{
			{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
		},
		Shipments: []models.ShipmentAllocation{
			{Quantity: 30, SizeBreakdown: []models.AllocationSize{{SizeName: "M", Quantity: 30}}},
		},
	})
	shipment := seedShipmentDoc(store, models.Shipment{
		ID: primitive.NewObjectID(), ShippingNumber: "SHP-1",
	})

	res := &resolution{
		SKU:         "CSM-1",
		Quantity:    7, // no allocation size carries this quantity
		LineItem:    li,
		Shipment:    shipment,
		SizePricing: true,
		MatchedSize: &models.SizeEntry{SizeName: "M", CsmSku: "CSM-1", Quantity: 30},
	}

	outcome, err := p.matchShipment(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, models.RowPendingReconciliation, outcome.Status)
	assert.True(t, outcome.Deferred)

	var stored models.Shipment
	require.True(t, store.get(EntityShipment, shipment.ID, &stored))
	require.Len(t, stored.SuspectedProducts, 1)
	assert.Equal(t, models.SuspectedProduct{SKU: "CSM-1", SizeName: "M", Quantity: 7}, stored.SuspectedProducts[0])
}

func TestUpsertSuspectedDeduplicates(t *testing.T) {
	list := []models.SuspectedProduct{
		{SKU: "A", SizeName: "S", Quantity: 1},
	}
	list = upsertSuspected(list, models.SuspectedProduct{SKU: "A", SizeName: "S", Quantity: 1})
	assert.Len(t, list, 1)

	list = upsertSuspected(list, models.SuspectedProduct{SKU: "A", SizeName: "S", Quantity: 2})
	assert.Len(t, list, 2)

	list = upsertSuspected(list, models.SuspectedProduct{SKU: "B", SizeName: "S", Quantity: 1})
	assert.Len(t, list, 3)
}
