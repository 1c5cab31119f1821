package importer

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/models"
	"github.com/excel-pros/csm-backend/webhook"
)

// matchOutcome is the terminal result of matching one resolved row.
type matchOutcome struct {
	Status  models.RowStatus
	Message string
	Error   string
	Events  []webhook.Event
	// Deferred marks a size-pricing deferral whose line item and shipment
	// must be revisited by the reconciliation pass.
	Deferred bool
}

// consistencyError reports a violated matching invariant. It is fatal for
// the row but never for the batch.
type consistencyError struct {
	lineItemID string
	detail     string
}

func (e *consistencyError) Error() string {
	return fmt.Sprintf("consistency check failed for line item %s: %s", e.lineItemID, e.detail)
}

// matchShipment decides whether the resolved line item already carries an
// allocation entry matching the imported row. Allocation entries are only
// ever updated in place here; growth of the shipments array is a hard
// consistency failure.
func (p *Pipeline) matchShipment(ctx context.Context, res *resolution) (*matchOutcome, error) {
	if res.SizePricing {
		return p.matchSizeAllocation(ctx, res)
	}
	return p.matchPlainAllocation(ctx, res)
}

func (p *Pipeline) matchPlainAllocation(ctx context.Context, res *resolution) (*matchOutcome, error) {
	lengthBefore := len(res.LineItem.Shipments)

	matched := -1
	for i, alloc := range res.LineItem.Shipments {
		if len(alloc.SizeBreakdown) > 0 {
			continue
		}
		if alloc.Quantity == res.Quantity && modeCompatible(alloc.ShippingMode, res.ShippingMode) {
			matched = i
			break
		}
	}

	if matched < 0 {
		return p.deferToSuspected(ctx, res, models.SuspectedProduct{
			SKU:      res.SKU,
			Quantity: res.Quantity,
		}, false)
	}

	p.bindAllocation(&res.LineItem.Shipments[matched], res)

	if len(res.LineItem.Shipments) != lengthBefore {
		return nil, &consistencyError{
			lineItemID: res.LineItem.ID.Hex(),
			detail: fmt.Sprintf("shipments array grew from %d to %d during matching",
				lengthBefore, len(res.LineItem.Shipments)),
		}
	}

	event, err := p.persistLineItemShipments(ctx, &res.LineItem)
	if err != nil {
		return nil, err
	}
	return &matchOutcome{
		Status:  models.RowSuccess,
		Message: "Successfully updated 1 line item(s)",
		Events:  append(res.Events, event),
	}, nil
}

func (p *Pipeline) matchSizeAllocation(ctx context.Context, res *resolution) (*matchOutcome, error) {
	lengthBefore := len(res.LineItem.Shipments)
	size := res.MatchedSize

	// A single row can only complete an allocation that consists of exactly
	// its own size. Multi-size allocations need one row per size and are
	// bound by the reconciliation pass once suspected products cover them.
	matched := -1
	for i, alloc := range res.LineItem.Shipments {
		if len(alloc.SizeBreakdown) != 1 {
			continue
		}
		if !modeCompatible(alloc.ShippingMode, res.ShippingMode) {
			continue
		}
		allocSize := alloc.SizeBreakdown[0]
		if allocSize.SizeName == size.SizeName && allocSize.Quantity == res.Quantity {
			matched = i
			break
		}
	}

	if matched < 0 {
		// A later row in the same job may supply the missing shipment data,
		// so the row parks at pending_reconciliation instead of failing.
		return p.deferToSuspected(ctx, res, models.SuspectedProduct{
			SKU:      res.SKU,
			SizeName: size.SizeName,
			Quantity: res.Quantity,
		}, true)
	}

	p.bindAllocation(&res.LineItem.Shipments[matched], res)

	if len(res.LineItem.Shipments) != lengthBefore {
		return nil, &consistencyError{
			lineItemID: res.LineItem.ID.Hex(),
			detail: fmt.Sprintf("shipments array grew from %d to %d during matching",
				lengthBefore, len(res.LineItem.Shipments)),
		}
	}

	event, err := p.persistLineItemShipments(ctx, &res.LineItem)
	if err != nil {
		return nil, err
	}
	return &matchOutcome{
		Status:  models.RowSuccess,
		Message: "Successfully updated 1 line item(s)",
		Events:  append(res.Events, event),
	}, nil
}

// bindAllocation fills an existing allocation entry with the resolved
// shipment's identity. Only field updates, never growth.
func (p *Pipeline) bindAllocation(alloc *models.ShipmentAllocation, res *resolution) {
	alloc.ShipmentID = res.Shipment.ID.Hex()
	alloc.ShipmentName = res.ShippingNumber
	alloc.ShipDate = res.ShipDate
	if res.ShippingMode != "" {
		alloc.ShippingMode = res.ShippingMode
	}
}

// deferToSuspected records the row's data on the shipment's suspected
// products. Under the strict policy this is a row failure instead.
func (p *Pipeline) deferToSuspected(ctx context.Context, res *resolution, entry models.SuspectedProduct, sizeCase bool) (*matchOutcome, error) {
	if p.cfg.MatchPolicy == PolicyStrict {
		return &matchOutcome{
			Status: models.RowFailure,
			Error: fmt.Sprintf("No shipment allocation matched quantity %d and mode %s for SKU: %s",
				res.Quantity, orDash(res.ShippingMode), res.SKU),
			Events: res.Events,
		}, nil
	}

	res.Shipment.SuspectedProducts = upsertSuspected(res.Shipment.SuspectedProducts, entry)

	event, err := p.persistSuspectedProducts(ctx, &res.Shipment)
	if err != nil {
		return nil, err
	}
	events := append(res.Events, event)

	if sizeCase {
		return &matchOutcome{
			Status:   models.RowPendingReconciliation,
			Message:  fmt.Sprintf("No exact shipment match; added size %s to suspected products for reconciliation", entry.SizeName),
			Events:   events,
			Deferred: true,
		}, nil
	}
	return &matchOutcome{
		Status:  models.RowSuccess,
		Message: "No exact shipment match; added to suspected products",
		Events:  events,
	}, nil
}

// upsertSuspected replaces an entry with the same (sku, sizeName, quantity)
// key or appends a new one.
func upsertSuspected(list []models.SuspectedProduct, entry models.SuspectedProduct) []models.SuspectedProduct {
	for i, existing := range list {
		if existing.SKU == entry.SKU && existing.SizeName == entry.SizeName && existing.Quantity == entry.Quantity {
			list[i] = entry
			return list
		}
	}
	return append(list, entry)
}

func (p *Pipeline) persistLineItemShipments(ctx context.Context, li *models.LineItem) (webhook.Event, error) {
	doc, err := models.ToDocument(bson.M{"shipments": li.Shipments})
	if err != nil {
		return webhook.Event{}, fmt.Errorf("encode shipments: %w", err)
	}
	update := p.store.Update(ctx, EntityLineItem, li.ID, doc, entity.ModeReplace)
	if !update.Success {
		return webhook.Event{}, fmt.Errorf("failed to update line item %s: %s", li.ID.Hex(), update.Message)
	}
	return webhook.Event{
		EntityType: EntityLineItem,
		Operation:  "PUT",
		Payload:    toPayload(doc),
		EntityID:   li.ID.Hex(),
	}, nil
}

func (p *Pipeline) persistSuspectedProducts(ctx context.Context, shipment *models.Shipment) (webhook.Event, error) {
	doc, err := models.ToDocument(bson.M{"suspectedProducts": shipment.SuspectedProducts})
	if err != nil {
		return webhook.Event{}, fmt.Errorf("encode suspected products: %w", err)
	}
	update := p.store.Update(ctx, EntityShipment, shipment.ID, doc, entity.ModeReplace)
	if !update.Success {
		return webhook.Event{}, fmt.Errorf("failed to update shipment %s: %s", shipment.ID.Hex(), update.Message)
	}
	return webhook.Event{
		EntityType: EntityShipment,
		Operation:  "PUT",
		Payload:    toPayload(doc),
		EntityID:   shipment.ID.Hex(),
	}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
