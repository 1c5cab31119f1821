package importer

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/models"
)

// reconcile runs after a job drains: it revisits the line items and shipments
// touched by size-pricing deferrals and tries to bind unassigned size
// allocations to shipments whose suspected products cover every size. Rows
// parked at pending_reconciliation are then promoted to success if their SKU
// was consumed, or demoted to failure.
func (p *Pipeline) reconcile(ctx context.Context, job *models.ImportJob, tracking *runTracking) {
	parked, err := p.repo.RowsByStatus(ctx, job.ID, models.RowPendingReconciliation)
	if err != nil {
		p.log.Error("Failed to load rows pending reconciliation",
			zap.String("importDataId", job.ID.Hex()), zap.Error(err))
		return
	}
	if len(parked) == 0 && len(tracking.lineItemIDs) == 0 {
		return
	}

	p.log.Info("Running reconciliation pass",
		zap.String("importDataId", job.ID.Hex()),
		zap.Int("lineItems", len(tracking.lineItemIDs)),
		zap.Int("shipments", len(tracking.shipmentIDs)),
		zap.Int("parkedRows", len(parked)),
	)

	shipments := p.loadShipments(ctx, tracking.shipmentIDs)
	consumedSKUs := make(map[string]bool)
	dirtyShipments := make(map[primitive.ObjectID]bool)

	for _, lineItemID := range tracking.lineItemIDs {
		li, err := p.loadLineItem(ctx, lineItemID)
		if err != nil {
			p.log.Error("Failed to load line item for reconciliation",
				zap.String("lineItemId", lineItemID.Hex()), zap.Error(err))
			continue
		}
		if li == nil || li.Blocked() {
			continue
		}

		changed := false
		for i := range li.Shipments {
			alloc := &li.Shipments[i]
			if len(alloc.SizeBreakdown) == 0 || alloc.ShipmentID != "" {
				continue
			}

			var candidates []coverage
			for _, shipment := range shipments {
				if indices, ok := suspectedCoverage(shipment, li, alloc); ok {
					candidates = append(candidates, coverage{shipment: shipment, indices: indices})
				}
			}
			if len(candidates) == 0 {
				continue
			}

			best := pickEarliest(candidates)

			alloc.ShipmentID = best.shipment.ID.Hex()
			alloc.ShipmentName = best.shipment.ShippingNumber
			alloc.ShipDate = best.shipment.ShipDate
			if alloc.ShippingMode == "" {
				alloc.ShippingMode = best.shipment.ShippingMode
			}
			changed = true

			for _, idx := range best.indices {
				consumedSKUs[best.shipment.SuspectedProducts[idx].SKU] = true
			}
			best.shipment.SuspectedProducts = removeIndices(best.shipment.SuspectedProducts, best.indices)
			dirtyShipments[best.shipment.ID] = true
		}

		if !changed {
			continue
		}

		event, err := p.persistLineItemShipments(ctx, li)
		if err != nil {
			p.log.Error("Failed to persist reconciled line item",
				zap.String("lineItemId", li.ID.Hex()), zap.Error(err))
			continue
		}
		p.notifier.Notify(ctx, event)
	}

	for _, shipment := range shipments {
		if !dirtyShipments[shipment.ID] {
			continue
		}
		event, err := p.persistSuspectedProducts(ctx, shipment)
		if err != nil {
			p.log.Error("Failed to persist reconciled shipment",
				zap.String("shipmentId", shipment.ID.Hex()), zap.Error(err))
			continue
		}
		p.notifier.Notify(ctx, event)
	}

	for _, row := range parked {
		sku := MappedString(row.Data, "SKU", job.ColumnMapping)
		if consumedSKUs[sku] {
			p.markRowSuccess(ctx, job.ID.Hex(), job.FileName, row,
				"Successfully updated 1 line item(s)")
		} else {
			p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row,
				"No suspected products found for SKU: "+sku, "")
		}
	}
}

// suspectedCoverage reports whether the shipment's suspected products supply
// every size of the allocation: each size needs its own entry matching the
// size name, the line item's csmSku for that size, and the exact quantity.
// The returned indices identify the consumed entries.
func suspectedCoverage(shipment *models.Shipment, li *models.LineItem, alloc *models.ShipmentAllocation) ([]int, bool) {
	if !modeCompatible(alloc.ShippingMode, shipment.ShippingMode) {
		return nil, false
	}

	used := make(map[int]bool, len(alloc.SizeBreakdown))
	indices := make([]int, 0, len(alloc.SizeBreakdown))
	for _, size := range alloc.SizeBreakdown {
		sku := csmSkuForSize(li, size.SizeName)
		if sku == "" {
			return nil, false
		}
		found := -1
		for i, suspected := range shipment.SuspectedProducts {
			if used[i] {
				continue
			}
			if suspected.SKU == sku && suspected.SizeName == size.SizeName && suspected.Quantity == size.Quantity {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, false
		}
		used[found] = true
		indices = append(indices, found)
	}
	return indices, true
}

func csmSkuForSize(li *models.LineItem, sizeName string) string {
	for _, size := range li.SizeBreakdown {
		if size.SizeName == sizeName {
			return size.CsmSku
		}
	}
	return ""
}

// coverage pairs a covering shipment with the suspected-product entries it
// would consume.
type coverage struct {
	shipment *models.Shipment
	indices  []int
}

// pickEarliest breaks ties between covering shipments by the earliest
// exfactory date, falling back to the ship date. Dateless shipments lose to
// any dated one.
func pickEarliest(candidates []coverage) coverage {
	best := candidates[0]
	var bestDate *time.Time
	for _, c := range candidates {
		date := c.shipment.ExfactoryDate
		if date == nil {
			date = c.shipment.ShipDate
		}
		if date == nil {
			continue
		}
		if bestDate == nil || date.Before(*bestDate) {
			best = c
			bestDate = date
		}
	}
	return best
}

func removeIndices(list []models.SuspectedProduct, indices []int) []models.SuspectedProduct {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	out := make([]models.SuspectedProduct, 0, len(list))
	for i, entry := range list {
		if !drop[i] {
			out = append(out, entry)
		}
	}
	return out
}

func (p *Pipeline) loadShipments(ctx context.Context, ids []primitive.ObjectID) []*models.Shipment {
	out := make([]*models.Shipment, 0, len(ids))
	for _, id := range ids {
		docs, err := p.store.Query(ctx, EntityShipment, entity.QueryRequest{
			Filter:     bson.M{"_id": bson.M{"$eq": id}},
			Pagination: entity.Pagination{Page: 1, PageSize: 1},
		})
		if err != nil {
			p.log.Error("Failed to load shipment for reconciliation",
				zap.String("shipmentId", id.Hex()), zap.Error(err))
			continue
		}
		if len(docs) == 0 {
			continue
		}
		var shipment models.Shipment
		if err := models.FromDocument(docs[0], &shipment); err != nil {
			p.log.Error("Failed to decode shipment for reconciliation",
				zap.String("shipmentId", id.Hex()), zap.Error(err))
			continue
		}
		out = append(out, &shipment)
	}
	return out
}

func (p *Pipeline) loadLineItem(ctx context.Context, id primitive.ObjectID) (*models.LineItem, error) {
	docs, err := p.store.Query(ctx, EntityLineItem, entity.QueryRequest{
		Filter:     bson.M{"_id": bson.M{"$eq": id}},
		Pagination: entity.Pagination{Page: 1, PageSize: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var li models.LineItem
	if err := models.FromDocument(docs[0], &li); err != nil {
		return nil, err
	}
	return &li, nil
}
