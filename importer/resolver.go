package importer

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/models"
	"github.com/excel-pros/csm-backend/webhook"
)

// resolution is the outcome of resolving one import row: the purchase order,
// line item and shipment the row refers to, plus the normalized row values
// and the webhook events accrued while persisting the shipment.
type resolution struct {
	Row            models.ImportRow
	POName         string
	SKU            string
	ShippingNumber string
	Quantity       int

	PO          models.PurchaseOrder
	LineItem    models.LineItem
	SizePricing bool
	MatchedSize *models.SizeEntry

	ShippingMode string
	ShipDate     *time.Time
	ETA          *time.Time

	Shipment models.Shipment

	Events []webhook.Event
}

// resolveRow resolves a row to exactly one {PO, line item, shipment} tuple or
// fails with a classified *rowFailure. Non-rowFailure errors indicate
// infrastructure problems.
func (p *Pipeline) resolveRow(ctx context.Context, row models.ImportRow, mapping map[string]string) (*resolution, error) {
	res := &resolution{Row: row}

	res.POName = MappedString(row.Data, "POName", mapping)
	if res.POName == "" {
		res.POName = MappedString(row.Data, "PONumber", mapping)
	}
	res.SKU = MappedString(row.Data, "SKU", mapping)
	res.ShippingNumber = MappedString(row.Data, "shippingNumber", mapping)
	quantity, hasQuantity := MappedInt(row.Data, "quantity", mapping)
	res.Quantity = quantity

	required := []struct {
		value string
		name  string
	}{
		{res.POName, "POName"},
		{res.ShippingNumber, "shippingNumber"},
		{res.SKU, "sku"},
	}
	for _, field := range required {
		if field.value == "" {
			return nil, failRow("Missing required fields: %s", field.name)
		}
	}
	if !hasQuantity {
		return nil, failRow("Missing required fields: quantity")
	}

	if err := p.resolvePO(ctx, res); err != nil {
		return nil, err
	}
	if err := p.resolveLineItem(ctx, res); err != nil {
		return nil, err
	}

	if res.LineItem.Blocked() {
		return nil, failRow(
			"Line item has invalid status (%s). Cannot update line items with status Invoiced or Delivered.",
			res.LineItem.Status,
		)
	}

	if err := p.resolveShipment(ctx, res, mapping); err != nil {
		return nil, err
	}

	return res, nil
}

func (p *Pipeline) resolvePO(ctx context.Context, res *resolution) error {
	docs, err := p.store.Query(ctx, EntityPO, entity.QueryRequest{
		Filter:     bson.M{"PONumber": res.POName},
		Pagination: entity.Pagination{Page: 1, PageSize: 10},
	})
	if err != nil {
		return fmt.Errorf("query purchase orders: %w", err)
	}
	if len(docs) == 0 {
		return failRow("PO not found: %s", res.POName)
	}
	if len(docs) > 1 {
		return failRow("Multiple purchase orders found with PO number: %s", res.POName)
	}
	if err := models.FromDocument(docs[0], &res.PO); err != nil {
		return fmt.Errorf("decode purchase order: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveLineItem(ctx context.Context, res *resolution) error {
	productDocs, err := p.store.Query(ctx, EntityProduct, entity.QueryRequest{
		Filter:     bson.M{"sku": res.SKU},
		Pagination: entity.Pagination{Page: 1, PageSize: 10},
	})
	if err != nil {
		return fmt.Errorf("query products: %w", err)
	}
	if len(productDocs) > 1 {
		return failRow("Multiple products found with SKU: %s", res.SKU)
	}

	if len(productDocs) == 1 {
		var product models.Product
		if err := models.FromDocument(productDocs[0], &product); err != nil {
			return fmt.Errorf("decode product: %w", err)
		}
		return p.resolveStandardLineItem(ctx, res, product)
	}

	// No product for this SKU: size-pricing case. The SKU is assumed to
	// identify a size inside some line item's size breakdown.
	res.SizePricing = true
	return p.resolveSizeLineItem(ctx, res)
}

func (p *Pipeline) resolveStandardLineItem(ctx context.Context, res *resolution, product models.Product) error {
	docs, err := p.store.Query(ctx, EntityLineItem, entity.QueryRequest{
		Filter: bson.M{
			"poId":      bson.M{"$eq": res.PO.ID},
			"productId": bson.M{"$eq": product.ID},
		},
		Pagination: entity.Pagination{Page: 1, PageSize: 1000},
	})
	if err != nil {
		return fmt.Errorf("query line items: %w", err)
	}
	if len(docs) == 0 {
		return failRow("No line items found")
	}
	if len(docs) > 1 {
		return failRow("Multiple line items found for PO: %s and SKU: %s", res.POName, res.SKU)
	}
	if err := models.FromDocument(docs[0], &res.LineItem); err != nil {
		return fmt.Errorf("decode line item: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveSizeLineItem(ctx context.Context, res *resolution) error {
	docs, err := p.store.Query(ctx, EntityLineItem, entity.QueryRequest{
		Filter: bson.M{
			"poId":                 bson.M{"$eq": res.PO.ID},
			"sizeBreakdown.csmSku": res.SKU,
		},
		Pagination: entity.Pagination{Page: 1, PageSize: 1000},
	})
	if err != nil {
		return fmt.Errorf("query size line items: %w", err)
	}
	if len(docs) == 0 {
		return failRow("No line item found with matching csmSku: %s", res.SKU)
	}

	candidates := make([]models.LineItem, 0, len(docs))
	for _, doc := range docs {
		var li models.LineItem
		if err := models.FromDocument(doc, &li); err != nil {
			return fmt.Errorf("decode line item: %w", err)
		}
		candidates = append(candidates, li)
	}

	chosen, size, exact := chooseSizeLineItem(candidates, res.SKU, res.Quantity)
	if size == nil {
		return failRow("No line item found with matching csmSku: %s", res.SKU)
	}

	// Two size entries sharing one SKU are ambiguous unless the imported
	// quantity already singled one out, or an earlier row left an unresolved
	// suspected-products entry that names the size.
	if !exact && countSizesWithSku(chosen.SizeBreakdown, res.SKU) > 1 {
		resolved, err := p.disambiguateBySuspected(ctx, chosen, res.SKU, res.ShippingNumber)
		if err != nil {
			return err
		}
		if resolved == nil {
			return failRow("Multiple sizes found with same SKU: %s. Please specify size or quantity.", res.SKU)
		}
		size = resolved
	}

	res.LineItem = chosen
	res.MatchedSize = size
	return nil
}

// chooseSizeLineItem prefers the candidate whose size entry's recorded
// quantity equals the imported quantity; otherwise the first candidate with
// a matching SKU wins.
func chooseSizeLineItem(candidates []models.LineItem, sku string, quantity int) (models.LineItem, *models.SizeEntry, bool) {
	for _, li := range candidates {
		for i := range li.SizeBreakdown {
			size := li.SizeBreakdown[i]
			if size.CsmSku == sku && size.Quantity == quantity {
				return li, &size, true
			}
		}
	}
	for _, li := range candidates {
		for i := range li.SizeBreakdown {
			size := li.SizeBreakdown[i]
			if size.CsmSku == sku {
				return li, &size, false
			}
		}
	}
	return models.LineItem{}, nil, false
}

func countSizesWithSku(sizes []models.SizeEntry, sku string) int {
	count := 0
	for _, size := range sizes {
		if size.CsmSku == sku {
			count++
		}
	}
	return count
}

// disambiguateBySuspected looks at the row's shipment for a still-unresolved
// suspected-products entry naming one of the duplicate sizes, and picks the
// first such size.
func (p *Pipeline) disambiguateBySuspected(ctx context.Context, li models.LineItem, sku, shippingNumber string) (*models.SizeEntry, error) {
	docs, err := p.store.Query(ctx, EntityShipment, entity.QueryRequest{
		Filter:     bson.M{"shippingNumber": shippingNumber},
		Pagination: entity.Pagination{Page: 1, PageSize: 10},
	})
	if err != nil {
		return nil, fmt.Errorf("query shipments for disambiguation: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var shipments []models.Shipment
	for _, doc := range docs {
		var shipment models.Shipment
		if err := models.FromDocument(doc, &shipment); err != nil {
			return nil, fmt.Errorf("decode shipment: %w", err)
		}
		shipments = append(shipments, shipment)
	}

	for i := range li.SizeBreakdown {
		size := li.SizeBreakdown[i]
		if size.CsmSku != sku {
			continue
		}
		for _, shipment := range shipments {
			for _, suspected := range shipment.SuspectedProducts {
				if suspected.SKU == sku && suspected.SizeName == size.SizeName {
					return &size, nil
				}
			}
		}
	}
	return nil, nil
}

// resolveShipment reuses the shipment matching the row's shipping number,
// updating its mode, dates and ETA, or creates a new one.
func (p *Pipeline) resolveShipment(ctx context.Context, res *resolution, mapping map[string]string) error {
	res.ShippingMode = FormatShippingMode(MappedString(res.Row.Data, "shippingMode", mapping))
	res.ShipDate = ParseDate(MappedValue(res.Row.Data, "shipDate", mapping))
	if res.ShipDate == nil {
		res.ShipDate = utcMidnight(time.Now())
	}
	res.ETA = ComputeEta(res.ShipDate, res.ShippingMode)
	exfactoryDate := ParseDate(MappedValue(res.Row.Data, "exfactoryDate", mapping))

	docs, err := p.store.Query(ctx, EntityShipment, entity.QueryRequest{
		Filter:     bson.M{"shippingNumber": res.ShippingNumber},
		Pagination: entity.Pagination{Page: 1, PageSize: 10},
	})
	if err != nil {
		return fmt.Errorf("query shipments: %w", err)
	}
	if len(docs) > 1 {
		return failRow("Multiple shipments found with shipping number: %s", res.ShippingNumber)
	}

	payload := bson.M{
		"shippingNumber": res.ShippingNumber,
		"shipDate":       *res.ShipDate,
	}
	if res.ShippingMode != "" {
		payload["shippingMode"] = res.ShippingMode
	}
	if res.ETA != nil {
		payload["eta"] = *res.ETA
	}
	if exfactoryDate != nil {
		payload["exfactoryDate"] = *exfactoryDate
	}

	if len(docs) == 1 {
		if err := models.FromDocument(docs[0], &res.Shipment); err != nil {
			return fmt.Errorf("decode shipment: %w", err)
		}
		update := p.store.Update(ctx, EntityShipment, res.Shipment.ID, copyDoc(payload), entity.ModeReplace)
		if !update.Success {
			return fmt.Errorf("failed to update shipment %s: %s", res.Shipment.ID.Hex(), update.Message)
		}
		res.Shipment.ShippingMode = res.ShippingMode
		res.Shipment.ShipDate = res.ShipDate
		res.Shipment.ETA = res.ETA
		if exfactoryDate != nil {
			res.Shipment.ExfactoryDate = exfactoryDate
		}
		res.Events = append(res.Events, webhook.Event{
			EntityType: EntityShipment,
			Operation:  "PUT",
			Payload:    toPayload(payload),
			EntityID:   res.Shipment.ID.Hex(),
		})
		return nil
	}

	created := p.store.Create(ctx, EntityShipment, copyDoc(payload))
	if !created.Success {
		return fmt.Errorf("failed to create shipment %s: %s", res.ShippingNumber, created.Message)
	}
	id, ok := created.ID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected shipment id type %T", created.ID)
	}
	res.Shipment = models.Shipment{
		ID:             id,
		ShippingNumber: res.ShippingNumber,
		ShippingMode:   res.ShippingMode,
		ShipDate:       res.ShipDate,
		ETA:            res.ETA,
		ExfactoryDate:  exfactoryDate,
	}
	res.Events = append(res.Events, webhook.Event{
		EntityType: EntityShipment,
		Operation:  "POST",
		Payload:    toPayload(payload),
		EntityID:   id.Hex(),
	})
	return nil
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func toPayload(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
