package importer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/events"
	"github.com/excel-pros/csm-backend/models"
)

// Run executes one orchestrator pass: claim a bounded batch of pending rows,
// process them grouped by job, and finish drained jobs. Overlapping calls on
// the same instance are silent no-ops; concurrent passes from other
// instances are serialized by the claim step alone.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("Import processing already in progress, skipping this pass")
		return nil
	}
	defer p.running.Store(false)

	if reclaimed, err := p.repo.ReclaimStale(ctx, time.Now().UTC().Add(-p.cfg.ClaimTimeout)); err != nil {
		p.log.Warn("Failed to reclaim stale processing rows", zap.Error(err))
	} else if reclaimed > 0 {
		p.log.Info("Reclaimed stale processing rows", zap.Int64("count", reclaimed))
	}

	candidates, err := p.repo.PendingRows(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending rows: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	// Mongo stores timestamps at millisecond precision; the stamp must
	// round-trip exactly for the claimed-rows re-fetch to find them.
	stamp := time.Now().UTC().Truncate(time.Millisecond)
	ids := make([]primitive.ObjectID, len(candidates))
	for i, row := range candidates {
		ids[i] = row.ID
	}

	claimedCount, err := p.repo.ClaimRows(ctx, ids, stamp)
	if err != nil {
		return fmt.Errorf("claim rows: %w", err)
	}
	if claimedCount == 0 {
		p.log.Debug("No rows available for processing (claimed by another instance)")
		return nil
	}

	rows, err := p.repo.ClaimedRows(ctx, ids, stamp)
	if err != nil {
		return fmt.Errorf("fetch claimed rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	p.log.Info("Claimed import rows", zap.Int("count", len(rows)))

	jobOrder := make([]primitive.ObjectID, 0)
	byJob := make(map[primitive.ObjectID][]models.ImportRow)
	for _, row := range rows {
		if _, ok := byJob[row.ImportDataID]; !ok {
			jobOrder = append(jobOrder, row.ImportDataID)
		}
		byJob[row.ImportDataID] = append(byJob[row.ImportDataID], row)
	}

	for _, jobID := range jobOrder {
		jobRows := byJob[jobID]
		job, err := p.repo.Job(ctx, jobID)
		if err != nil || job == nil {
			p.log.Error("ImportData document not found", zap.String("importDataId", jobID.Hex()), zap.Error(err))
			for _, row := range jobRows {
				p.markRowFailure(ctx, jobID.Hex(), "", row, "ImportData document not found", "")
			}
			continue
		}
		p.processJob(ctx, job, jobRows)
	}

	return nil
}

// runTracking accumulates the line items and shipments touched by
// size-pricing deferrals, feeding the reconciliation pass.
type runTracking struct {
	lineItemIDs []primitive.ObjectID
	shipmentIDs []primitive.ObjectID
	seenItems   map[primitive.ObjectID]bool
	seenShips   map[primitive.ObjectID]bool
}

func newRunTracking() *runTracking {
	return &runTracking{
		seenItems: make(map[primitive.ObjectID]bool),
		seenShips: make(map[primitive.ObjectID]bool),
	}
}

func (t *runTracking) addDeferral(lineItemID, shipmentID primitive.ObjectID) {
	if !t.seenItems[lineItemID] {
		t.seenItems[lineItemID] = true
		t.lineItemIDs = append(t.lineItemIDs, lineItemID)
	}
	if !t.seenShips[shipmentID] {
		t.seenShips[shipmentID] = true
		t.shipmentIDs = append(t.shipmentIDs, shipmentID)
	}
}

func (p *Pipeline) processJob(ctx context.Context, job *models.ImportJob, rows []models.ImportRow) {
	p.log.Info("Processing import rows",
		zap.String("importDataId", job.ID.Hex()),
		zap.String("fileName", job.FileName),
		zap.Int("rows", len(rows)),
	)

	tracking := newRunTracking()

	for _, row := range rows {
		p.processRowSafe(ctx, job, row, tracking)

		counts, err := p.repo.StatusCounts(ctx, job.ID)
		if err != nil {
			p.log.Error("Failed to count job rows", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
			continue
		}

		p.emitProgress(ctx, events.ProgressEvent{
			ImportDataID: job.ID.Hex(),
			FileName:     job.FileName,
			Processed:    counts.Processed(),
			Total:        counts.Total,
			Success:      counts.Success,
			Errors:       counts.Failure,
			Remaining:    counts.Remaining(),
		})

		if counts.Remaining() == 0 {
			p.finishJob(ctx, job, tracking)
		}
	}
}

// finishJob marks the job completed, runs the reconciliation pass over this
// run's deferrals, refreshes the final counts and emits the completion event.
func (p *Pipeline) finishJob(ctx context.Context, job *models.ImportJob, tracking *runTracking) {
	counts, err := p.repo.StatusCounts(ctx, job.ID)
	if err != nil {
		p.log.Error("Failed to count job rows", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
		return
	}
	if err := p.repo.CompleteJob(ctx, job.ID, models.ImportCounts{
		Total:   counts.Total,
		Success: counts.Success,
		Failure: counts.Failure,
	}); err != nil {
		p.log.Error("Failed to complete import job", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
	}

	p.reconcile(ctx, job, tracking)

	// Reconciliation may have promoted or demoted parked rows; refresh the
	// stored counts before reporting.
	counts, err = p.repo.StatusCounts(ctx, job.ID)
	if err != nil {
		p.log.Error("Failed to count job rows", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
		return
	}
	if err := p.repo.CompleteJob(ctx, job.ID, models.ImportCounts{
		Total:   counts.Total,
		Success: counts.Success,
		Failure: counts.Failure,
	}); err != nil {
		p.log.Error("Failed to update import job counts", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
	}

	allRows, err := p.repo.JobRows(ctx, job.ID)
	if err != nil {
		p.log.Error("Failed to load job rows for summary", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
		return
	}

	results := make([]events.RowResult, 0, len(allRows))
	for _, row := range allRows {
		message := row.Message
		if message == "" {
			message = row.Error
		}
		results = append(results, events.RowResult{
			Index:          row.RowIndex,
			Status:         string(row.Status),
			Message:        message,
			POName:         MappedString(row.Data, "POName", job.ColumnMapping),
			SKU:            MappedString(row.Data, "SKU", job.ColumnMapping),
			ShippingNumber: MappedString(row.Data, "shippingNumber", job.ColumnMapping),
		})
	}

	if err := p.events.Complete(ctx, events.CompleteEvent{
		ImportDataID: job.ID.Hex(),
		FileName:     job.FileName,
		Summary: events.Summary{
			Total:   counts.Total,
			Success: counts.Success,
			Error:   counts.Failure,
		},
		Results: results,
	}); err != nil {
		p.log.Warn("Failed to broadcast completion event", zap.String("importDataId", job.ID.Hex()), zap.Error(err))
	}

	p.log.Info("Completed import job",
		zap.String("importDataId", job.ID.Hex()),
		zap.Int64("success", counts.Success),
		zap.Int64("failures", counts.Failure),
		zap.Int64("total", counts.Total),
	)
}

// processRowSafe isolates one row: a panic or timeout marks the row failed
// and never aborts the batch.
func (p *Pipeline) processRowSafe(ctx context.Context, job *models.ImportJob, row models.ImportRow, tracking *runTracking) {
	rowCtx, cancel := context.WithTimeout(ctx, p.cfg.RowTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Panic while processing import row",
				zap.String("rowId", row.ID.Hex()),
				zap.Any("panic", r),
			)
			p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row,
				fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}
	}()

	p.processRow(ctx, rowCtx, job, row, tracking)
}

// processRow does the row's work under rowCtx, which carries the per-row
// deadline. Status writes and side effects use the parent ctx: a row that
// burned its own deadline must still be written back as a failure.
func (p *Pipeline) processRow(ctx, rowCtx context.Context, job *models.ImportJob, row models.ImportRow, tracking *runTracking) {
	res, err := p.resolveRow(rowCtx, row, job.ColumnMapping)
	if err != nil {
		var rf *rowFailure
		if errors.As(err, &rf) {
			p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row, rf.message, "")
			return
		}
		p.log.Error("Error resolving import row", zap.String("rowId", row.ID.Hex()), zap.Error(err))
		p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row, err.Error(), "")
		return
	}

	outcome, err := p.matchShipment(rowCtx, res)
	if err != nil {
		// The resolver may already have created or updated the shipment;
		// those mutations committed, so their webhooks still fire.
		for _, event := range res.Events {
			p.notifier.Notify(ctx, event)
		}
		var ce *consistencyError
		if errors.As(err, &ce) {
			p.log.Error("Consistency check failed", zap.String("rowId", row.ID.Hex()), zap.Error(ce))
			p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row, ce.Error(), string(debug.Stack()))
			return
		}
		p.log.Error("Error matching import row", zap.String("rowId", row.ID.Hex()), zap.Error(err))
		p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row, err.Error(), "")
		return
	}

	// Webhooks are best-effort side effects dispatched after the core
	// mutations committed.
	for _, event := range outcome.Events {
		p.notifier.Notify(ctx, event)
	}

	switch outcome.Status {
	case models.RowSuccess:
		p.markRowSuccess(ctx, job.ID.Hex(), job.FileName, row, outcome.Message)
	case models.RowPendingReconciliation:
		p.markRowDeferred(ctx, job.ID.Hex(), job.FileName, row, outcome.Message)
		if outcome.Deferred {
			tracking.addDeferral(res.LineItem.ID, res.Shipment.ID)
		}
	default:
		p.markRowFailure(ctx, job.ID.Hex(), job.FileName, row, outcome.Error, "")
	}
}

func (p *Pipeline) markRowSuccess(ctx context.Context, importDataID, fileName string, row models.ImportRow, message string) {
	now := time.Now().UTC()
	update := bson.M{
		"status":      models.RowSuccess,
		"message":     message,
		"processedAt": now,
	}
	if err := p.repo.MarkRow(ctx, row.ID, update); err != nil {
		p.log.Error("Failed to mark row success", zap.String("rowId", row.ID.Hex()), zap.Error(err))
	}
	p.emitProgress(ctx, events.ProgressEvent{
		ImportDataID: importDataID,
		FileName:     fileName,
		RowID:        row.ID.Hex(),
		Status:       string(models.RowSuccess),
		Message:      message,
	})
}

func (p *Pipeline) markRowDeferred(ctx context.Context, importDataID, fileName string, row models.ImportRow, message string) {
	now := time.Now().UTC()
	update := bson.M{
		"status":      models.RowPendingReconciliation,
		"message":     message,
		"processedAt": now,
	}
	if err := p.repo.MarkRow(ctx, row.ID, update); err != nil {
		p.log.Error("Failed to mark row deferred", zap.String("rowId", row.ID.Hex()), zap.Error(err))
	}
	p.emitProgress(ctx, events.ProgressEvent{
		ImportDataID: importDataID,
		FileName:     fileName,
		RowID:        row.ID.Hex(),
		Status:       string(models.RowPendingReconciliation),
		Message:      message,
	})
}

func (p *Pipeline) markRowFailure(ctx context.Context, importDataID, fileName string, row models.ImportRow, message, stack string) {
	now := time.Now().UTC()
	update := bson.M{
		"status":      models.RowFailure,
		"error":       message,
		"processedAt": now,
	}
	if stack != "" {
		update["errorStack"] = stack
	}
	if err := p.repo.MarkRow(ctx, row.ID, update); err != nil {
		p.log.Error("Failed to mark row failure", zap.String("rowId", row.ID.Hex()), zap.Error(err))
	}
	p.emitProgress(ctx, events.ProgressEvent{
		ImportDataID: importDataID,
		FileName:     fileName,
		RowID:        row.ID.Hex(),
		Status:       string(models.RowFailure),
		Error:        message,
	})
}

func (p *Pipeline) emitProgress(ctx context.Context, event events.ProgressEvent) {
	if err := p.events.Progress(ctx, event); err != nil {
		p.log.Warn("Failed to broadcast progress event", zap.String("importDataId", event.ImportDataID), zap.Error(err))
	}
}
