package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RowStatus is the state of a single import row. Transitions:
// pending -> processing -> success | failure | pending_reconciliation.
// pending_reconciliation rows are promoted to success or demoted to failure
// by the reconciliation pass.
type RowStatus string

const (
	RowPending               RowStatus = "pending"
	RowProcessing            RowStatus = "processing"
	RowSuccess               RowStatus = "success"
	RowFailure               RowStatus = "failure"
	RowPendingReconciliation RowStatus = "pending_reconciliation"
)

// Job processing statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
)

// ImportCounts is the per-job summary stored on the ImportData document.
type ImportCounts struct {
	Total   int64 `bson:"total" json:"total"`
	Success int64 `bson:"success" json:"success"`
	Failure int64 `bson:"failure" json:"failure"`
	Pending int64 `bson:"pending" json:"pending"`
}

// ImportJob is one uploaded batch (the ImportData collection).
// ColumnMapping maps a source spreadsheet column to a logical field name.
type ImportJob struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FileName         string             `bson:"fileName" json:"fileName"`
	ColumnMapping    map[string]string  `bson:"columnMapping" json:"columnMapping"`
	ProcessingStatus string             `bson:"processingStatus" json:"processingStatus"`
	Counts           ImportCounts       `bson:"counts" json:"counts"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	ProcessedAt      *time.Time         `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// ImportRow is one row within a job (the ImportDataRows collection).
// Data is the raw spreadsheet record; only the column mapper interprets it.
type ImportRow struct {
	ID                  primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	ImportDataID        primitive.ObjectID     `bson:"importDataId" json:"importDataId"`
	RowIndex            int                    `bson:"rowIndex" json:"rowIndex"`
	Data                map[string]interface{} `bson:"data" json:"data"`
	Status              RowStatus              `bson:"status" json:"status"`
	Message             string                 `bson:"message,omitempty" json:"message,omitempty"`
	Error               string                 `bson:"error,omitempty" json:"error,omitempty"`
	ErrorStack          string                 `bson:"errorStack,omitempty" json:"errorStack,omitempty"`
	ProcessingStartedAt *time.Time             `bson:"processingStartedAt,omitempty" json:"processingStartedAt,omitempty"`
	ProcessedAt         *time.Time             `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// StatusCounts is a live breakdown of row statuses for one job.
type StatusCounts struct {
	Total                 int64
	Success               int64
	Failure               int64
	Pending               int64
	Processing            int64
	PendingReconciliation int64
}

// Processed returns the number of rows that reached a terminal status. Rows
// parked at pending_reconciliation count as processed: they hold a
// provisional outcome until the reconciliation pass settles them, so
// Processed + Remaining always equals Total.
func (c StatusCounts) Processed() int64 {
	return c.Success + c.Failure + c.PendingReconciliation
}

// Remaining returns the number of rows still in flight.
func (c StatusCounts) Remaining() int64 {
	return c.Pending + c.Processing
}
