// Package events carries import progress out of the pipeline. Events are
// addressed by import job id, which doubles as the pub/sub room key.
package events

import "context"

// Event names on the wire.
const (
	EventProgress = "importDataProgress"
	EventComplete = "importDataComplete"
)

// ProgressEvent is emitted per row (RowID/Status set) or per job
// (Processed/Total set) while an import is being worked.
type ProgressEvent struct {
	ImportDataID string `json:"importDataId"`
	FileName     string `json:"fileName"`
	RowID        string `json:"rowId,omitempty"`
	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	Processed    int64  `json:"processed,omitempty"`
	Total        int64  `json:"total,omitempty"`
	Success      int64  `json:"success,omitempty"`
	Errors       int64  `json:"errors,omitempty"`
	Remaining    int64  `json:"remaining,omitempty"`
}

// Summary is the final per-job tally.
type Summary struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Error   int64 `json:"error"`
}

// RowResult is one row's outcome in the completion event.
type RowResult struct {
	Index          int    `json:"index"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	POName         string `json:"poName,omitempty"`
	SKU            string `json:"sku,omitempty"`
	ShippingNumber string `json:"shippingNumber,omitempty"`
}

// CompleteEvent is emitted once when a job's queue drains.
type CompleteEvent struct {
	ImportDataID string      `json:"importDataId"`
	FileName     string      `json:"fileName"`
	Summary      Summary     `json:"summary"`
	Results      []RowResult `json:"results"`
}

// Broadcaster delivers import events to subscribed clients. Delivery is
// best-effort; the pipeline logs and swallows broadcast errors.
type Broadcaster interface {
	Progress(ctx context.Context, event ProgressEvent) error
	Complete(ctx context.Context, event CompleteEvent) error
}
