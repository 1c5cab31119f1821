// Package importer is the batch-import reconciliation pipeline: a
// claim-based queue processor that resolves imported shipment rows against
// purchase orders, products and line items, matches them into shipment
// allocations, and runs a deferred reconciliation pass for size-priced rows.
package importer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/events"
	"github.com/excel-pros/csm-backend/models"
	"github.com/excel-pros/csm-backend/webhook"
)

// Entity type names used by the pipeline.
const (
	EntityPO       = "PO"
	EntityProduct  = "Product"
	EntityLineItem = "lineItem"
	EntityShipment = "Shipment"
)

// MatchPolicy decides what happens when a row has no perfect shipment
// allocation match.
type MatchPolicy string

const (
	// PolicyStrict fails the row with a mismatch reason.
	PolicyStrict MatchPolicy = "strict"
	// PolicyDefer parks the row's data on the shipment's suspected-products
	// list; non-size rows end as soft successes, size-priced rows wait at
	// pending_reconciliation.
	PolicyDefer MatchPolicy = "defer"
)

// EntityStore is the generic data-access capability the pipeline consumes.
// It is the schema-driven CRUD layer in production and a fake in tests.
type EntityStore interface {
	Create(ctx context.Context, entityType string, data bson.M) entity.Result
	Update(ctx context.Context, entityType string, id interface{}, data bson.M, mode entity.UpdateMode) entity.Result
	Query(ctx context.Context, entityType string, req entity.QueryRequest) ([]bson.M, error)
}

// ImportRepository is the queue-side storage contract: jobs, rows and the
// atomic claim protocol.
type ImportRepository interface {
	// PendingRows fetches up to limit rows in status pending.
	PendingRows(ctx context.Context, limit int64) ([]models.ImportRow, error)
	// ClaimRows transitions the given rows from pending to processing in a
	// single conditional bulk update, stamping startedAt. It returns the
	// number of rows actually claimed. This is the pipeline's only
	// cross-instance serialization point.
	ClaimRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) (int64, error)
	// ClaimedRows re-fetches the rows this instance actually claimed,
	// identified by status processing and the exact startedAt stamp.
	ClaimedRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) ([]models.ImportRow, error)
	// ReclaimStale returns rows stuck in processing since before olderThan
	// back to pending. A completed job never has processing rows, so no job
	// check is needed.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)

	Job(ctx context.Context, id primitive.ObjectID) (*models.ImportJob, error)
	CompleteJob(ctx context.Context, id primitive.ObjectID, counts models.ImportCounts) error

	MarkRow(ctx context.Context, id primitive.ObjectID, update bson.M) error
	StatusCounts(ctx context.Context, jobID primitive.ObjectID) (models.StatusCounts, error)
	JobRows(ctx context.Context, jobID primitive.ObjectID) ([]models.ImportRow, error)
	RowsByStatus(ctx context.Context, jobID primitive.ObjectID, status models.RowStatus) ([]models.ImportRow, error)
}

// Config tunes one pipeline instance.
type Config struct {
	// BatchSize bounds how many pending rows one pass claims.
	BatchSize int64
	// MatchPolicy picks the ambiguous-match behavior; PolicyDefer is the
	// deployed default.
	MatchPolicy MatchPolicy
	// ClaimTimeout is how long a row may sit in processing before it is
	// considered abandoned by a crashed run and reclaimed.
	ClaimTimeout time.Duration
	// RowTimeout bounds the processing of a single row.
	RowTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MatchPolicy == "" {
		c.MatchPolicy = PolicyDefer
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 10 * time.Minute
	}
	if c.RowTimeout <= 0 {
		c.RowTimeout = 30 * time.Second
	}
	return c
}

// Pipeline drives the import queue. One instance is safe to trigger from
// overlapping timers: a compare-and-swap guard turns overlapping passes into
// silent no-ops, and cross-process safety rests on the claim protocol.
type Pipeline struct {
	store    EntityStore
	repo     ImportRepository
	events   events.Broadcaster
	notifier webhook.Notifier
	log      *zap.Logger
	cfg      Config

	running atomic.Bool
}

// New creates a pipeline.
func New(store EntityStore, repo ImportRepository, broadcaster events.Broadcaster, notifier webhook.Notifier, log *zap.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		store:    store,
		repo:     repo,
		events:   broadcaster,
		notifier: notifier,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// rowFailure is a classified, terminal per-row failure. It never aborts the
// batch; the orchestrator writes it back to the row and moves on.
type rowFailure struct {
	message string
}

func (e *rowFailure) Error() string {
	return e.message
}

func failRow(format string, args ...interface{}) *rowFailure {
	if len(args) == 0 {
		return &rowFailure{message: format}
	}
	return &rowFailure{message: fmt.Sprintf(format, args...)}
}
