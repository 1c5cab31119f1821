// Package repository is the MongoDB persistence layer for import jobs and
// their rows (the ImportData and ImportDataRows collections).
package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/excel-pros/csm-backend/models"
)

const (
	jobsCollection = "ImportData"
	rowsCollection = "ImportDataRows"
)

// ImportRepo stores import jobs and rows and implements the claim protocol
// that serializes row processing across service instances.
type ImportRepo struct {
	jobs *mongo.Collection
	rows *mongo.Collection
}

func New(db *mongo.Database) *ImportRepo {
	return &ImportRepo{
		jobs: db.Collection(jobsCollection),
		rows: db.Collection(rowsCollection),
	}
}

// CreateJob inserts a new ImportData document and returns its id.
func (r *ImportRepo) CreateJob(ctx context.Context, job models.ImportJob) (primitive.ObjectID, error) {
	job.ID = primitive.NewObjectID()
	job.ProcessingStatus = models.JobRunning
	job.CreatedAt = time.Now().UTC()
	if _, err := r.jobs.InsertOne(ctx, job); err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert import job: %w", err)
	}
	return job.ID, nil
}

// InsertRows bulk-inserts the job's rows in status pending.
func (r *ImportRepo) InsertRows(ctx context.Context, jobID primitive.ObjectID, records []map[string]interface{}) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for i, record := range records {
		docs = append(docs, models.ImportRow{
			ID:           primitive.NewObjectID(),
			ImportDataID: jobID,
			RowIndex:     i,
			Data:         record,
			Status:       models.RowPending,
		})
	}
	if _, err := r.rows.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert import rows: %w", err)
	}
	return nil
}

// PendingRows fetches up to limit rows in status pending, oldest jobs first.
func (r *ImportRepo) PendingRows(ctx context.Context, limit int64) ([]models.ImportRow, error) {
	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "importDataId", Value: 1}, {Key: "rowIndex", Value: 1}})
	cursor, err := r.rows.Find(ctx, bson.M{"status": models.RowPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending rows: %w", err)
	}
	return decodeRows(ctx, cursor)
}

// ClaimRows flips the candidate rows from pending to processing in one
// conditional bulk update. Rows already claimed by another instance no longer
// match the filter and are skipped; the returned count is the number of rows
// this caller owns.
func (r *ImportRepo) ClaimRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) (int64, error) {
	res, err := r.rows.UpdateMany(ctx,
		bson.M{
			"_id":    bson.M{"$in": ids},
			"status": models.RowPending,
		},
		bson.M{"$set": bson.M{
			"status":              models.RowProcessing,
			"processingStartedAt": startedAt,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("claim rows: %w", err)
	}
	return res.ModifiedCount, nil
}

// ClaimedRows re-fetches the rows actually claimed with the given stamp.
func (r *ImportRepo) ClaimedRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) ([]models.ImportRow, error) {
	cursor, err := r.rows.Find(ctx,
		bson.M{
			"_id":                 bson.M{"$in": ids},
			"status":              models.RowProcessing,
			"processingStartedAt": startedAt,
		},
		options.Find().SetSort(bson.D{{Key: "importDataId", Value: 1}, {Key: "rowIndex", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find claimed rows: %w", err)
	}
	return decodeRows(ctx, cursor)
}

// ReclaimStale returns rows stuck in processing since before olderThan back
// to pending so a later pass can retry them.
func (r *ImportRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.rows.UpdateMany(ctx,
		bson.M{
			"status":              models.RowProcessing,
			"processingStartedAt": bson.M{"$lt": olderThan},
		},
		bson.M{
			"$set":   bson.M{"status": models.RowPending},
			"$unset": bson.M{"processingStartedAt": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale rows: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *ImportRepo) Job(ctx context.Context, id primitive.ObjectID) (*models.ImportJob, error) {
	var job models.ImportJob
	err := r.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find import job: %w", err)
	}
	return &job, nil
}

// CompleteJob marks the job completed and stores the final counts. It is
// idempotent; reconciliation calls it a second time to refresh the counts.
func (r *ImportRepo) CompleteJob(ctx context.Context, id primitive.ObjectID, counts models.ImportCounts) error {
	now := time.Now().UTC()
	_, err := r.jobs.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"processingStatus": models.JobCompleted,
			"counts":           counts,
			"processedAt":      now,
		}},
	)
	if err != nil {
		return fmt.Errorf("complete import job: %w", err)
	}
	return nil
}

func (r *ImportRepo) MarkRow(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	_, err := r.rows.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("mark import row: %w", err)
	}
	return nil
}

// StatusCounts counts the job's rows per status in one aggregation.
func (r *ImportRepo) StatusCounts(ctx context.Context, jobID primitive.ObjectID) (models.StatusCounts, error) {
	var counts models.StatusCounts

	cursor, err := r.rows.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"importDataId": jobID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return counts, fmt.Errorf("count rows by status: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var group struct {
			Status models.RowStatus `bson:"_id"`
			Count  int64            `bson:"count"`
		}
		if err := cursor.Decode(&group); err != nil {
			return counts, fmt.Errorf("decode status count: %w", err)
		}
		counts.Total += group.Count
		switch group.Status {
		case models.RowSuccess:
			counts.Success = group.Count
		case models.RowFailure:
			counts.Failure = group.Count
		case models.RowPending:
			counts.Pending = group.Count
		case models.RowProcessing:
			counts.Processing = group.Count
		case models.RowPendingReconciliation:
			counts.PendingReconciliation = group.Count
		}
	}
	if err := cursor.Err(); err != nil {
		return counts, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (r *ImportRepo) JobRows(ctx context.Context, jobID primitive.ObjectID) ([]models.ImportRow, error) {
	cursor, err := r.rows.Find(ctx,
		bson.M{"importDataId": jobID},
		options.Find().SetSort(bson.D{{Key: "rowIndex", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find job rows: %w", err)
	}
	return decodeRows(ctx, cursor)
}

func (r *ImportRepo) RowsByStatus(ctx context.Context, jobID primitive.ObjectID, status models.RowStatus) ([]models.ImportRow, error) {
	cursor, err := r.rows.Find(ctx,
		bson.M{"importDataId": jobID, "status": status},
		options.Find().SetSort(bson.D{{Key: "rowIndex", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find rows by status: %w", err)
	}
	return decodeRows(ctx, cursor)
}

func decodeRows(ctx context.Context, cursor *mongo.Cursor) ([]models.ImportRow, error) {
	var rows []models.ImportRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode import rows: %w", err)
	}
	return rows, nil
}
