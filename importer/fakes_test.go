package importer

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/models"
)

// fakeStore is an in-memory EntityStore supporting the filter shapes the
// pipeline actually issues: direct equality, $eq, $in and dotted array paths.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string][]bson.M
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]bson.M)}
}

func (f *fakeStore) add(entityType string, v interface{}) bson.M {
	doc, err := models.ToDocument(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[entityType] = append(f.docs[entityType], doc)
	return doc
}

func (f *fakeStore) Create(ctx context.Context, entityType string, data bson.M) entity.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	doc := bson.M{"_id": id}
	for k, v := range data {
		doc[k] = v
	}
	f.docs[entityType] = append(f.docs[entityType], doc)
	return entity.Result{Success: true, Message: "Entity created successfully", ID: id}
}

func (f *fakeStore) Update(ctx context.Context, entityType string, id interface{}, data bson.M, mode entity.UpdateMode) entity.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := normalizeID(id)
	for _, doc := range f.docs[entityType] {
		if normalizeID(doc["_id"]) == target {
			for k, v := range data {
				doc[k] = v
			}
			return entity.Result{Success: true, Message: "Entity updated successfully", ID: doc["_id"]}
		}
	}
	return entity.Result{Success: false, Message: "No entity found with the provided ID."}
}

func (f *fakeStore) Query(ctx context.Context, entityType string, req entity.QueryRequest) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bson.M
	for _, doc := range f.docs[entityType] {
		if matchesFilter(doc, req.Filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// get returns the stored document with the given id, decoded into out.
func (f *fakeStore) get(entityType string, id primitive.ObjectID, out interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs[entityType] {
		if normalizeID(doc["_id"]) == id.Hex() {
			if err := models.FromDocument(doc, out); err != nil {
				panic(err)
			}
			return true
		}
	}
	return false
}

func matchesFilter(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		values := docValues(doc, strings.Split(key, "."))
		if !matchValue(values, cond) {
			return false
		}
	}
	return true
}

func docValues(doc interface{}, path []string) []interface{} {
	if len(path) == 0 {
		return []interface{}{doc}
	}
	switch v := doc.(type) {
	case bson.M:
		if inner, ok := v[path[0]]; ok {
			return docValues(inner, path[1:])
		}
	case map[string]interface{}:
		if inner, ok := v[path[0]]; ok {
			return docValues(inner, path[1:])
		}
	case bson.A:
		var out []interface{}
		for _, elem := range v {
			out = append(out, docValues(elem, path)...)
		}
		return out
	case []interface{}:
		var out []interface{}
		for _, elem := range v {
			out = append(out, docValues(elem, path)...)
		}
		return out
	}
	return nil
}

func matchValue(values []interface{}, cond interface{}) bool {
	if m, ok := cond.(bson.M); ok {
		if eq, ok := m["$eq"]; ok {
			cond = eq
		} else if list, ok := m["$in"]; ok {
			candidates, _ := list.([]primitive.ObjectID)
			for _, c := range candidates {
				if matchValue(values, c) {
					return true
				}
			}
			return false
		}
	}
	for _, value := range values {
		if looseEqual(value, cond) {
			return true
		}
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if aid, ok := a.(primitive.ObjectID); ok {
		if bid, ok := b.(primitive.ObjectID); ok {
			return aid == bid
		}
	}
	return reflect.DeepEqual(a, b)
}

func normalizeID(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	}
	return ""
}

// fakeRepo is an in-memory ImportRepository implementing the same claim
// semantics as the MongoDB repository.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[primitive.ObjectID]*models.ImportJob
	rows []*models.ImportRow
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[primitive.ObjectID]*models.ImportJob)}
}

func (f *fakeRepo) addJob(fileName string, mapping map[string]string) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &models.ImportJob{
		ID:               primitive.NewObjectID(),
		FileName:         fileName,
		ColumnMapping:    mapping,
		ProcessingStatus: models.JobRunning,
		CreatedAt:        time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job.ID
}

func (f *fakeRepo) addRow(jobID primitive.ObjectID, index int, data map[string]interface{}) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := &models.ImportRow{
		ID:           primitive.NewObjectID(),
		ImportDataID: jobID,
		RowIndex:     index,
		Data:         data,
		Status:       models.RowPending,
	}
	f.rows = append(f.rows, row)
	return row.ID
}

func (f *fakeRepo) row(id primitive.ObjectID) models.ImportRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return *r
		}
	}
	return models.ImportRow{}
}

func (f *fakeRepo) PendingRows(ctx context.Context, limit int64) ([]models.ImportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportRow
	for _, r := range f.rows {
		if r.Status == models.RowPending {
			out = append(out, *r)
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) ClaimRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed int64
	for _, r := range f.rows {
		if r.Status != models.RowPending {
			continue
		}
		for _, id := range ids {
			if r.ID == id {
				stamp := startedAt
				r.Status = models.RowProcessing
				r.ProcessingStartedAt = &stamp
				claimed++
				break
			}
		}
	}
	return claimed, nil
}

func (f *fakeRepo) ClaimedRows(ctx context.Context, ids []primitive.ObjectID, startedAt time.Time) ([]models.ImportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportRow
	for _, r := range f.rows {
		if r.Status != models.RowProcessing || r.ProcessingStartedAt == nil || !r.ProcessingStartedAt.Equal(startedAt) {
			continue
		}
		for _, id := range ids {
			if r.ID == id {
				out = append(out, *r)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reclaimed int64
	for _, r := range f.rows {
		if r.Status == models.RowProcessing && r.ProcessingStartedAt != nil && r.ProcessingStartedAt.Before(olderThan) {
			r.Status = models.RowPending
			r.ProcessingStartedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (f *fakeRepo) Job(ctx context.Context, id primitive.ObjectID) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeRepo) CompleteJob(ctx context.Context, id primitive.ObjectID, counts models.ImportCounts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		now := time.Now().UTC()
		job.ProcessingStatus = models.JobCompleted
		job.Counts = counts
		job.ProcessedAt = &now
	}
	return nil
}

func (f *fakeRepo) MarkRow(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID != id {
			continue
		}
		for key, value := range update {
			switch key {
			case "status":
				r.Status = value.(models.RowStatus)
			case "message":
				r.Message = value.(string)
			case "error":
				r.Error = value.(string)
			case "errorStack":
				r.ErrorStack = value.(string)
			case "processedAt":
				if t, ok := value.(time.Time); ok {
					r.ProcessedAt = &t
				}
			}
		}
		return nil
	}
	return nil
}

func (f *fakeRepo) StatusCounts(ctx context.Context, jobID primitive.ObjectID) (models.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts models.StatusCounts
	for _, r := range f.rows {
		if r.ImportDataID != jobID {
			continue
		}
		counts.Total++
		switch r.Status {
		case models.RowSuccess:
			counts.Success++
		case models.RowFailure:
			counts.Failure++
		case models.RowPending:
			counts.Pending++
		case models.RowProcessing:
			counts.Processing++
		case models.RowPendingReconciliation:
			counts.PendingReconciliation++
		}
	}
	return counts, nil
}

func (f *fakeRepo) JobRows(ctx context.Context, jobID primitive.ObjectID) ([]models.ImportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportRow
	for _, r := range f.rows {
		if r.ImportDataID == jobID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) RowsByStatus(ctx context.Context, jobID primitive.ObjectID, status models.RowStatus) ([]models.ImportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportRow
	for _, r := range f.rows {
		if r.ImportDataID == jobID && r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}
