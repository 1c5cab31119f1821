// Package entity implements the schema-driven generic CRUD capability over
// named MongoDB collections. Every operation validates the payload against
// the entity's schema before touching the collection; validation failures
// come back as unsuccessful results, never as errors.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/schema"
)

// UpdateMode selects how Update applies the payload.
type UpdateMode string

const (
	// ModeReplace sets the payload fields on the document.
	ModeReplace UpdateMode = "replace"
	// ModeAppend pushes array-typed payload fields onto existing arrays and
	// sets the rest.
	ModeAppend UpdateMode = "append"
)

// Result is the outcome of a create, update or delete.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Errors  []string    `json:"errors,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// SortField orders query results by one field.
type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// Pagination bounds a query.
type Pagination struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
}

// QueryRequest describes an aggregation-style read.
type QueryRequest struct {
	Filter     bson.M      `json:"filter"`
	Sort       []SortField `json:"sort,omitempty"`
	Project    bson.M      `json:"project,omitempty"`
	Lookup     bson.M      `json:"lookup,omitempty"`
	Unwind     bson.M      `json:"unwind,omitempty"`
	Pagination Pagination  `json:"pagination"`
}

// Store is the generic entity store.
type Store struct {
	db      *mongo.Database
	schemas *schema.Service
	log     *zap.Logger
}

// NewStore creates an entity store backed by the given database.
func NewStore(db *mongo.Database, schemas *schema.Service, log *zap.Logger) *Store {
	return &Store{db: db, schemas: schemas, log: log}
}

// Create inserts a new document after schema validation.
func (s *Store) Create(ctx context.Context, entityType string, data bson.M) Result {
	def, err := s.schemas.Get(ctx, entityType)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("No schema found for entity type: %s", entityType)}
	}

	if errs := schema.Validate(def, data, true); len(errs) > 0 {
		return Result{Success: false, Message: "Validation failed", Errors: errs}
	}
	if err := schema.HashSensitive(def, data); err != nil {
		s.log.Error("Failed to hash sensitive fields", zap.String("entity", entityType), zap.Error(err))
		return Result{Success: false, Message: "Error creating entity"}
	}
	schema.ExtractCustomFields(def, data)

	now := time.Now().UTC()
	data["createdAt"] = now
	data["updatedAt"] = now

	res, err := s.db.Collection(entityType).InsertOne(ctx, data)
	if err != nil {
		s.log.Error("Error creating entity", zap.String("entity", entityType), zap.Error(err))
		return Result{Success: false, Message: "Error creating entity"}
	}
	s.invalidateSchemaCache(ctx, entityType, data)
	return Result{Success: true, Message: "Entity created successfully", ID: res.InsertedID}
}

// Update applies a partial payload to an existing document.
func (s *Store) Update(ctx context.Context, entityType string, id interface{}, data bson.M, mode UpdateMode) Result {
	def, err := s.schemas.Get(ctx, entityType)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("No schema found for entity type: %s", entityType)}
	}

	if errs := schema.Validate(def, data, false); len(errs) > 0 {
		return Result{Success: false, Message: "Validation failed", Errors: errs}
	}
	if err := schema.HashSensitive(def, data); err != nil {
		s.log.Error("Failed to hash sensitive fields", zap.String("entity", entityType), zap.Error(err))
		return Result{Success: false, Message: "Error updating entity"}
	}
	schema.ExtractCustomFields(def, data)

	data["updatedAt"] = time.Now().UTC()

	objectID := toObjectID(id)
	var update bson.M
	if mode == ModeAppend {
		update = buildAppendUpdate(def, data)
	} else {
		update = bson.M{"$set": data}
	}

	res, err := s.db.Collection(entityType).UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		s.log.Error("Error updating entity", zap.String("entity", entityType), zap.Error(err))
		return Result{Success: false, Message: "Error updating entity"}
	}
	if res.MatchedCount == 0 {
		return Result{Success: false, Message: "No entity found with the provided ID."}
	}
	s.invalidateSchemaCache(ctx, entityType, data)
	return Result{Success: true, Message: "Entity updated successfully", ID: objectID}
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, entityType string, id interface{}) Result {
	objectID := toObjectID(id)
	res, err := s.db.Collection(entityType).DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		s.log.Error("Error deleting entity", zap.String("entity", entityType), zap.Error(err))
		return Result{Success: false, Message: "Error deleting entity"}
	}
	if res.DeletedCount == 0 {
		return Result{Success: false, Message: "No entity found with the provided ID."}
	}
	return Result{Success: true, Message: "Entity deleted successfully", ID: objectID}
}

// Query runs an aggregation-style read over the entity's collection.
func (s *Store) Query(ctx context.Context, entityType string, req QueryRequest) ([]bson.M, error) {
	def, err := s.schemas.Get(ctx, entityType)
	if err != nil {
		if !errors.Is(err, schema.ErrNotFound) {
			return nil, err
		}
		// A missing schema only disables coercion; the collection can still
		// be queried with the filter as given.
		def = &schema.Definition{Entity: entityType}
	}

	pipeline := buildPipeline(def, req)

	cursor, err := s.db.Collection(entityType).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", entityType, err)
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode %s results: %w", entityType, err)
	}
	return results, nil
}

// invalidateSchemaCache drops the cached definition when a Schema document
// itself is written, so the next lookup sees the change.
func (s *Store) invalidateSchemaCache(ctx context.Context, entityType string, data bson.M) {
	if entityType != "Schema" {
		return
	}
	if name, ok := data["entity"].(string); ok && name != "" {
		s.schemas.Invalidate(ctx, name)
	}
}

func toObjectID(id interface{}) interface{} {
	if s, ok := id.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return id
}

// buildAppendUpdate routes array-typed fields into $push/$each and everything
// else into $set.
func buildAppendUpdate(def *schema.Definition, data bson.M) bson.M {
	allFields := def.AllFields()
	push := bson.M{}
	set := bson.M{}

	appendField := func(field, target string, value interface{}) bool {
		if allFields[field] != "array" {
			return false
		}
		items, ok := asSlice(value)
		if !ok {
			return false
		}
		push[target] = bson.M{"$each": items}
		return true
	}

	for field, value := range data {
		if field == "customFields" {
			if custom, ok := value.(bson.M); ok {
				for cf, cv := range custom {
					if !appendField(cf, "customFields."+cf, cv) {
						set["customFields."+cf] = cv
					}
				}
				continue
			}
		}
		if !appendField(field, field, value) {
			set[field] = value
		}
	}

	update := bson.M{}
	if len(push) > 0 {
		update["$push"] = push
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update
}

func asSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case bson.A:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []bson.M:
		out := make([]interface{}, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
