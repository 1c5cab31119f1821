// Package schema loads named entity schemas from the Schema collection and
// applies them to payloads: type validation, required-field checks and
// sensitive-field hashing.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no schema exists for an entity type.
var ErrNotFound = errors.New("schema not found")

// Definition describes the typing and constraints of one entity type.
// Field types are: string, number, bool, date, ObjectId, array.
type Definition struct {
	Entity         string            `bson:"entity" json:"entity"`
	BasicFields    map[string]string `bson:"basicFields" json:"basicFields"`
	CustomFields   map[string]string `bson:"customFields" json:"customFields"`
	RequiredFields []string          `bson:"requiredFields" json:"requiredFields"`
	DateFields     []string          `bson:"dateFields" json:"dateFields"`
	HashedFields   []string          `bson:"hashedFields" json:"hashedFields"`
	DefaultProject bson.M            `bson:"defaultProject,omitempty" json:"defaultProject,omitempty"`
}

// AllFields merges basic and custom field typings.
func (d *Definition) AllFields() map[string]string {
	all := make(map[string]string, len(d.BasicFields)+len(d.CustomFields))
	for k, v := range d.BasicFields {
		all[k] = v
	}
	for k, v := range d.CustomFields {
		all[k] = v
	}
	return all
}

// IsDateField reports whether the field is declared as a date.
func (d *Definition) IsDateField(field string) bool {
	for _, f := range d.DateFields {
		if f == field {
			return true
		}
	}
	return false
}

// Service resolves schemas with a Redis read-through cache in front of the
// Schema collection.
type Service struct {
	col   *mongo.Collection
	cache *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

// NewService creates a schema service. cache may be nil, in which case every
// lookup goes to MongoDB.
func NewService(db *mongo.Database, cache *redis.Client, log *zap.Logger) *Service {
	return &Service{
		col:   db.Collection("Schema"),
		cache: cache,
		ttl:   5 * time.Minute,
		log:   log,
	}
}

func cacheKey(entityType string) string {
	return "schema:" + entityType
}

// Get returns the schema for the given entity type.
func (s *Service) Get(ctx context.Context, entityType string) (*Definition, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey(entityType)).Result(); err == nil {
			var def Definition
			if err := json.Unmarshal([]byte(raw), &def); err == nil {
				return &def, nil
			}
			// Corrupt cache entry; fall through to MongoDB.
			s.cache.Del(ctx, cacheKey(entityType))
		}
	}

	var def Definition
	err := s.col.FindOne(ctx, bson.M{"entity": entityType}).Decode(&def)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityType)
		}
		return nil, fmt.Errorf("fetch schema for %s: %w", entityType, err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(&def); err == nil {
			if err := s.cache.Set(ctx, cacheKey(entityType), raw, s.ttl).Err(); err != nil {
				s.log.Warn("Failed to cache schema", zap.String("entity", entityType), zap.Error(err))
			}
		}
	}
	return &def, nil
}

// Invalidate drops the cached schema for an entity type.
func (s *Service) Invalidate(ctx context.Context, entityType string) {
	if s.cache != nil {
		s.cache.Del(ctx, cacheKey(entityType))
	}
}
