package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/excel-pros/csm-backend/schema"
)

// buildPipeline turns a QueryRequest into an aggregation pipeline, coercing
// filter values according to the entity's schema: date-range strings become
// time values, hex strings on ObjectId fields become ObjectIds, plain arrays
// become $in clauses, and custom fields are addressed under customFields.
func buildPipeline(def *schema.Definition, req QueryRequest) mongo.Pipeline {
	match := bson.M{}

	for field, value := range req.Filter {
		isCustom := def.CustomFields != nil && def.CustomFields[field] != ""
		target := field
		if isCustom {
			target = "customFields." + field
		}

		switch {
		case def.IsDateField(field):
			match[target] = coerceDateFilter(value)
		case field == "_id" || (def.BasicFields != nil && def.BasicFields[field] == "ObjectId"):
			if coerced, ok := coerceObjectIDFilter(value); ok {
				match[target] = coerced
			} else {
				// Uncoercible ids must match nothing, not drop the filter.
				match[target] = value
			}
		default:
			if arr, ok := asSlice(value); ok {
				match[target] = bson.M{"$in": arr}
			} else {
				match[target] = value
			}
		}
	}

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}

	if len(req.Sort) > 0 {
		sort := bson.D{}
		for _, item := range req.Sort {
			field := item.Field
			if def.CustomFields != nil && def.CustomFields[field] != "" {
				field = "customFields." + field
			}
			dir := 1
			if item.Direction == "desc" {
				dir = -1
			}
			sort = append(sort, bson.E{Key: field, Value: dir})
		}
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sort}})
	}

	if req.Lookup != nil {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: req.Lookup}})
	}
	if req.Unwind != nil {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: req.Unwind}})
	}

	if req.Project != nil {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: req.Project}})
	} else if len(def.DefaultProject) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: def.DefaultProject}})
	}

	page := req.Pagination.Page
	pageSize := req.Pagination.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$skip", Value: (page - 1) * pageSize}},
		bson.D{{Key: "$limit", Value: pageSize}},
	)

	return pipeline
}

// coerceDateFilter converts string bounds of a range filter into time values.
func coerceDateFilter(value interface{}) interface{} {
	rng, ok := value.(bson.M)
	if !ok {
		if m, ok := value.(map[string]interface{}); ok {
			rng = bson.M(m)
		} else {
			return value
		}
	}
	for _, op := range []string{"$gte", "$lte", "$gt", "$lt"} {
		if raw, ok := rng[op].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				rng[op] = t
			} else if t, err := time.Parse("2006-01-02", raw); err == nil {
				rng[op] = t
			}
		}
	}
	return rng
}

// coerceObjectIDFilter converts hex strings into ObjectIds for direct values,
// $eq and $in shapes. It reports false when nothing usable remains.
func coerceObjectIDFilter(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case primitive.ObjectID:
		return bson.M{"$eq": v}, true
	case string:
		if oid, err := primitive.ObjectIDFromHex(v); err == nil {
			return bson.M{"$eq": oid}, true
		}
		return nil, false
	case bson.M:
		return coerceObjectIDOps(v)
	case map[string]interface{}:
		return coerceObjectIDOps(bson.M(v))
	}
	return value, true
}

func coerceObjectIDOps(ops bson.M) (interface{}, bool) {
	if eq, ok := ops["$eq"]; ok {
		switch v := eq.(type) {
		case string:
			oid, err := primitive.ObjectIDFromHex(v)
			if err != nil {
				return nil, false
			}
			ops["$eq"] = oid
		case primitive.ObjectID:
			// already typed
		}
	}
	if in, ok := ops["$in"]; ok {
		if arr, ok := asSlice(in); ok {
			coerced := make([]interface{}, 0, len(arr))
			for _, item := range arr {
				switch v := item.(type) {
				case primitive.ObjectID:
					coerced = append(coerced, v)
				case string:
					if oid, err := primitive.ObjectIDFromHex(v); err == nil {
						coerced = append(coerced, oid)
					}
				}
			}
			ops["$in"] = coerced
		}
	}
	return ops, true
}
