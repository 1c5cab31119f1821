package schema

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// Validate checks data against the schema and coerces string-encoded dates
// and ObjectIds in place. It returns a list of validation error messages;
// an empty list means the payload is valid.
func Validate(def *Definition, data bson.M, checkRequired bool) []string {
	var errs []string

	if checkRequired {
		for _, field := range def.RequiredFields {
			if _, ok := data[field]; !ok {
				errs = append(errs, fmt.Sprintf("%s is required.", field))
			}
		}
	}

	allFields := def.AllFields()
	for field, value := range data {
		expected, ok := allFields[field]
		if !ok || value == nil {
			continue
		}

		switch expected {
		case "array":
			if !isArray(value) {
				errs = append(errs, typeError(field, expected, value))
			}
		case "date":
			if t, ok := coerceDate(value); ok {
				data[field] = t
			} else {
				errs = append(errs, typeError(field, expected, value))
			}
		case "ObjectId":
			if id, ok := coerceObjectID(value); ok {
				data[field] = id
			} else {
				errs = append(errs, typeError(field, expected, value))
			}
		case "string":
			if _, ok := value.(string); !ok {
				errs = append(errs, typeError(field, expected, value))
			}
		case "number":
			if !isNumber(value) {
				errs = append(errs, typeError(field, expected, value))
			}
		case "bool":
			if _, ok := value.(bool); !ok {
				errs = append(errs, typeError(field, expected, value))
			}
		}
	}

	return errs
}

// HashSensitive bcrypt-hashes every schema-declared hashed field present in
// the payload.
func HashSensitive(def *Definition, data bson.M) error {
	for _, field := range def.HashedFields {
		value, ok := data[field]
		if !ok || value == nil {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(str), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash field %s: %w", field, err)
		}
		data[field] = string(hashed)
	}
	return nil
}

// ExtractCustomFields moves schema-declared custom fields from the top level
// of the payload into a nested customFields document.
func ExtractCustomFields(def *Definition, data bson.M) {
	custom := bson.M{}
	for field := range def.CustomFields {
		if value, ok := data[field]; ok {
			custom[field] = value
			delete(data, field)
		}
	}
	if len(custom) > 0 {
		data["customFields"] = custom
	}
}

func typeError(field, expected string, value interface{}) string {
	return fmt.Sprintf("Field %s should be of type %s, not %T", field, expected, value)
}

func isArray(value interface{}) bool {
	switch value.(type) {
	case bson.A, []interface{}, []string, []bson.M:
		return true
	}
	return false
}

func isNumber(value interface{}) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func coerceDate(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func coerceObjectID(value interface{}) (primitive.ObjectID, bool) {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v, true
	case string:
		if id, err := primitive.ObjectIDFromHex(v); err == nil {
			return id, true
		}
	}
	return primitive.NilObjectID, false
}
