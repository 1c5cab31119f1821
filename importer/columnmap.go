package importer

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldVariants are fallback column names tried when neither the job's
// column mapping nor the logical field name itself is present in a row.
var fieldVariants = map[string][]string{
	"POName":         {"PONumber", "PO", "Client Po", "poName"},
	"SKU":            {"sku", "Sku"},
	"shippingNumber": {"Shipment", "ShipmentNo", "ShippingNumber"},
}

// ColumnForField returns the source column mapped to a logical field, or ""
// when the mapping has no entry for it.
func ColumnForField(mapping map[string]string, field string) string {
	for column, mapped := range mapping {
		if mapped == field {
			return column
		}
	}
	return ""
}

// MappedValue resolves a logical field's value in a raw row: first via the
// column mapping, then the field name itself, then known name variants.
// Returns nil when nothing matches.
func MappedValue(row map[string]interface{}, field string, mapping map[string]string) interface{} {
	if column := ColumnForField(mapping, field); column != "" {
		if value, ok := row[column]; ok && value != nil {
			return value
		}
	}
	if value, ok := row[field]; ok && value != nil {
		return value
	}
	for _, variant := range fieldVariants[field] {
		if value, ok := row[variant]; ok && value != nil {
			return value
		}
	}
	return nil
}

// MappedString resolves a logical field as a trimmed string. Numeric cell
// values are rendered without a decimal point where possible, since
// spreadsheet parsers often hand identifiers back as floats.
func MappedString(row map[string]interface{}, field string, mapping map[string]string) string {
	value := MappedValue(row, field, mapping)
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// MappedInt resolves a logical field as an integer. The second return value
// reports whether a usable number was found.
func MappedInt(row map[string]interface{}, field string, mapping map[string]string) (int, bool) {
	value := MappedValue(row, field, mapping)
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}
