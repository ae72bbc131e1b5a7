// Package payload implements the value-shape helpers shared by the
// pattern matcher, schema manager, transformer and derivation engine:
// type inference over JSON-decoded values, envelope flattening, and
// numeric coercion.
package payload

import (
	"sort"
	"strconv"
	"strings"
)

// ColumnType is one of the column type enumeration values from the
// ingestion config's "columns" section.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInt     ColumnType = "int"
	TypeFloat   ColumnType = "float"
	TypeJSON    ColumnType = "json"
	TypeBoolean ColumnType = "boolean"
)

// metadataColumns are never treated as data columns when deriving a
// shape from a decoded payload.
var metadataColumns = map[string]bool{
	"topic":       true,
	"id":          true,
	"ingested_at": true,
}

// AsMap returns payload as a map[string]any if it decoded to a JSON
// object, and ok=false otherwise.
func AsMap(payload any) (map[string]any, bool) {
	m, ok := payload.(map[string]any)
	return m, ok
}

// Envelope returns the nested "d" object of payload when present, or
// nil. Mirrors patterns.py's repeated "'d' in payload and isinstance
// dict" check.
func Envelope(payload any) (map[string]any, bool) {
	m, ok := AsMap(payload)
	if !ok {
		return nil, false
	}
	d, ok := m["d"].(map[string]any)
	return d, ok
}

// First returns the first element of v if v is a non-empty slice,
// else v itself. Array-enveloped fields carry their value as a
// single-element list.
func First(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// InferType maps a decoded JSON value (after First) to a column type.
func InferType(v any) ColumnType {
	switch vv := v.(type) {
	case bool:
		return TypeBoolean
	case float64:
		if vv == float64(int64(vv)) {
			return TypeInt
		}
		return TypeFloat
	case int, int64:
		return TypeInt
	case string:
		return TypeString
	case map[string]any, []any, nil:
		return TypeJSON
	default:
		return TypeString
	}
}

// DataColumns extracts the data-column shape (name -> type) from a
// decoded payload, excluding topic/id/ingested_at, flattening a "d"
// envelope and including "ts" as a string when present. This mirrors
// table_manager.py's _get_data_columns / patterns.py's
// derive_columns_auto.
func DataColumns(payload any) map[string]ColumnType {
	cols := map[string]ColumnType{}
	m, ok := AsMap(payload)
	if !ok {
		cols["payload"] = TypeJSON
		return cols
	}
	if d, ok := Envelope(payload); ok {
		for k, v := range d {
			if metadataColumns[strings.ToLower(k)] {
				continue
			}
			cols[k] = InferType(First(v))
		}
		if _, hasTS := m["ts"]; hasTS {
			cols["ts"] = TypeString
		}
		return cols
	}
	for k, v := range m {
		if metadataColumns[strings.ToLower(k)] {
			continue
		}
		cols[k] = InferType(v)
	}
	return cols
}

// ToRow flattens a payload into an insertable row, prepending topic
// and flattening a "d" envelope exactly as DataColumns does. Mirrors
// patterns.py's to_row_auto.
func ToRow(topic string, payload any) map[string]any {
	row := map[string]any{"topic": topic}
	m, ok := AsMap(payload)
	if !ok {
		row["payload"] = payload
		return row
	}
	if d, ok := Envelope(payload); ok {
		for k, v := range d {
			row[k] = First(v)
		}
		if ts, hasTS := m["ts"]; hasTS {
			row["ts"] = ts
		}
		return row
	}
	for k, v := range m {
		row[k] = v
	}
	return row
}

// ToFloat attempts to coerce v to a float64, returning ok=false when
// v is not numeric or a numeric-looking string. Mirrors the repeated
// _try_convert_to_numeric helper in router.py and
// interval_difference_calculator.py.
func ToFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case string:
		s := strings.TrimSpace(vv)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToInt attempts to coerce v to an int, used by combine_decimal.
func ToInt(v any) (int64, bool) {
	switch vv := v.(type) {
	case int64:
		return vv, true
	case int:
		return int64(vv), true
	case float64:
		return int64(vv), true
	case string:
		s := strings.TrimSpace(vv)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// SortedKeys returns the map's keys in sorted order, used anywhere a
// stable iteration order is needed (shape signatures, logging).
func SortedKeys(cols map[string]ColumnType) []string {
	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedKeysAny is SortedKeys for a map with arbitrary values, used
// when building a stable column order for an INSERT statement.
func SortedKeysAny(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
