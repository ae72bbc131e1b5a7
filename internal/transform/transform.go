// Package transform implements the declarative field transformer
// (C5): conditionally rewriting a decoded payload before it reaches
// the schema manager and router.
package transform

import (
	"fmt"
	"log"
	"strconv"

	"github.com/avdsystems/ingestor/internal/payload"
	"github.com/avdsystems/ingestor/internal/pattern"
)

// Apply runs transformations over data in order, returning a
// transformed copy. Mirrors data_transformer.py's
// apply_transformations: a no-op transformation list is the identity,
// each transformation's condition is checked against the
// in-progress result, and a failing/unknown transformation is logged
// and skipped without aborting the rest.
func Apply(data map[string]any, topic string, transformations []pattern.Transformation) map[string]any {
	if len(transformations) == 0 {
		return data
	}
	result := copyMap(data)
	for _, tr := range transformations {
		if !conditionMet(result, topic, tr.Condition) {
			continue
		}
		next, err := applyOne(result, tr.Action)
		if err != nil {
			log.Printf("[TRANSFORMER] error applying %q: %v", tr.Action.Type, err)
			continue
		}
		result = next
	}
	return result
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func conditionMet(data map[string]any, topic string, c pattern.Condition) bool {
	if c.Topic != "" && c.Topic != topic {
		return false
	}
	for field, want := range c.Fields {
		got, ok := data[field]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	for _, field := range c.HasFields {
		if _, ok := data[field]; !ok {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func applyOne(data map[string]any, a pattern.Action) (map[string]any, error) {
	switch a.Type {
	case "combine_decimal":
		return combineDecimal(data, a)
	case "scale_value":
		return scaleValue(data, a)
	case "rename_field":
		return renameField(data, a)
	case "remove_field":
		return removeField(data, a)
	default:
		log.Printf("[TRANSFORMER] unknown transformation type: %s", a.Type)
		return data, nil
	}
}

// combineDecimal mirrors data_transformer.py's _combine_decimal_parts:
// the number of digits in the fractional field's string form decides
// the decimal scale, so "12345"/"81723" -> 12345.81723.
func combineDecimal(data map[string]any, a pattern.Action) (map[string]any, error) {
	if a.IntegerField == "" || a.FractionalField == "" || a.TargetField == "" {
		return data, fmt.Errorf("combine_decimal requires integer_field, fractional_field, target_field")
	}
	rawInt, ok1 := data[a.IntegerField]
	rawFrac, ok2 := data[a.FractionalField]
	if !ok1 || !ok2 {
		return data, fmt.Errorf("missing fields %s/%s", a.IntegerField, a.FractionalField)
	}
	intPart, ok := payload.ToInt(rawInt)
	if !ok {
		return data, fmt.Errorf("non-numeric integer_field %q", a.IntegerField)
	}
	fracPart, ok := payload.ToInt(rawFrac)
	if !ok {
		return data, fmt.Errorf("non-numeric fractional_field %q", a.FractionalField)
	}
	fracStr := strconv.FormatInt(fracPart, 10)
	decimalPlaces := len(fracStr)
	scale := 1.0
	for i := 0; i < decimalPlaces; i++ {
		scale *= 10
	}
	combined := float64(intPart) + float64(fracPart)/scale

	out := copyMap(data)
	out[a.TargetField] = combined
	if a.RemoveFractional {
		delete(out, a.FractionalField)
	}
	return out, nil
}

func scaleValue(data map[string]any, a pattern.Action) (map[string]any, error) {
	raw, ok := data[a.Field]
	if !ok {
		return data, nil
	}
	v, ok := payload.ToFloat(raw)
	if !ok {
		return data, fmt.Errorf("non-numeric field %q", a.Field)
	}
	factor := a.ScaleFactor
	if factor == 0 {
		factor = 1.0
	}
	out := copyMap(data)
	out[a.Field] = v * factor
	return out, nil
}

func renameField(data map[string]any, a pattern.Action) (map[string]any, error) {
	if a.FromField == "" || a.ToField == "" {
		return data, nil
	}
	v, ok := data[a.FromField]
	if !ok {
		return data, nil
	}
	out := copyMap(data)
	delete(out, a.FromField)
	out[a.ToField] = v
	return out, nil
}

func removeField(data map[string]any, a pattern.Action) (map[string]any, error) {
	if a.Field == "" {
		return data, nil
	}
	if _, ok := data[a.Field]; !ok {
		return data, nil
	}
	out := copyMap(data)
	delete(out, a.Field)
	return out, nil
}
