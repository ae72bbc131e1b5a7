package pattern

import "testing"

func TestMatchExactAndPartial(t *testing.T) {
	m := New([]Match{
		{Name: "partial", RequiredKeys: []string{"DeviceID"}},
		{Name: "exact", RequiredKeys: []string{"DeviceID", "Temp"}},
	})

	got, ok := m.Match(map[string]any{"DeviceID": "1", "Temp": 10.0})
	if !ok || got.Name != "exact" {
		t.Fatalf("want exact match, got %+v ok=%v", got, ok)
	}
}

func TestMatchNestedEnvelope(t *testing.T) {
	m := New([]Match{
		{Name: "envelope", RequiredKeys: []string{"DeviceID", "P0"}},
	})
	p := map[string]any{
		"d":  map[string]any{"DeviceID": []any{"77"}, "P0": []any{5.0}},
		"ts": "020702",
	}
	got, ok := m.Match(p)
	if !ok || got.Name != "envelope" {
		t.Fatalf("want envelope match, got %+v ok=%v", got, ok)
	}
}

func TestMatchSchemaMarkerFallback(t *testing.T) {
	m := New([]Match{
		{Name: "array_schema", SchemaMarker: "d+ts"},
	})
	p := map[string]any{
		"d":  map[string]any{"Foo": []any{1.0}},
		"ts": "020702",
	}
	got, ok := m.Match(p)
	if !ok || got.Name != "array_schema" {
		t.Fatalf("want schema marker fallback, got %+v ok=%v", got, ok)
	}
}

func TestMatchAutoModeWhenNoPatternFits(t *testing.T) {
	m := New([]Match{
		{Name: "other", RequiredKeys: []string{"Voltage"}},
	})
	_, ok := m.Match(map[string]any{"DeviceID": "1", "P0": "5"})
	if ok {
		t.Fatalf("expected no match (auto mode)")
	}
}

func TestMatchDeterministicTieBreak(t *testing.T) {
	m := New([]Match{
		{Name: "first", RequiredKeys: []string{"A"}},
		{Name: "second", RequiredKeys: []string{"A"}},
	})
	p := map[string]any{"A": 1.0, "B": 2.0}
	got, ok := m.Match(p)
	if !ok || got.Name != "first" {
		t.Fatalf("expected first pattern to win tie, got %+v", got)
	}
}
