package transform

import (
	"testing"

	"github.com/avdsystems/ingestor/internal/pattern"
)

func TestApplyEmptyIsIdentity(t *testing.T) {
	data := map[string]any{"A": 1.0}
	out := Apply(data, "t", nil)
	if len(out) != 1 || out["A"] != 1.0 {
		t.Fatalf("expected identity, got %+v", out)
	}
}

func TestCombineDecimal(t *testing.T) {
	data := map[string]any{"DeviceID": "m1", "P0": 12345.0, "P1": 81723.0}
	trs := []pattern.Transformation{{
		Action: pattern.Action{
			Type:             "combine_decimal",
			IntegerField:     "P0",
			FractionalField:  "P1",
			TargetField:      "P0",
			RemoveFractional: true,
		},
	}}
	out := Apply(data, "Energy1", trs)
	if out["P0"] != 12345.81723 {
		t.Fatalf("want 12345.81723, got %v", out["P0"])
	}
	if _, ok := out["P1"]; ok {
		t.Fatalf("expected P1 removed")
	}
}

func TestScaleValue(t *testing.T) {
	data := map[string]any{"V": "10"}
	trs := []pattern.Transformation{{
		Action: pattern.Action{Type: "scale_value", Field: "V", ScaleFactor: 0.1},
	}}
	out := Apply(data, "t", trs)
	if out["V"] != 1.0 {
		t.Fatalf("want 1.0, got %v", out["V"])
	}
}

func TestRenameAndRemoveField(t *testing.T) {
	data := map[string]any{"old": 1.0, "drop": 2.0}
	trs := []pattern.Transformation{
		{Action: pattern.Action{Type: "rename_field", FromField: "old", ToField: "new"}},
		{Action: pattern.Action{Type: "remove_field", Field: "drop"}},
	}
	out := Apply(data, "t", trs)
	if out["new"] != 1.0 {
		t.Fatalf("expected rename to new, got %+v", out)
	}
	if _, ok := out["old"]; ok {
		t.Fatalf("expected old field gone")
	}
	if _, ok := out["drop"]; ok {
		t.Fatalf("expected drop field removed")
	}
}

func TestConditionGatesTransformation(t *testing.T) {
	data := map[string]any{"V": 10.0}
	trs := []pattern.Transformation{{
		Condition: pattern.Condition{Fields: map[string]any{"V": 5.0}},
		Action:    pattern.Action{Type: "scale_value", Field: "V", ScaleFactor: 2},
	}}
	out := Apply(data, "t", trs)
	if out["V"] != 10.0 {
		t.Fatalf("expected condition to block transform, got %v", out["V"])
	}
}

func TestUnknownActionIsSkippedWithoutAborting(t *testing.T) {
	data := map[string]any{"V": 10.0}
	trs := []pattern.Transformation{
		{Action: pattern.Action{Type: "bogus"}},
		{Action: pattern.Action{Type: "scale_value", Field: "V", ScaleFactor: 2}},
	}
	out := Apply(data, "t", trs)
	if out["V"] != 20.0 {
		t.Fatalf("expected later transformation to still apply, got %v", out["V"])
	}
}
