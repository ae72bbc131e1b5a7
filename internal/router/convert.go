package router

import (
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/pattern"
)

// toMatch translates a config-level Pattern into the matcher's Match
// type. Kept as an explicit, boring conversion rather than sharing
// one struct across ingestconfig and pattern, since those two
// packages must not import each other.
func toMatch(p ingestconfig.Pattern) pattern.Match {
	return pattern.Match{
		Name:            p.Name,
		RequiredKeys:    p.MatchKeys,
		SchemaMarker:    p.MatchSchema,
		ColumnsAuto:     p.ColumnsAuto,
		Columns:         p.Columns,
		Table:           p.Table,
		Transformations: toTransformations(p.Transformations),
	}
}

func toTransformations(ts []ingestconfig.Transformation) []pattern.Transformation {
	out := make([]pattern.Transformation, 0, len(ts))
	for _, t := range ts {
		out = append(out, pattern.Transformation{
			Condition: pattern.Condition{
				Topic:     t.Condition.Topic,
				Fields:    t.Condition.Fields,
				HasFields: t.Condition.HasFields,
			},
			Action: pattern.Action{
				Type:             t.Action.Type,
				IntegerField:     t.Action.IntegerField,
				FractionalField:  t.Action.FractionalField,
				TargetField:      t.Action.TargetField,
				RemoveFractional: t.Action.RemoveFractional,
				Field:            t.Action.Field,
				ScaleFactor:      t.Action.ScaleFactor,
				FromField:        t.Action.FromField,
				ToField:          t.Action.ToField,
			},
		})
	}
	return out
}
