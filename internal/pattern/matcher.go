// Package pattern implements the declarative payload pattern matcher
// (C4): classifying an inbound MQTT payload against a configured
// pattern library, or reporting no match for auto mode.
package pattern

import (
	"github.com/avdsystems/ingestor/internal/payload"
)

// Match is one configured pattern entry, as carried by a config
// Snapshot. Only the fields the matcher and router need are modeled
// here; ingestconfig.Pattern is the full config-level type.
type Match struct {
	Name            string
	RequiredKeys    []string
	SchemaMarker    string
	ColumnsAuto     bool
	Columns         map[string]payload.ColumnType
	Table           string
	Transformations []Transformation
}

// Transformation mirrors a single entry of a pattern's
// "transformations" list; kept opaque here (internal/transform owns
// interpretation) to avoid an import cycle.
type Transformation struct {
	Condition Condition
	Action    Action
}

// Condition is the (optional) guard on a transformation.
type Condition struct {
	Topic     string
	Fields    map[string]any
	HasFields []string
}

// Action is a single transformation action.
type Action struct {
	Type              string
	IntegerField      string
	FractionalField   string
	TargetField       string
	RemoveFractional  bool
	Field             string
	ScaleFactor       float64
	FromField         string
	ToField           string
}

// Matcher classifies payloads against an ordered pattern list.
type Matcher struct {
	patterns []Match
}

// New builds a Matcher over the given pattern list, preserving order
// for deterministic tie-breaking.
func New(patterns []Match) *Matcher {
	return &Matcher{patterns: append([]Match(nil), patterns...)}
}

// ByName looks up a pattern by its configured name.
func (m *Matcher) ByName(name string) (Match, bool) {
	for _, p := range m.patterns {
		if p.Name == name {
			return p, true
		}
	}
	return Match{}, false
}

// Match classifies payload against the pattern library per spec.md
// §4.4: required-key subset scoring over the top-level keys, then
// over a nested "d" envelope's keys, then a schema-marker fallback.
// Returns ok=false for auto mode.
func (m *Matcher) Match(p any) (Match, bool) {
	if keys, ok := keySet(p); ok {
		if best, found := bestScoring(m.patterns, keys); found {
			return best, true
		}
	}
	if d, ok := payload.Envelope(p); ok {
		if best, found := bestScoring(m.patterns, keySetOf(d)); found {
			return best, true
		}
	}
	m_, isMap := payload.AsMap(p)
	if isMap {
		_, hasD := m_["d"]
		_, hasTS := m_["ts"]
		if hasD && hasTS {
			for _, pat := range m.patterns {
				if pat.SchemaMarker != "" {
					return pat, true
				}
			}
		}
	}
	return Match{}, false
}

func keySet(p any) (map[string]bool, bool) {
	m, ok := payload.AsMap(p)
	if !ok {
		return nil, false
	}
	return keySetOf(m), true
}

func keySetOf(m map[string]any) map[string]bool {
	s := make(map[string]bool, len(m))
	for k := range m {
		s[k] = true
	}
	return s
}

// bestScoring applies spec.md §4.4 step 1's scoring rule: a pattern
// whose required key set R is a subset of keys K scores 1000 if
// |R|==|K| (exact match) else |R|; highest score wins, first pattern
// wins ties.
func bestScoring(patterns []Match, keys map[string]bool) (Match, bool) {
	var best Match
	bestScore := -1
	found := false
	for _, p := range patterns {
		if len(p.RequiredKeys) == 0 {
			continue
		}
		if !subsetOf(p.RequiredKeys, keys) {
			continue
		}
		score := len(p.RequiredKeys)
		if score == len(keys) {
			score = 1000
		}
		if score > bestScore {
			bestScore = score
			best = p
			found = true
		}
	}
	return best, found
}

func subsetOf(required []string, keys map[string]bool) bool {
	for _, k := range required {
		if !keys[k] {
			return false
		}
	}
	return true
}

// DeriveColumnsAuto and ToRowAuto are re-exported from payload so
// callers that only need auto-mode shaping don't need to import
// payload directly. Kept thin on purpose.
func DeriveColumnsAuto(topic string, p any) map[string]payload.ColumnType {
	return payload.DataColumns(p)
}

func ToRowAuto(topic string, p any) map[string]any {
	return payload.ToRow(topic, p)
}
