package ingestconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/avdsystems/ingestor/internal/payload"
)

// yamlDoc mirrors the on-disk YAML shape documented in spec.md §6.
// Kept private and translated into the public Snapshot types so the
// rest of the codebase never depends on yaml struct tags directly.
type yamlDoc struct {
	Database    yamlDatabase              `yaml:"database"`
	MQTTServers map[string]yamlBroker     `yaml:"mqtt_servers"`
	Patterns    []yamlPattern             `yaml:"patterns"`
	Routes      []yamlRoute               `yaml:"routes"`
	Alerts      yamlAlerts                `yaml:"alerts"`
}

type yamlDatabase struct {
	URI string `yaml:"uri"`
}

type yamlBroker struct {
	Broker         string `yaml:"broker"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	CACert         string `yaml:"ca_cert"`
	Keepalive      int    `yaml:"keepalive"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	Workers        int    `yaml:"workers"`
}

type yamlMatch struct {
	Keys   []string `yaml:"keys"`
	Schema string   `yaml:"schema"`
}

type yamlCondition struct {
	Topic     string         `yaml:"topic"`
	Fields    map[string]any `yaml:"fields"`
	HasFields []string       `yaml:"has_fields"`
}

type yamlAction struct {
	Type             string  `yaml:"type"`
	IntegerField     string  `yaml:"integer_field"`
	FractionalField  string  `yaml:"fractional_field"`
	TargetField      string  `yaml:"target_field"`
	RemoveFractional bool    `yaml:"remove_fractional"`
	Field            string  `yaml:"field"`
	ScaleFactor      float64 `yaml:"scale_factor"`
	FromField        string  `yaml:"from_field"`
	ToField          string  `yaml:"to_field"`
}

type yamlTransformation struct {
	Name      string        `yaml:"name"`
	Condition yamlCondition `yaml:"condition"`
	Action    yamlAction    `yaml:"action"`
}

type yamlPattern struct {
	Name            string                `yaml:"name"`
	Match           yamlMatch             `yaml:"match"`
	Columns         yaml.Node             `yaml:"columns"`
	Table           string                `yaml:"table"`
	Transformations []yamlTransformation  `yaml:"transformations"`
}

type yamlIntervalDifference struct {
	Enabled          bool   `yaml:"enabled"`
	FrequencyMinutes int    `yaml:"frequency_minutes"`
	TableSuffix      string `yaml:"table_suffix"`
}

type yamlTableConfig struct {
	Name              string `yaml:"name"`
	AutoCreate        *bool  `yaml:"auto_create"`
	VersionOnConflict *bool  `yaml:"version_on_conflict"`
}

type yamlRule struct {
	Pattern            string                  `yaml:"pattern"`
	PatternName        string                  `yaml:"pattern_name"`
	TableConfig        *yamlTableConfig        `yaml:"table_config"`
	TableOverride      *string                 `yaml:"table_override"`
	IntervalDifference *yamlIntervalDifference `yaml:"interval_difference"`
}

type yamlRoute struct {
	Topic              string                  `yaml:"topic"`
	MQTTServer         string                  `yaml:"mqtt_server"`
	Broker             string                  `yaml:"broker"`
	Port               int                     `yaml:"port"`
	Username           string                  `yaml:"username"`
	Password           string                  `yaml:"password"`
	CACert             string                  `yaml:"ca_cert"`
	AutoDiscover       bool                    `yaml:"auto_discover"`
	DeviceIDs          []yamlRule              `yaml:"device_ids"`
	IntervalDifference *yamlIntervalDifference `yaml:"interval_difference"`
}

type yamlAlerts struct {
	Enabled    bool           `yaml:"enabled"`
	MQTTServer string         `yaml:"mqtt_server"`
	AlertTopic string         `yaml:"alert_topic"`
	Thresholds map[string]any `yaml:"thresholds"`
}

const (
	defaultKeepaliveSeconds = 60
	defaultClientIDPrefix   = "Ingestor"
	defaultWorkers          = 4
)

// parseSnapshot parses raw YAML bytes into a Snapshot. Errors are
// returned, never panicked, so the caller (the poll loop) can leave
// the previous Snapshot in place on failure per spec.md §4.1/§7.
func parseSnapshot(raw []byte) (Snapshot, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse config yaml: %w", err)
	}

	snap := Snapshot{
		Database: DbConn{URI: doc.Database.URI},
		Brokers:  make(map[string]BrokerConn, len(doc.MQTTServers)),
		Alerts: AlertCfg{
			Enabled:    doc.Alerts.Enabled,
			MQTTServer: doc.Alerts.MQTTServer,
			AlertTopic: doc.Alerts.AlertTopic,
			Thresholds: doc.Alerts.Thresholds,
		},
	}

	for name, b := range doc.MQTTServers {
		snap.Brokers[name] = brokerFromYAML(b)
	}

	for _, p := range doc.Patterns {
		pat, err := patternFromYAML(p)
		if err != nil {
			return Snapshot{}, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		snap.Patterns = append(snap.Patterns, pat)
	}

	for _, r := range doc.Routes {
		snap.Routes = append(snap.Routes, routeFromYAML(r))
	}

	return snap, nil
}

func brokerFromYAML(b yamlBroker) BrokerConn {
	keepalive := b.Keepalive
	if keepalive == 0 {
		keepalive = defaultKeepaliveSeconds
	}
	prefix := b.ClientIDPrefix
	if prefix == "" {
		prefix = defaultClientIDPrefix
	}
	workers := b.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	port := b.Port
	if port == 0 {
		port = 8883
	}
	return BrokerConn{
		Host:           b.Broker,
		Port:           port,
		Username:       b.Username,
		Password:       b.Password,
		CACertPath:     b.CACert,
		ClientIDPrefix: prefix,
		KeepaliveSecs:  keepalive,
		Workers:        workers,
	}
}

func patternFromYAML(p yamlPattern) (Pattern, error) {
	pat := Pattern{
		Name:        p.Name,
		MatchKeys:   p.Match.Keys,
		MatchSchema: p.Match.Schema,
		Table:       p.Table,
	}
	if p.Columns.Kind == yaml.ScalarNode && p.Columns.Value == "auto" {
		pat.ColumnsAuto = true
	} else if p.Columns.Kind == yaml.MappingNode {
		cols := map[string]string{}
		if err := p.Columns.Decode(&cols); err != nil {
			return Pattern{}, fmt.Errorf("decode columns: %w", err)
		}
		pat.Columns = make(map[string]payload.ColumnType, len(cols))
		for name, t := range cols {
			pat.Columns[name] = payload.ColumnType(t)
		}
	}
	for _, tr := range p.Transformations {
		pat.Transformations = append(pat.Transformations, Transformation{
			Condition: Condition{
				Topic:     tr.Condition.Topic,
				Fields:    tr.Condition.Fields,
				HasFields: tr.Condition.HasFields,
			},
			Action: Action{
				Type:             tr.Action.Type,
				IntegerField:     tr.Action.IntegerField,
				FractionalField:  tr.Action.FractionalField,
				TargetField:      tr.Action.TargetField,
				RemoveFractional: tr.Action.RemoveFractional,
				Field:            tr.Action.Field,
				ScaleFactor:      tr.Action.ScaleFactor,
				FromField:        tr.Action.FromField,
				ToField:          tr.Action.ToField,
			},
		})
	}
	return pat, nil
}

func routeFromYAML(r yamlRoute) Route {
	route := Route{
		Topic:        r.Topic,
		BrokerName:   r.MQTTServer,
		AutoDiscover: r.AutoDiscover,
		BrokerOverride: BrokerConn{
			Host:     r.Broker,
			Port:     r.Port,
			Username: r.Username,
			Password: r.Password,
			CACertPath: r.CACert,
		},
		IntervalDifference: intervalFromYAML(r.IntervalDifference),
	}
	for _, dr := range r.DeviceIDs {
		route.DeviceIDs = append(route.DeviceIDs, ruleFromYAML(dr))
	}
	return route
}

func ruleFromYAML(r yamlRule) Rule {
	rule := Rule{
		Pattern:            r.Pattern,
		PatternName:        r.PatternName,
		IntervalDifference: intervalFromYAML(r.IntervalDifference),
	}
	switch {
	case r.TableConfig != nil:
		autoCreate := true
		if r.TableConfig.AutoCreate != nil {
			autoCreate = *r.TableConfig.AutoCreate
		}
		versionOnConflict := true
		if r.TableConfig.VersionOnConflict != nil {
			versionOnConflict = *r.TableConfig.VersionOnConflict
		}
		rule.TableConfig = TableConfig{
			Name:              r.TableConfig.Name,
			AutoCreate:        autoCreate,
			VersionOnConflict: versionOnConflict,
		}
	case r.TableOverride != nil:
		rule.TableConfig = TableConfig{
			AutoCreate:        true,
			VersionOnConflict: true,
			TableOverride:     r.TableOverride,
		}
	default:
		rule.TableConfig = TableConfig{AutoCreate: true, VersionOnConflict: true}
	}
	return rule
}

func intervalFromYAML(i *yamlIntervalDifference) *IntervalDifference {
	if i == nil {
		return nil
	}
	suffix := i.TableSuffix
	if suffix == "" {
		suffix = "_interval_diff"
	}
	freq := i.FrequencyMinutes
	if freq == 0 {
		freq = 5
	}
	return &IntervalDifference{
		Enabled:          i.Enabled,
		FrequencyMinutes: freq,
		TableSuffix:      suffix,
	}
}

// readFile is a thin wrapper kept for testability (tests can swap in
// a fixture path directly; no indirection needed beyond os.ReadFile).
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
