// Package ingestconfig implements the ConfigSource (C1): it loads the
// YAML ingestion document into an immutable Snapshot, polls the
// backing file for changes, and notifies subscribers on each
// successful reload.
package ingestconfig

import "github.com/avdsystems/ingestor/internal/payload"

// Snapshot is an immutable configuration view. A Source never mutates
// a Snapshot once published; config changes always produce and swap
// in a brand new one.
type Snapshot struct {
	Brokers  map[string]BrokerConn
	Routes   []Route
	Patterns []Pattern
	Database DbConn
	Alerts   AlertCfg
}

// BrokerConn describes one named MQTT broker connection.
type BrokerConn struct {
	Host            string
	Port            int
	Username        string
	Password        string
	CACertPath      string
	ClientIDPrefix  string
	KeepaliveSecs   int
	Workers         int
}

// DbConn is the relational backend connection.
type DbConn struct {
	URI string
}

// TableConfig controls how the SchemaManager resolves/creates a
// destination table for a route+rule.
type TableConfig struct {
	Name              string
	AutoCreate        bool
	VersionOnConflict bool
	// TableOverride supports the legacy single-field form; when set it
	// behaves like Name except nil/empty still triggers auto-naming.
	TableOverride *string
}

// IntervalDifference configures the fixed-interval boundary diff
// substream for a route or rule.
type IntervalDifference struct {
	Enabled          bool
	FrequencyMinutes int
	TableSuffix      string
}

// Rule is a per-device routing rule nested under a Route.
type Rule struct {
	Pattern             string // device-id literal, or "*"
	PatternName         string // explicit pattern name, or "auto"
	TableConfig         TableConfig
	IntervalDifference  *IntervalDifference
}

// Route binds an MQTT topic filter to a broker and an ordered list of
// per-device rules.
type Route struct {
	Topic              string
	BrokerName         string
	AutoDiscover       bool
	DeviceIDs          []Rule
	IntervalDifference *IntervalDifference
	// Broker-level overrides specified directly on the route, taking
	// priority over the named broker's values.
	BrokerOverride BrokerConn
}

// Pattern is one declarative payload pattern.
type Pattern struct {
	Name            string
	MatchKeys       []string
	MatchSchema     string
	ColumnsAuto     bool
	Columns         map[string]payload.ColumnType
	Table           string
	Transformations []Transformation
}

// Transformation mirrors one entry of a pattern's "transformations" list.
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

// Action is a single transformation action (discriminated by Type).
type Action struct {
	Type             string
	IntegerField     string
	FractionalField  string
	TargetField      string
	RemoveFractional bool
	Field            string
	ScaleFactor      float64
	FromField        string
	ToField          string
}

// AlertCfg configures the secondary threshold-alert monitor.
type AlertCfg struct {
	Enabled     bool
	MQTTServer  string
	AlertTopic  string
	Thresholds  map[string]any
}
