package alert

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avdsystems/ingestor/internal/payload"
)

// excludedFields mirrors alert_monitor.py's skip list for metadata
// fields that are never evaluated as sensor readings.
var excludedFields = map[string]bool{
	"deviceid": true,
	"date":     true,
	"time":     true,
}

// Violation is one threshold breach, matching spec.md's alert publish
// contract exactly.
type Violation struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Type      string  `json:"type"` // "low" or "high"
}

// Alert is the document published to alerts.alert_topic on violation.
type Alert struct {
	Timestamp  string      `json:"timestamp"`
	Topic      string      `json:"topic"`
	DeviceID   string      `json:"device_id"`
	Violations []Violation `json:"violations"`
}

// Publisher publishes a raw payload to an MQTT topic at a given QoS.
// Satisfied by a brokerhub client wrapper; kept minimal so the monitor
// doesn't need to depend on brokerhub's internals.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Monitor evaluates incoming readings against cached thresholds and
// republishes violations. It carries no schema management or
// derivation state, matching alert_monitor.py's AlertMonitor being a
// deliberately smaller, separate process from the ingestion core.
type Monitor struct {
	cache      *ThresholdCache
	publisher  Publisher
	alertTopic string
}

// NewMonitor builds a Monitor that publishes violations to alertTopic.
func NewMonitor(cache *ThresholdCache, publisher Publisher, alertTopic string) *Monitor {
	if alertTopic == "" {
		alertTopic = "alerts/monitoring"
	}
	return &Monitor{cache: cache, publisher: publisher, alertTopic: alertTopic}
}

// HandleMessage is a brokerhub.Handler-compatible entry point: decode,
// evaluate, and publish a violation alert when one is found.
func (m *Monitor) HandleMessage(topic string, data any) {
	alert, ok := m.Evaluate(topic, data)
	if !ok {
		return
	}
	if err := m.publish(alert); err != nil {
		log.Printf("[ALERT] failed to publish alert for %s/%s: %v", alert.Topic, alert.DeviceID, err)
	}
}

// Evaluate checks one decoded reading against cached thresholds for
// its device and returns the violation alert, if any.
func (m *Monitor) Evaluate(topic string, data any) (*Alert, bool) {
	row, ok := payload.AsMap(data)
	if !ok {
		return nil, false
	}
	if d, ok := payload.Envelope(data); ok {
		row = d
	}

	deviceID := extractDeviceID(row)
	if deviceID == "" {
		return nil, false
	}

	thresholds := m.cache.ForDevice(deviceID)
	if len(thresholds) == 0 {
		return nil, false
	}

	var violations []Violation
	for field, raw := range row {
		if excludedFields[strings.ToLower(field)] {
			continue
		}
		th, ok := thresholds[strings.ToLower(field)]
		if !ok {
			continue
		}
		value, ok := payload.ToFloat(payload.First(raw))
		if !ok {
			continue
		}
		if value < th.LowerThreshold {
			violations = append(violations, Violation{Parameter: field, Value: value, Threshold: th.LowerThreshold, Type: "low"})
		}
		if value > th.HigherThreshold {
			violations = append(violations, Violation{Parameter: field, Value: value, Threshold: th.HigherThreshold, Type: "high"})
		}
	}
	if len(violations) == 0 {
		return nil, false
	}

	return &Alert{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Topic:      topic,
		DeviceID:   deviceID,
		Violations: violations,
	}, true
}

func (m *Monitor) publish(alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alert: marshal alert: %w", err)
	}
	id := uuid.New().String()
	log.Printf("[ALERT][%s] publishing %d violation(s) for %s/%s to %s", id, len(alert.Violations), alert.Topic, alert.DeviceID, m.alertTopic)
	return m.publisher.Publish(m.alertTopic, 1, body)
}

func extractDeviceID(row map[string]any) string {
	for _, key := range []string{"device_id", "deviceId", "DeviceID", "deviceid"} {
		if v, ok := row[key]; ok {
			return fmt.Sprint(payload.First(v))
		}
	}
	return ""
}
