// Package derive implements the derivation engine (C6): two
// independent substreams computed from a device's raw reading
// stream, each keyed by (topic, device_id) and striped across shards
// to keep per-device state updates cheap under concurrent routing.
// Grounded on router.py's _calculate_differences (consecutive diff)
// and interval_difference_calculator.py (interval diff).
package derive

import (
	"sync"

	"github.com/avdsystems/ingestor/internal/payload"
)

const shardCount = 32

func shardFor(key string) int {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

var metadataFields = map[string]bool{
	"topic": true, "DeviceID": true, "Date": true, "Time": true, "ts": true, "ingested_at": true,
}

// ConsecutiveDiff computes the difference between each reading and
// the one before it for the same (topic, device_id). The first
// reading seeds the baseline and emits nothing.
type ConsecutiveDiff struct {
	shards [shardCount]struct {
		mu    sync.Mutex
		state map[string]map[string]float64
	}
}

// NewConsecutiveDiff builds an empty engine.
func NewConsecutiveDiff() *ConsecutiveDiff {
	c := &ConsecutiveDiff{}
	for i := range c.shards {
		c.shards[i].state = make(map[string]map[string]float64)
	}
	return c
}

// Process mirrors router.py's _calculate_differences: on the first
// sample for a key, store a numeric baseline and return ok=false. On
// later samples, emit a row of metadata fields plus the
// previous-to-current delta for every numeric field (new fields not
// in the baseline pass through at their raw value instead of a
// delta), then update the baseline to the current sample.
func (c *ConsecutiveDiff) Process(topic, deviceID string, row map[string]any) (map[string]any, bool) {
	key := topic + ":" + deviceID
	shard := &c.shards[shardFor(key)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	baseline, exists := shard.state[key]
	if !exists {
		shard.state[key] = numericFields(row)
		return nil, false
	}

	out := copyMetadata(row)
	found := false
	for k, v := range row {
		if metadataFields[k] {
			continue
		}
		current, ok := payload.ToFloat(v)
		if !ok {
			continue
		}
		if prev, hadPrev := baseline[k]; hadPrev {
			out[k] = current - prev
			found = true
		} else {
			out[k] = current
			found = true
		}
		baseline[k] = current
	}
	if !found {
		return nil, false
	}
	return out, true
}

func numericFields(row map[string]any) map[string]float64 {
	out := map[string]float64{}
	for k, v := range row {
		if metadataFields[k] {
			continue
		}
		if f, ok := payload.ToFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

func copyMetadata(row map[string]any) map[string]any {
	out := map[string]any{}
	for k := range metadataFields {
		if v, ok := row[k]; ok {
			out[k] = v
		}
	}
	return out
}
