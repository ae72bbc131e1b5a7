package derive

import (
	"strconv"
	"sync"
	"time"
)

const intervalTimestampLayout = "2006-01-02T15:04"

// timestampFields lists the row fields checked, in order, for a
// sample's clock time. Mirrors
// interval_difference_calculator.py's timestamp_fields.
var timestampFields = []string{"ts", "Time", "timestamp", "Date"}

type intervalState struct {
	currentKey         string
	currentReading     map[string]float64
	previousReading    map[string]float64
	lastTimestamp      time.Time
	previousTimestamp  time.Time
	haveBaseline       bool
}

// IntervalDiff computes a difference between the last reading of a
// just-closed fixed-size interval and the last reading of the
// interval before it. The first interval seeds tracking, the second
// seeds the previous-interval baseline (both emit nothing); every
// later interval rollover emits exactly one row.
type IntervalDiff struct {
	shards [shardCount]struct {
		mu    sync.Mutex
		state map[string]*intervalState
	}
}

// NewIntervalDiff builds an empty engine.
func NewIntervalDiff() *IntervalDiff {
	d := &IntervalDiff{}
	for i := range d.shards {
		d.shards[i].state = make(map[string]*intervalState)
	}
	return d
}

// Process mirrors interval_difference_calculator.py's process_reading.
// frequencyMinutes sizes the floor-aligned interval buckets. The
// emitted row's interval_boundary is the key of the interval the
// triggering sample belongs to (the newly opened interval), not the
// key of the interval that just closed, per spec.md's testable
// property for this substream.
func (d *IntervalDiff) Process(topic, deviceID string, row map[string]any, frequencyMinutes int) (map[string]any, bool) {
	key := topic + ":" + deviceID
	shard := &d.shards[shardFor(key)]

	ts := extractTimestamp(row)
	newKey := intervalBoundaryKey(ts, frequencyMinutes)
	reading := numericFields(row)
	if len(reading) == 0 {
		return nil, false
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	st, exists := shard.state[key]
	if !exists {
		shard.state[key] = &intervalState{
			currentKey:     newKey,
			currentReading: reading,
			lastTimestamp:  ts,
		}
		return nil, false
	}

	if st.currentKey == newKey {
		st.currentReading = reading
		st.lastTimestamp = ts
		return nil, false
	}

	if !st.haveBaseline {
		st.previousReading = st.currentReading
		st.previousTimestamp = st.lastTimestamp
		st.haveBaseline = true
		st.currentKey = newKey
		st.currentReading = reading
		st.lastTimestamp = ts
		return nil, false
	}

	out := buildIntervalDiffRow(topic, deviceID, row, st.currentReading, st.previousReading, newKey, st.previousTimestamp, st.lastTimestamp)

	st.previousReading = st.currentReading
	st.previousTimestamp = st.lastTimestamp
	st.currentKey = newKey
	st.currentReading = reading
	st.lastTimestamp = ts

	return out, true
}

func buildIntervalDiffRow(topic, deviceID string, row map[string]any, current, previous map[string]float64, boundary string, prevTS, curTS time.Time) map[string]any {
	out := copyMetadata(row)
	out["topic"] = topic
	out["DeviceID"] = deviceID
	out["interval_boundary"] = boundary
	out["start_P0_value"] = previous["P0"]
	out["start_P0_time"] = formatHHMMSS(prevTS)
	out["end_P0_value"] = current["P0"]
	out["end_P0_time"] = formatHHMMSS(curTS)

	for field, cv := range current {
		if pv, ok := previous[field]; ok {
			out[field] = cv - pv
		}
	}
	return out
}

func formatHHMMSS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("150405")
}

// extractTimestamp mirrors _extract_timestamp: an HHMMSS-shaped "ts"
// (or Time/timestamp/Date) field is interpreted as today's wall clock
// at that time; anything else falls back to the current time.
func extractTimestamp(row map[string]any) time.Time {
	for _, field := range timestampFields {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if len(s) == 6 {
			if n, err := strconv.Atoi(s); err == nil {
				hours := n / 10000
				minutes := (n / 100) % 100
				seconds := n % 100
				if hours < 24 && minutes < 60 && seconds < 60 {
					now := time.Now()
					return time.Date(now.Year(), now.Month(), now.Day(), hours, minutes, seconds, 0, now.Location())
				}
			}
		}
	}
	return time.Now()
}

func intervalBoundaryKey(t time.Time, frequencyMinutes int) string {
	if frequencyMinutes <= 0 {
		frequencyMinutes = 5
	}
	totalMinutes := t.Hour()*60 + t.Minute()
	startMinutes := (totalMinutes / frequencyMinutes) * frequencyMinutes
	boundary := time.Date(t.Year(), t.Month(), t.Day(), startMinutes/60, startMinutes%60, 0, 0, t.Location())
	return boundary.Format(intervalTimestampLayout)
}
