package router

import (
	"fmt"
	"strings"
)

// deviceIDKeys lists the case-insensitive key spellings accepted for
// a device identifier, checked in the order router.py's
// _extract_device_id tries them.
var deviceIDKeys = []string{"deviceid", "device_id", "device"}

// extractDeviceID mirrors router.py's _extract_device_id: a direct
// "DeviceID" key wins, then the same key nested under a "d" envelope,
// then the already-flattened row, then a case-insensitive scan of
// both the top level and the envelope.
func extractDeviceID(p any, row map[string]any) (string, bool) {
	m, isMap := p.(map[string]any)
	if isMap {
		if v, ok := m["DeviceID"]; ok {
			return stringify(first(v)), true
		}
	}
	if isMap {
		if d, ok := m["d"].(map[string]any); ok {
			if v, ok := d["DeviceID"]; ok {
				return stringify(first(v)), true
			}
		}
	}
	if row != nil {
		if v, ok := row["DeviceID"]; ok {
			return stringify(first(v)), true
		}
	}
	if isMap {
		for k, v := range m {
			if matchesDeviceKey(k) {
				return stringify(first(v)), true
			}
		}
		if d, ok := m["d"].(map[string]any); ok {
			for k, v := range d {
				if matchesDeviceKey(k) {
					return stringify(first(v)), true
				}
			}
		}
	}
	return "", false
}

func matchesDeviceKey(k string) bool {
	lower := strings.ToLower(k)
	for _, candidate := range deviceIDKeys {
		if lower == candidate {
			return true
		}
	}
	return false
}

func first(v any) any {
	if list, ok := v.([]any); ok && len(list) > 0 {
		return list[0]
	}
	return v
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
