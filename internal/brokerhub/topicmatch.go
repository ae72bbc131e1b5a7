package brokerhub

import "strings"

// topicFilterMatches implements MQTT topic filter matching for '+'
// (single level) and '#' (multi-level, trailing only), grounded on
// mqtt_hub.py's _topic_filter_matches.
func topicFilterMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	i := 0
	for i < len(fParts) {
		f := fParts[i]
		if f == "#" {
			return i == len(fParts)-1
		}
		if i >= len(tParts) {
			return false
		}
		if f != "+" && f != tParts[i] {
			return false
		}
		i++
	}
	return i == len(tParts)
}
