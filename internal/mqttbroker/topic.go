package mqttbroker

import "strings"

// topicMatches reports whether a topic name matches a subscription filter
// using MQTT 3.1.1 semantics: '+' matches exactly one level, '#' matches
// the remainder of the topic and must be the final level.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fl := range filterLevels {
		if fl == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl != "+" && fl != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
