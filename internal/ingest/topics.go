package ingest

import (
	"strings"
)

const stateSegment = "state"

// StateTopicFilter is the subscription filter for device state writes:
// <prefix>/<serial>/state/<objectKey>.
func StateTopicFilter(prefix string) string {
	return prefix + "/+/" + stateSegment + "/+"
}

// StateTopic builds the topic a device publishes one object's state on.
func StateTopic(prefix, serial, objectKey string) string {
	return prefix + "/" + serial + "/" + stateSegment + "/" + objectKey
}

// ParseStateTopic extracts serial and object key from a state topic.
func ParseStateTopic(prefix, topic string) (serial, objectKey string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != stateSegment || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
