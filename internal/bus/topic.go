package bus

import "strings"

const (
	// TopicAll matches every topic.
	TopicAll = "#"

	wildcardOne  = "+"
	wildcardTail = "#"
	separator    = "/"
)

// Device topic purposes, published as "<serial>/<purpose>".
const (
	PurposePair   = "pair"
	PurposeUnpair = "unpair"
	PurposeStart  = "start"
	PurposeStop   = "stop"
	PurposeSet    = "set"
	PurposeCmd    = "cmd"
	PurposeStatus = "status"
)

func DeviceTopic(serial string, purpose ...string) string {
	return strings.Join(append([]string{serial}, purpose...), separator)
}

func PairTopic(serial string) string {
	return DeviceTopic(serial, PurposePair)
}

// Match reports whether topic is addressed by pattern. Segments compare
// literally, "+" matches exactly one segment and a trailing "#" matches the
// remaining suffix, including an empty one.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	ps := strings.Split(pattern, separator)
	ts := strings.Split(topic, separator)

	for i, p := range ps {
		if p == wildcardTail {
			return i == len(ps)-1
		}
		if i >= len(ts) {
			return false
		}
		if p != wildcardOne && p != ts[i] {
			return false
		}
	}

	return len(ps) == len(ts)
}

// ValidPattern rejects empty patterns and misplaced wildcards.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	segments := strings.Split(pattern, separator)
	for i, s := range segments {
		if strings.Contains(s, wildcardTail) && (s != wildcardTail || i != len(segments)-1) {
			return false
		}
		if strings.Contains(s, wildcardOne) && s != wildcardOne {
			return false
		}
	}
	return true
}

// ValidSegment reports whether s can be used as a literal topic segment,
// e.g. a device serial number.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#") && strings.TrimSpace(s) == s
}
