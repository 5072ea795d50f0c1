package parser

import (
	"strings"
	"time"
)

// LogLine is one parsed chronicles log line.
type LogLine struct {
	Level LogLevel `json:"level"`
	// Timestamp is nil unless datetime parsing was requested. Always UTC.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message"`
	// Topics holds the raw attribute section, without the trailing count token.
	Topics string `json:"topics"`
	Count  *int64 `json:"count,omitempty"`
}

// Attribute looks up a single key in the attribute section.
func (l *LogLine) Attribute(key string) (string, bool) {
	for _, a := range SplitAttributes(l.Topics) {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// TopicList returns the space-separated entries of the topics attribute,
// e.g. ["codex", "blockexcnetwork"] for topics="codex blockexcnetwork".
func (l *LogLine) TopicList() []string {
	v, ok := l.Attribute("topics")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// HasTopic reports whether topic is one of the entries of the topics attribute.
func (l *LogLine) HasTopic(topic string) bool {
	for _, t := range l.TopicList() {
		if t == topic {
			return true
		}
	}
	return false
}
