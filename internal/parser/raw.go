package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RawParser parses chronicles "textlines" output:
//
//	TRC 2023-10-16 17:28:46.579+00:00 Sending want list to peer      topics="codex blockexcnetwork" tid=1 count=870781
type RawParser struct {
	ParseDatetime bool
}

func init() {
	Register("raw", func() LogParser { return &RawParser{ParseDatetime: true} })
	Register("raw-nodate", func() LogParser { return &RawParser{ParseDatetime: false} })
}

// Level, timestamp block, optional remainder
var rawLineRegex = regexp.MustCompile(`^(\S+) (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+[+-]\d{2}:\d{2})(?:\s+(.*))?$`)

// First key= token that starts the remainder or follows whitespace.
var attrStartRegex = regexp.MustCompile(`(?:^|\s)([A-Za-z_][A-Za-z0-9_.-]*=)`)

// Fractional seconds are accepted after the seconds field without being
// part of the layout.
const rawTimestampLayout = "2006-01-02 15:04:05-07:00"

// Parse implements LogParser
func (p *RawParser) Parse(line string) *LogLine {
	return ParseRaw(line, p.ParseDatetime)
}

// ParseRaw parses a single log line. It returns nil when the line does not
// follow the chronicles line format; it never fails in any other way.
func ParseRaw(line string, parseDatetime bool) *LogLine {
	matches := rawLineRegex.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if matches == nil {
		return nil
	}

	level, ok := LevelFromToken(matches[1])
	if !ok {
		return nil
	}

	entry := &LogLine{Level: level}

	if parseDatetime {
		t, err := time.Parse(rawTimestampLayout, matches[2])
		if err != nil {
			return nil
		}
		t = t.UTC()
		entry.Timestamp = &t
	}

	rest := matches[3]
	loc := attrStartRegex.FindStringSubmatchIndex(rest)
	if loc == nil {
		entry.Message = strings.TrimSpace(rest)
		return entry
	}

	attrStart := loc[2]
	entry.Message = strings.TrimSpace(rest[:attrStart])
	attrs := rest[attrStart:]
	entry.Topics = attrs

	tokens := tokenize(attrs)
	for _, tok := range tokens {
		if n, ok := countValue(attrs[tok.start:tok.end]); ok {
			entry.Count = &n
			break
		}
	}

	// chronicles appends the line counter last; it is not part of topics
	if len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if _, ok := countValue(attrs[last.start:last.end]); ok {
			entry.Topics = strings.TrimRight(attrs[:last.start], " \t")
		}
	}

	return entry
}

// countValue reads a count=<digits> token. Anything else, including a
// value that overflows int64, is reported as absent.
func countValue(token string) (int64, bool) {
	v, found := strings.CutPrefix(token, "count=")
	if !found || v == "" {
		return 0, false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
