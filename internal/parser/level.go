package parser

import (
	"fmt"
	"strings"
)

// LogLevel is the severity of a chronicles log line.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
	LevelFatal
)

// levelTokens maps the three-letter tokens emitted by chronicles.
// Matching is case-sensitive.
var levelTokens = map[string]LogLevel{
	"TRC": LevelTrace,
	"DBG": LevelDebug,
	"INF": LevelInfo,
	"NTC": LevelNotice,
	"WRN": LevelWarn,
	"ERR": LevelError,
	"FAT": LevelFatal,
}

var levelNames = [...]string{
	LevelTrace:  "trace",
	LevelDebug:  "debug",
	LevelInfo:   "info",
	LevelNotice: "notice",
	LevelWarn:   "warn",
	LevelError:  "error",
	LevelFatal:  "fatal",
}

// LevelFromToken returns the level for a line token such as "TRC".
func LevelFromToken(token string) (LogLevel, bool) {
	l, ok := levelTokens[token]
	return l, ok
}

// ParseLevel accepts either a variant name ("warn") or a line token ("WRN").
// Names are matched case-insensitively, tokens exactly.
func ParseLevel(s string) (LogLevel, error) {
	if l, ok := levelTokens[s]; ok {
		return l, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return LogLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Token returns the three-letter form used in log lines.
func (l LogLevel) Token() string {
	for tok, v := range levelTokens {
		if v == l {
			return tok
		}
	}
	return ""
}

func (l LogLevel) MarshalText() ([]byte, error) {
	if l < 0 || int(l) >= len(levelNames) {
		return nil, fmt.Errorf("invalid log level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
