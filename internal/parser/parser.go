package parser

import (
	"errors"
	"fmt"
	"sort"
)

// LogParser turns one line into a LogLine, or nil when the line is not in
// the parser's format. Implementations must be safe for concurrent use.
type LogParser interface {
	Parse(line string) *LogLine
}

var ErrUnknownParser = errors.New("unknown parser type")

// registry maps parser type names to factory functions
var registry = map[string]func() LogParser{}

// Register adds a parser factory to the registry.
// Called by each parser's init() function.
func Register(name string, factory func() LogParser) {
	registry[name] = factory
}

// Get returns a new instance of the parser for the given type name.
func Get(name string) (LogParser, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownParser, name, AvailableParsers())
	}
	return factory(), nil
}

// AvailableParsers returns the registered parser names in sorted order.
func AvailableParsers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
