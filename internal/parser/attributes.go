package parser

import "strings"

// Attribute is a single key=value pair from a line's attribute section.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type span struct {
	start, end int
}

// tokenize splits an attribute section on whitespace. Double-quoted runs,
// with backslash escapes, never split a token.
func tokenize(s string) []span {
	var out []span
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		quoted := false
		for i < len(s) {
			c := s[i]
			if quoted {
				if c == '\\' && i+1 < len(s) {
					i += 2
					continue
				}
				if c == '"' {
					quoted = false
				}
			} else if c == '"' {
				quoted = true
			} else if isSpace(c) {
				break
			}
			i++
		}
		out = append(out, span{start, i})
	}
	return out
}

// SplitAttributes breaks an attribute section such as
// `topics="codex blockexcnetwork" tid=1` into ordered pairs. Quoted values
// are unquoted. Tokens without '=' come back with an empty value.
func SplitAttributes(topics string) []Attribute {
	tokens := tokenize(topics)
	attrs := make([]Attribute, 0, len(tokens))
	for _, tok := range tokens {
		key, value, _ := strings.Cut(topics[tok.start:tok.end], "=")
		attrs = append(attrs, Attribute{Key: key, Value: unquote(value)})
	}
	return attrs
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i+1 == len(v) {
			b.WriteByte(c)
			continue
		}
		i++
		switch v[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
