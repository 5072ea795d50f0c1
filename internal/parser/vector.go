package parser

import "github.com/valyala/fastjson"

// VectorParser reads lines written by a vector.dev file sink, where each
// line is a JSON event whose "message" field carries the raw log line.
type VectorParser struct {
	ParseDatetime bool
}

func init() { Register("vector", func() LogParser { return &VectorParser{ParseDatetime: true} }) }

var vectorParsers fastjson.ParserPool

// Parse implements LogParser
func (p *VectorParser) Parse(line string) *LogLine {
	jp := vectorParsers.Get()
	defer vectorParsers.Put(jp)

	v, err := jp.Parse(line)
	if err != nil {
		return nil
	}
	msg := v.GetStringBytes("message")
	if msg == nil {
		return nil
	}
	return ParseRaw(string(msg), p.ParseDatetime)
}
