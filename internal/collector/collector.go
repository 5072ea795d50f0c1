package collector

import (
	"sync"

	"logtools/internal/parser"

	"github.com/prometheus/client_golang/prometheus"
)

// LineCollector exposes Prometheus metrics about the lines flowing
// through the pipeline.
type LineCollector struct {
	Lines     *prometheus.CounterVec
	Unparsed  *prometheus.CounterVec
	LastCount *prometheus.GaugeVec
	CountGaps *prometheus.CounterVec

	mu        sync.Mutex
	lastCount map[string]int64
}

func NewLineCollector() *LineCollector {
	return &LineCollector{
		Lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logtools_lines_total",
				Help: "Total number of parsed log lines.",
			},
			[]string{"source", "level"},
		),
		Unparsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logtools_unparsed_lines_total",
				Help: "Total number of lines that did not match the log line format.",
			},
			[]string{"source"},
		),
		LastCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "logtools_last_count",
				Help: "Most recent line counter seen per source.",
			},
			[]string{"source"},
		),
		CountGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logtools_count_gaps_total",
				Help: "Times the line counter of a source skipped ahead, meaning lines were lost upstream.",
			},
			[]string{"source"},
		),
		lastCount: map[string]int64{},
	}
}

func (c *LineCollector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.Lines,
		c.Unparsed,
		c.LastCount,
		c.CountGaps,
	)
}

// ProcessLine records a parsed line. It returns the number of lines missing
// between this line and the previous one from the same source, judged by
// the count attribute. Lines from one source must arrive in order.
func (c *LineCollector) ProcessLine(source string, line *parser.LogLine) int64 {
	c.Lines.WithLabelValues(source, line.Level.String()).Inc()
	if line.Count == nil {
		return 0
	}

	count := *line.Count
	c.LastCount.WithLabelValues(source).Set(float64(count))

	c.mu.Lock()
	prev, seen := c.lastCount[source]
	c.lastCount[source] = count
	c.mu.Unlock()

	// A counter going backwards is a restarted node, not a gap.
	if !seen || count <= prev || count-prev == 1 {
		return 0
	}
	c.CountGaps.WithLabelValues(source).Inc()
	return count - prev - 1
}

func (c *LineCollector) ProcessUnparsed(source string) {
	c.Unparsed.WithLabelValues(source).Inc()
}

// LastCountOf returns the most recent counter seen for source.
func (c *LineCollector) LastCountOf(source string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lastCount[source]
	return v, ok
}
