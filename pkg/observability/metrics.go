package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics records streamrelay's counters, gauges and distributions. Names are
// dotted ("streamrelay.publish.attempts"); backends map them to their own
// naming rules.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Histogram(name string, value float64, tags ...Tag)
	// Timing records a duration in seconds under name + ".seconds".
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a metric label.
type Tag struct {
	Key   string
	Value string
}

// T creates a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// Metric names.
const (
	MetricPublishAttempts   = "streamrelay.publish.attempts"
	MetricRecordsSubmitted  = "streamrelay.publish.records_submitted"
	MetricRecordsFailed     = "streamrelay.publish.records_failed"
	MetricTransportErrors   = "streamrelay.publish.transport_errors"
	MetricRetryDelaySeconds = "streamrelay.publish.retry_delay_seconds"
	MetricPublishDuration   = "streamrelay.publish.duration"

	MetricOutboxPublished  = "streamrelay.outbox.published"
	MetricOutboxFailed     = "streamrelay.outbox.failed"
	MetricOutboxDead       = "streamrelay.outbox.dead"
	MetricOutboxLagSeconds = "streamrelay.outbox.lag_seconds"
	MetricOutboxDeleted    = "streamrelay.outbox.deleted"
)

func timingName(name string) string {
	return name + ".seconds"
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Gauge(string, float64, ...Tag)        {}
func (NoopMetrics) Histogram(string, float64, ...Tag)    {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps every series in memory. Series are keyed by name and
// tags, independent of tag order.
type InMemoryMetrics struct {
	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	count  int64
	gauge  float64
	values []float64
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{series: make(map[string]*series)}
}

func (m *InMemoryMetrics) update(name string, tags []Tag, fn func(*series)) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[key]
	if !ok {
		s = &series{}
		m.series[key] = s
	}
	fn(s)
}

func (m *InMemoryMetrics) read(name string, tags []Tag) series {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.series[seriesKey(name, tags)]; ok {
		return series{count: s.count, gauge: s.gauge, values: append([]float64(nil), s.values...)}
	}
	return series{}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.update(name, tags, func(s *series) { s.count += value })
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.update(name, tags, func(s *series) { s.gauge = value })
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.update(name, tags, func(s *series) { s.values = append(s.values, value) })
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.Histogram(timingName(name), duration.Seconds(), tags...)
}

// CounterValue returns the sum of a counter.
func (m *InMemoryMetrics) CounterValue(name string, tags ...Tag) int64 {
	return m.read(name, tags).count
}

// GaugeValue returns the last value of a gauge.
func (m *InMemoryMetrics) GaugeValue(name string, tags ...Tag) float64 {
	return m.read(name, tags).gauge
}

// Observations returns the values recorded for a histogram. Timings are read
// back under their ".seconds" name.
func (m *InMemoryMetrics) Observations(name string, tags ...Tag) []float64 {
	return m.read(name, tags).values
}

func seriesKey(name string, tags []Tag) string {
	sorted := sortedTags(tags)
	var b strings.Builder
	b.WriteString(name)
	for _, t := range sorted {
		b.WriteString("|" + t.Key + "=" + t.Value)
	}
	return b.String()
}

func sortedTags(tags []Tag) []Tag {
	sorted := append([]Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return sorted
}
