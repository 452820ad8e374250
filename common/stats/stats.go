// Package stats wraps go-metrics behind a few small interfaces. Code is
// handed a StatsReceiver, scopes it to its own name and never imports
// go-metrics directly.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// For testing.
var Time StatsTime = DefaultStatsTime()

// To check if pretty printing is supported.
type MarshalerPretty interface {
	MarshalJSONPretty() ([]byte, error)
}

// The part of a go-metrics registry a StatsReceiver needs.
type StatsRegistry interface {
	// Gets an existing metric or registers the given one. The value may be
	// a function returning the metric, for lazy instantiation.
	GetOrRegister(string, interface{}) interface{}

	Each(func(string, interface{}))
}

// StatsReceiver hands out named instruments. Names are joined into a '/'
// path; a '/' inside one element becomes "_SLASH_".
type StatsReceiver interface {
	// Returns a receiver that prefixes every name with scope:
	//
	//   stat.Scope("session").Counter("undoCounter")  // "session/undoCounter"
	//
	Scope(scope ...string) StatsReceiver

	// Returns a copy whose Latency instruments render in the given unit.
	// Only display is affected. Durations <= 1ns mean ns.
	Precision(time.Duration) StatsReceiver

	Counter(name ...string) Counter

	// A histogram of durations.
	Latency(name ...string) Latency

	// Holds an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// JSON of every instrument in the underlying registry, whatever the scope.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver renders its instruments as flat name/value JSON.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{
		registry:  &flatRegistry{metrics.NewRegistry()},
		precision: time.Nanosecond,
	}
}

type defaultStatsReceiver struct {
	registry  StatsRegistry
	precision time.Duration
	scope     []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.precision, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Precision(precision time.Duration) StatsReceiver {
	if precision < 1 {
		precision = 1
	}
	return &defaultStatsReceiver{s.registry, precision, s.scope}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), newMetricCounter).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), newMetricGauge).(Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return s.registry.GetOrRegister(s.scopedName(name...), newLatency().Precision(s.precision)).(Latency)
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	var err error
	var bytes []byte
	if mp, ok := s.registry.(MarshalerPretty); ok && pretty {
		bytes, err = mp.MarshalJSONPretty()
	} else {
		bytes, err = json.Marshal(s.registry)
	}
	if err != nil {
		log.Errorf("StatsRegistry cannot be marshaled: %v", err)
		return []byte("{}")
	}
	return bytes
}

func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(s.scope)+len(scope))
	out = append(out, s.scope...)
	for _, e := range scope {
		out = append(out, strings.Replace(e, "/", "_SLASH_", -1))
	}
	return out
}

func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

// NilStatsReceiver ignores all stats operations.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver             { return s }
func (s *nilStatsReceiver) Precision(precision time.Duration) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter {
	return &metricCounter{metrics.NilCounter{}}
}
func (s *nilStatsReceiver) Gauge(name ...string) Gauge {
	return &metricGauge{metrics.NilGauge{}}
}
func (s *nilStatsReceiver) Latency(name ...string) Latency { return nilLatency{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte      { return []byte("{}") }

type Counter interface {
	Count() int64
	Inc(int64)
}
type metricCounter struct{ metrics.Counter }

func newMetricCounter() Counter { return &metricCounter{metrics.NewCounter()} }

type Gauge interface {
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func newMetricGauge() Gauge { return &metricGauge{metrics.NewGauge()} }

// Latency is backed by a go-metrics Histogram of nanoseconds.
type Latency interface {
	Observe(time.Duration)
	GetPrecision() time.Duration
	Precision(time.Duration) Latency // returns self.
}

type metricLatency struct {
	metrics.Histogram
	precision time.Duration
}

func newLatency() *metricLatency {
	return &metricLatency{Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000)), precision: time.Nanosecond}
}

func (l *metricLatency) Observe(d time.Duration)     { l.Update(d.Nanoseconds()) }
func (l *metricLatency) GetPrecision() time.Duration { return l.precision }
func (l *metricLatency) Precision(p time.Duration) Latency {
	if p < 1 {
		p = 1
	}
	l.precision = p
	return l
}

type nilLatency struct{}

func (nilLatency) Observe(time.Duration)             {}
func (nilLatency) GetPrecision() time.Duration       { return 0 }
func (l nilLatency) Precision(time.Duration) Latency { return l }

// flatRegistry marshals to one JSON object keyed by metric name, with a
// latency expanded into name.avg, name.count, name.p50 and so on.
type flatRegistry struct {
	metrics.Registry
}

func (r *flatRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.values())
}

func (r *flatRegistry) MarshalJSONPretty() ([]byte, error) {
	return json.MarshalIndent(r.values(), "", "  ")
}

func (r *flatRegistry) values() map[string]interface{} {
	data := make(map[string]interface{})
	r.Each(func(name string, i interface{}) {
		switch stat := i.(type) {
		case *metricCounter:
			data[name] = stat.Count()
		case *metricGauge:
			data[name] = stat.Value()
		case *metricLatency:
			addHistogram(data, name, stat.Snapshot(), stat.precision)
		default:
			log.Info("Unrecognized marshal instrument: ", name, i)
		}
	})
	return data
}

var percentiles = []float64{0.5, 0.9, 0.99}
var percentileLabels = []string{"p50", "p90", "p99"}

func addHistogram(data map[string]interface{}, name string, hist metrics.Histogram, precision time.Duration) {
	f64p := float64(precision)
	i64p := int64(precision)
	data[name+".avg"] = hist.Mean() / f64p
	data[name+".count"] = hist.Count()
	data[name+".max"] = hist.Max() / i64p
	data[name+".min"] = hist.Min() / i64p
	data[name+".sum"] = hist.Sum() / i64p
	for i, p := range hist.Percentiles(percentiles) {
		data[name+"."+percentileLabels[i]] = p / f64p
	}
}
