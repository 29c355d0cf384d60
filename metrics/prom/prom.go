// Package prom exports index flush metrics to Prometheus.
package prom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/shardindex/index"
)

// Adapter implements index.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	flushed     *prometheus.CounterVec
	evicted     *prometheus.CounterVec
	flushErrors *prometheus.CounterVec
	flushTime   prometheus.Histogram
	scans       prometheus.Counter
	scanTime    prometheus.Histogram

	activeThreads prometheus.Gauge
	resident      prometheus.Gauge
	dirty         prometheus.Gauge
	loaded        prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counterVec := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, []string{"bin"})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		flushed:     counterVec("flushed_entries_total", "Entries written to bucket storage"),
		evicted:     counterVec("evicted_entries_total", "Entries dropped from memory after ageing"),
		flushErrors: counterVec("flush_errors_total", "Failed bin flushes"),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "flush_duration_seconds",
			Help:        "Duration of successful bin flushes",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "scan_passes_total",
			Help:        "Completed worker scan passes over all bins",
			ConstLabels: constLabels,
		}),
		scanTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "scan_duration_seconds",
			Help:        "Duration of worker scan passes",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		activeThreads: gauge("active_threads", "Flush workers currently in a scan pass"),
		resident:      gauge("resident_entries", "Entries held in memory"),
		dirty:         gauge("dirty_entries", "Resident entries not yet written to bucket storage"),
		loaded:        gauge("loaded_entries", "Entries loaded from bucket storage since start"),
	}
	reg.MustRegister(
		a.flushed, a.evicted, a.flushErrors, a.flushTime, a.scans, a.scanTime,
		a.activeThreads, a.resident, a.dirty, a.loaded,
	)
	return a
}

// Flushed counts written and evicted entries for bin and observes the flush duration.
func (a *Adapter) Flushed(bin, written, evicted int, took time.Duration) {
	l := strconv.Itoa(bin)
	a.flushed.WithLabelValues(l).Add(float64(written))
	a.evicted.WithLabelValues(l).Add(float64(evicted))
	a.flushTime.Observe(took.Seconds())
}

// FlushFailed increments the error counter of bin.
func (a *Adapter) FlushFailed(bin int) {
	a.flushErrors.WithLabelValues(strconv.Itoa(bin)).Inc()
}

// ScanCompleted counts a scan pass and observes its duration.
func (a *Adapter) ScanCompleted(took time.Duration) {
	a.scans.Inc()
	a.scanTime.Observe(took.Seconds())
}

// Report updates the gauges from a statistics snapshot.
func (a *Adapter) Report(s index.StatsSnapshot) {
	a.activeThreads.Set(float64(s.ActiveThreads))
	a.resident.Set(float64(s.Resident))
	a.dirty.Set(float64(s.Dirty))
	a.loaded.Set(float64(s.LoadedEntries))
}

// Compile-time check: ensure Adapter implements index.Metrics.
var _ index.Metrics = (*Adapter)(nil)
