// Package telemetry records query, scan and load metrics on a private
// Prometheus registry. Nothing is registered globally.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/store/dump"
)

const namespace = "linkrel"

// Query outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeNotFound      = "not_found"
	OutcomeUnsupported   = "unsupported"
	OutcomeConfiguration = "configuration"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeCanceled      = "canceled"
	OutcomeError         = "error"
)

// CacheStats reports neighbor cache counters.
type CacheStats interface {
	Hits() int64
	Misses() int64
}

// Metrics holds the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	resultSize    *prometheus.HistogramVec
	skippedTotal  *prometheus.CounterVec
	rowsLoaded    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Relatedness queries by operation, metric and outcome",
		},
		[]string{"op", "metric", "outcome"},
	)
	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of relatedness queries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 30.0},
		},
		[]string{"op", "metric"},
	)
	m.resultSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "result_size",
			Help:      "Entries returned by most-similar queries",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"metric"},
	)
	m.skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "skipped_candidates_total",
			Help:      "Candidates skipped during ranked scans because they are unknown",
		},
		[]string{"metric"},
	)
	m.rowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "rows_total",
			Help:      "Dump rows processed by kind",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(m.queriesTotal, m.queryDuration, m.resultSize, m.skippedTotal, m.rowsLoaded)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery records one finished query started at start.
func (m *Metrics) ObserveQuery(op, metric string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(op, metric, Outcome(err)).Inc()
	m.queryDuration.WithLabelValues(op, metric).Observe(time.Since(start).Seconds())
}

// ObserveResults records the size of a ranked result.
func (m *Metrics) ObserveResults(metric string, n int) {
	if m == nil {
		return
	}
	m.resultSize.WithLabelValues(metric).Observe(float64(n))
}

// CandidateSkipped counts a candidate dropped from a scan.
func (m *Metrics) CandidateSkipped(metric string) {
	if m == nil {
		return
	}
	m.skippedTotal.WithLabelValues(metric).Inc()
}

// RowsLoaded adds the row counts of a finished load.
func (m *Metrics) RowsLoaded(stats dump.Stats) {
	if m == nil {
		return
	}
	m.rowsLoaded.WithLabelValues("pages").Add(float64(stats.Pages))
	m.rowsLoaded.WithLabelValues("links").Add(float64(stats.Links))
	m.rowsLoaded.WithLabelValues("category_members").Add(float64(stats.CategoryMembers))
	m.rowsLoaded.WithLabelValues("skipped").Add(float64(stats.Skipped))
}

// RegisterCache exposes neighbor cache hit and miss counts.
func (m *Metrics) RegisterCache(name string, stats CacheStats) error {
	if m == nil || stats == nil {
		return nil
	}
	labels := prometheus.Labels{"cache": name}
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "hits_total",
		Help:        "Neighbor cache hits",
		ConstLabels: labels,
	}, func() float64 { return float64(stats.Hits()) })
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "misses_total",
		Help:        "Neighbor cache misses",
		ConstLabels: labels,
	}, func() float64 { return float64(stats.Misses()) })

	for _, c := range []prometheus.Collector{hits, misses} {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return coreerrors.InvalidInput("cache %q is already registered", name)
			}
			return fmt.Errorf("register cache %q: %w", name, err)
		}
	}
	return nil
}

// WriteText writes every collected family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Outcome maps an error to its outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case coreerrors.IsNotFound(err):
		return OutcomeNotFound
	case coreerrors.IsUnsupported(err):
		return OutcomeUnsupported
	case coreerrors.IsConfiguration(err):
		return OutcomeConfiguration
	case coreerrors.IsInvalidInput(err):
		return OutcomeInvalidInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
