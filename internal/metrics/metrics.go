// Package metrics records fill outcomes as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/schema"
)

const namespace = "relfill"

// ResultOK labels successful fills. Failed fills are labeled with their
// error code, or ResultStoreError when the store failed.
const (
	ResultOK         = "ok"
	ResultStoreError = "store_error"
)

// Recorder implements engine.MetricsRecorder on Prometheus collectors.
//
// Thread-safety: all methods are safe for concurrent use.
type Recorder struct {
	fills     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	relations *prometheus.CounterVec
	changes   *prometheus.CounterVec
}

var _ engine.MetricsRecorder = (*Recorder)(nil)

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Completed fills by root entity type and result.",
		}, []string{"entity_type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fill_duration_seconds",
			Help:      "Wall time of a fill, including every nested write.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"entity_type"}),
		relations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relation_writes_total",
			Help:      "Relation writes by relation kind.",
		}, []string{"kind"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relation_changes_total",
			Help:      "Keys touched by relation writes, by kind and change.",
		}, []string{"kind", "change"}),
	}

	for _, c := range []prometheus.Collector{r.fills, r.duration, r.relations, r.changes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// FillCompleted implements engine.MetricsRecorder.
func (r *Recorder) FillCompleted(entityType string, err error, elapsed time.Duration) {
	r.fills.WithLabelValues(entityType, Result(err)).Inc()
	r.duration.WithLabelValues(entityType).Observe(elapsed.Seconds())
}

// RelationWritten implements engine.MetricsRecorder.
func (r *Recorder) RelationWritten(kind schema.RelationKind, report engine.ChangeReport) {
	k := kind.String()
	r.relations.WithLabelValues(k).Inc()
	r.changes.WithLabelValues(k, "attached").Add(float64(len(report.Attached)))
	r.changes.WithLabelValues(k, "detached").Add(float64(len(report.Detached)))
	r.changes.WithLabelValues(k, "created").Add(float64(len(report.Created)))
	r.changes.WithLabelValues(k, "updated").Add(float64(len(report.Updated)))
}

// Result returns the result label for a fill error.
func Result(err error) string {
	if err == nil {
		return ResultOK
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return ResultStoreError
}

// WriteText writes every metric family g gathers in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var errs []error
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
