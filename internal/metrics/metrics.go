// Package metrics exposes Prometheus metrics for activity workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const namespace = "image_processing"

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	activityDuration *prometheus.HistogramVec
	activityTotal    *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	heartbeatsTotal  *prometheus.CounterVec
	announced        prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		activityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "activity_duration_seconds",
				Help:      "Duration of pipeline activity executions in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"activity"},
		),
		activityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_total",
				Help:      "Activity executions by outcome",
			},
			[]string{"activity", "status"}, // status: success, error
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Bytes moved between the object store and local disk",
			},
			[]string{"direction"}, // direction: download, upload
		),
		heartbeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Progress heartbeats recorded by long-running activities",
			},
			[]string{"activity"},
		),
		announced: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "affinity_announced",
				Help:      "1 while this worker's affinity token is announced in the registry",
			},
		),
	}
	r.registry.MustRegister(
		r.activityDuration,
		r.activityTotal,
		r.bytesTotal,
		r.heartbeatsTotal,
		r.announced,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one finished activity execution.
func (r *Recorder) Observe(activity string, started time.Time, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.activityDuration.WithLabelValues(activity).Observe(time.Since(started).Seconds())
	r.activityTotal.WithLabelValues(activity, status).Inc()
}

func (r *Recorder) Bytes(direction string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (r *Recorder) Heartbeat(activity string) {
	if r == nil {
		return
	}
	r.heartbeatsTotal.WithLabelValues(activity).Inc()
}

func (r *Recorder) Announced(up bool) {
	if r == nil {
		return
	}
	if up {
		r.announced.Set(1)
	} else {
		r.announced.Set(0)
	}
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
