package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "assetbuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration  *prom.HistogramVec
	stageResults   *prom.CounterVec
	serviceBuilds  *prom.HistogramVec
	watchEvents    *prom.CounterVec
	bundleErrors   *prom.CounterVec
	uploadDuration *prom.HistogramVec
	uploadBytes    *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg
// (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		serviceBuilds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "service_build_duration_seconds",
			Help:      "Duration of service build commands",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "result"}),
		watchEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Watch process events by terminal state",
		}, []string{"service", "state"}),
		bundleErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_errors_total",
			Help:      "Bundles that failed to minify or concatenate",
		}, []string{"kind"}),
		uploadDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of content store uploads",
			Buckets:   prom.DefBuckets,
		}, []string{"encoding", "result"}),
		uploadBytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes uploaded to the content store",
		}, []string{"encoding"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.serviceBuilds, pr.watchEvents, pr.bundleErrors, pr.uploadDuration, pr.uploadBytes)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveServiceBuild(service string, d time.Duration, result ResultLabel) {
	if p == nil {
		return
	}
	p.serviceBuilds.WithLabelValues(service, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncWatchEvent(service, state string) {
	if p == nil {
		return
	}
	p.watchEvents.WithLabelValues(service, state).Inc()
}

func (p *PrometheusRecorder) IncBundleError(kind string) {
	if p == nil {
		return
	}
	p.bundleErrors.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) ObserveUpload(encoding string, size int, d time.Duration, success bool) {
	if p == nil {
		return
	}
	res := string(ResultFailed)
	if success {
		res = string(ResultSuccess)
		p.uploadBytes.WithLabelValues(encoding).Add(float64(size))
	}
	p.uploadDuration.WithLabelValues(encoding, res).Observe(d.Seconds())
}
