package metrics

import "time"

// ResultLabel enumerates result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultSkipped  ResultLabel = "skipped"
	ResultWarning  ResultLabel = "warning"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Stage names used for pipeline stage metrics.
const (
	StageEnumerate = "enumerate"
	StageBuild     = "build"
	StageBundle    = "bundle"
	StagePublish   = "publish"
)

// Recorder defines observability hooks for pipeline metrics.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveServiceBuild(service string, d time.Duration, result ResultLabel)
	IncWatchEvent(service, state string)
	IncBundleError(kind string)
	ObserveUpload(encoding string, size int, d time.Duration, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)             {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                     {}
func (NoopRecorder) ObserveServiceBuild(string, time.Duration, ResultLabel) {}
func (NoopRecorder) IncWatchEvent(string, string)                           {}
func (NoopRecorder) IncBundleError(string)                                  {}
func (NoopRecorder) ObserveUpload(string, int, time.Duration, bool)         {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
