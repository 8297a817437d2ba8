// Package metrics provides observability hooks for asset builds and uploads.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	type Orchestrator struct {
//	    recorder metrics.Recorder
//	}
//
// The watch command swaps in a PrometheusRecorder and serves it with
// HTTPHandler when metrics.listen_addr is configured.
package metrics
