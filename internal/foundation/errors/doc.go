// Package errors provides the classified error primitives used across the asset pipeline.
//
// Every failure the pipeline reports to a user carries a category, a severity
// and a retry hint so that callers can decide between aborting a run and
// collecting the failure for the end-of-run summary.
//
// Key features:
//   - ErrorCategory: broad classification (config, build_execution, minification, publish, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: whether a retry can help (never, backoff, ...)
//   - ClassifiedError: structured error with category, severity and context
//   - ErrorBuilder: fluent API for creating classified errors
//   - CLIErrorAdapter: exit code and message mapping for the CLI
//
// Example usage:
//
//	err := errors.PublishError("upload rejected").
//		WithContext("key", storageKey).
//		WithContext("status", status).
//		Build()
package errors
