package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "assetbuilder.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "assetbuilder.yaml" {
			t.Errorf("expected context file=assetbuilder.yaml, got %v", file)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := BuildExecutionError("build command failed").WithContext("exit_code", 2).Build()
		wrapped := fmt.Errorf("service web: %w", inner)

		if !IsClassified(wrapped) {
			t.Fatal("expected wrapped error to be classified")
		}
		if !HasCategory(wrapped, CategoryBuildExecution) {
			t.Error("expected build_execution category")
		}
		code, ok := inner.Context().GetInt("exit_code")
		if !ok || code != 2 {
			t.Errorf("expected exit_code 2, got %d", code)
		}
	})

	t.Run("WithContext does not mutate original", func(t *testing.T) {
		base := PublishError("upload rejected").Build()
		derived := base.WithContext("status", 403)
		if _, ok := base.Context().Get("status"); ok {
			t.Error("base context was mutated")
		}
		if v, _ := derived.Context().GetInt("status"); v != 403 {
			t.Errorf("expected derived status 403, got %d", v)
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Wrap keeps cause", func(t *testing.T) {
		originalErr := errors.New("connection reset")
		err := WrapError(originalErr, CategoryNetwork, "upload failed").
			Retryable().
			WithContext("key", "local/web/1/js/top.js").
			Build()

		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !IsRetryable(err) {
			t.Error("expected retryable error")
		}
		if got := UserMessage(err); got != "upload failed: connection reset" {
			t.Errorf("unexpected user message %q", got)
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, RetryUserAction},
			{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, RetryUserAction},
			{"MissingAssetError", MissingAssetError("test"), CategoryMissingAsset, SeverityWarning, RetryUserAction},
			{"BuildExecutionError", BuildExecutionError("test"), CategoryBuildExecution, SeverityError, RetryNever},
			{"MinificationError", MinificationError("test"), CategoryMinification, SeverityError, RetryNever},
			{"PublishError", PublishError("test"), CategoryPublish, SeverityError, RetryNever},
			{"NetworkError", NetworkError("test"), CategoryNetwork, SeverityError, RetryBackoff},
			{"FileSystemError", FileSystemError("test"), CategoryFileSystem, SeverityError, RetryNever},
			{"RuntimeError", RuntimeError("test"), CategoryRuntime, SeverityFatal, RetryNever},
			{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContextMerge(t *testing.T) {
	a := ErrorContext{"service": "web", "tag": "top"}
	b := ErrorContext{"tag": "bottom"}
	merged := a.Merge(b)
	if v, _ := merged.GetString("tag"); v != "bottom" {
		t.Errorf("expected other to take precedence, got %s", v)
	}
	if v, _ := merged.GetString("service"); v != "web" {
		t.Errorf("expected service preserved, got %s", v)
	}
	if v, _ := a.GetString("tag"); v != "top" {
		t.Errorf("merge mutated receiver: %s", v)
	}
}
