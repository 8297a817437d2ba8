package config

import (
	"fmt"
	"regexp"
	"time"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// ValidateConfig validates a defaulted configuration.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	for _, check := range []func() error{v.validateBuild, v.validateFilters, v.validatePublish} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validateBuild() error {
	if cv.config.Build.WatchPattern != "" {
		if _, err := regexp.Compile(cv.config.Build.WatchPattern); err != nil {
			return invalid("build.watch_pattern", err)
		}
	}
	if cv.config.Build.StopGrace != "" {
		if _, err := time.ParseDuration(cv.config.Build.StopGrace); err != nil {
			return invalid("build.stop_grace", err)
		}
	}
	return nil
}

func (cv *configurationValidator) validateFilters() error {
	if cv.config.RepoRegex == "" {
		return nil
	}
	if _, err := regexp.Compile(cv.config.RepoRegex); err != nil {
		return invalid("repo_regex", err)
	}
	return nil
}

func (cv *configurationValidator) validatePublish() error {
	p := cv.config.Publish
	if p.MaxAge != nil && *p.MaxAge < 0 {
		return foundationerrors.ValidationError("publish.max_age must not be negative").
			WithContext("max_age", *p.MaxAge).
			Build()
	}
	switch p.Storage.Type {
	case StorageHTTP:
		if p.Storage.Endpoint == "" {
			return foundationerrors.ValidationError("publish.storage.endpoint is required for http storage").Build()
		}
	case StorageFS, StorageNone:
	}
	for field, raw := range map[string]string{
		"publish.retry.initial_delay": p.Retry.InitialDelay,
		"publish.retry.max_delay":     p.Retry.MaxDelay,
		"publish.storage.timeout":     p.Storage.Timeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return invalid(field, err)
		}
	}
	return nil
}

func invalid(field string, err error) error {
	return foundationerrors.WrapError(err, foundationerrors.CategoryValidation, fmt.Sprintf("invalid %s", field)).
		Fatal().
		UserAction().
		WithContext("field", field).
		Build()
}
