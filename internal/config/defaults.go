package config

import (
	"runtime"
	"time"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

const (
	DefaultEnvironment    = "local"
	DefaultServicesDir    = "."
	DefaultShell          = "/bin/sh"
	DefaultVersionFile    = ".nvmrc"
	DefaultMaxAge         = 365000000
	DefaultStopGrace      = 5 * time.Second
	DefaultStorageTimeout = 60 * time.Second
	DefaultJSTarget       = "es2017"
	DefaultEventsSubject  = "assetbuilder.published"
	DefaultStorageDir     = "./dist"
)

// DefaultFileTypes is the whitelist of asset types expanded by enumeration.
var DefaultFileTypes = []string{"js", "css", "img", "html", "swf", "fonts", "pdf"}

// DefaultCompressTypes lists MIME types uploaded with gzip and brotli variants.
var DefaultCompressTypes = []string{
	"application/javascript",
	"application/json",
	"application/xml",
	"text/html",
	"text/xml",
	"text/css",
	"text/plain",
	"image/svg+xml",
}

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

type buildDefaults struct{}

func (buildDefaults) Domain() string { return "build" }

func (buildDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Build.Workers <= 0 {
		cfg.Build.Workers = runtime.NumCPU()
	}
	if cfg.Build.Shell == "" {
		cfg.Build.Shell = DefaultShell
	}
	if cfg.Build.Interpreter.VersionFile == "" {
		cfg.Build.Interpreter.VersionFile = DefaultVersionFile
	}
	return nil
}

type assetDefaults struct{}

func (assetDefaults) Domain() string { return "assets" }

func (assetDefaults) ApplyDefaults(cfg *Config) error {
	if len(cfg.Assets.FileTypes) == 0 {
		cfg.Assets.FileTypes = append([]string(nil), DefaultFileTypes...)
	}
	if cfg.Assets.JS.Target == "" {
		cfg.Assets.JS.Target = DefaultJSTarget
	}
	return nil
}

type publishDefaults struct{}

func (publishDefaults) Domain() string { return "publish" }

func (publishDefaults) ApplyDefaults(cfg *Config) error {
	p := &cfg.Publish
	if len(p.CompressTypes) == 0 {
		p.CompressTypes = append([]string(nil), DefaultCompressTypes...)
	}
	st := NormalizeStorageType(string(p.Storage.Type))
	if st == "" {
		return foundationerrors.ConfigError("unsupported storage type: " + string(p.Storage.Type)).
			WithContext("type", string(p.Storage.Type)).
			Build()
	}
	p.Storage.Type = st
	if st == StorageFS && p.Storage.Directory == "" {
		p.Storage.Directory = DefaultStorageDir
	}

	if p.Retry.MaxRetries < 0 {
		p.Retry.MaxRetries = 0
	}
	if p.Retry.MaxRetries == 0 {
		p.Retry.MaxRetries = 2
	}
	if mode := NormalizeRetryBackoff(string(p.Retry.Backoff)); mode != "" {
		p.Retry.Backoff = mode
	} else {
		p.Retry.Backoff = RetryBackoffLinear
	}
	if p.Retry.InitialDelay == "" {
		p.Retry.InitialDelay = "1s"
	}
	if p.Retry.MaxDelay == "" {
		p.Retry.MaxDelay = "30s"
	}
	return nil
}

type ambientDefaults struct{}

func (ambientDefaults) Domain() string { return "ambient" }

func (ambientDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}
	if cfg.ServicesDir == "" {
		cfg.ServicesDir = DefaultServicesDir
	}
	if cfg.Events.NATSURL != "" && cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
	return nil
}

func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{ambientDefaults{}, buildDefaults{}, assetDefaults{}, publishDefaults{}}
}

func applyDefaults(cfg *Config) error {
	for _, a := range defaultAppliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}
