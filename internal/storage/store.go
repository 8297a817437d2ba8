// Package storage provides the content stores published assets are written to.
package storage

import (
	"context"
	"net/http"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// ContentStore receives published objects. Put returns the status code of
// the write; HTTP-style codes are used by every implementation so callers
// can treat >= 300 uniformly. A non-nil error means the write never got a
// status (transport failure).
type ContentStore interface {
	Put(ctx context.Context, key string, data []byte, headers http.Header) (status int, err error)
}

// FromConfig returns the configured store, or nil when publishing is
// disabled.
func FromConfig(cfg config.StorageConfig) (ContentStore, error) {
	switch cfg.Type {
	case config.StorageNone, "":
		return nil, nil
	case config.StorageHTTP:
		return NewHTTPStore(cfg.Endpoint, cfg.Token, cfg.TimeoutDuration())
	case config.StorageFS:
		return NewFSStore(cfg.Directory)
	default:
		return nil, foundationerrors.ConfigError("unsupported storage type: " + string(cfg.Type)).
			WithContext("type", string(cfg.Type)).
			Build()
	}
}
