package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
)

// Config wires a Publisher.
type Config struct {
	// Store receives the uploads. Nil turns Publish into a logging no-op.
	Store         storage.ContentStore
	CompressTypes []string
	// Raw writes every asset uncompressed, for local output directories.
	Raw     bool
	MaxAge  int
	Retry   retry.Policy
	Verbose bool
	Metrics metrics.Recorder
	History *eventstore.Recorder
	Logger  *slog.Logger
}

// Publisher uploads assets one at a time.
type Publisher struct {
	store         storage.ContentStore
	compressTypes []string
	maxAge        int
	retry         retry.Policy
	verbose       bool
	metrics       metrics.Recorder
	history       *eventstore.Recorder
	logger        *slog.Logger
}

// New returns a Publisher. An empty CompressTypes uses the default list.
func New(cfg Config) *Publisher {
	p := &Publisher{
		store:         cfg.Store,
		compressTypes: cfg.CompressTypes,
		maxAge:        cfg.MaxAge,
		retry:         cfg.Retry,
		verbose:       cfg.Verbose,
		metrics:       metrics.OrNoop(cfg.Metrics),
		history:       cfg.History,
		logger:        cfg.Logger,
	}
	switch {
	case cfg.Raw:
		p.compressTypes = nil
	case len(p.compressTypes) == 0:
		p.compressTypes = config.DefaultCompressTypes
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// CacheControl returns the Cache-Control value for maxAge seconds.
func CacheControl(maxAge int) string {
	if maxAge == 0 {
		return "max-age=0, must-revalidate, immutable"
	}
	return "max-age=" + strconv.Itoa(maxAge) + ", immutable"
}

// Publish uploads every asset in order and records telemetry in log, which
// is created when nil and returned. The first failed upload stops the run.
func (p *Publisher) Publish(ctx context.Context, items []PublishableAsset, log *AssetLog) (*AssetLog, error) {
	if log == nil {
		log = NewAssetLog()
	}
	start := time.Now()
	p.logger.Info(fmt.Sprintf("Compressing and pushing %d assets, here we go ...", len(items)))

	for _, a := range items {
		if err := p.publishOne(ctx, a, log); err != nil {
			p.metrics.ObserveStageDuration(metrics.StagePublish, time.Since(start))
			p.metrics.IncStageResult(metrics.StagePublish, metrics.ResultFailed)
			return log, err
		}
	}
	p.metrics.ObserveStageDuration(metrics.StagePublish, time.Since(start))
	p.metrics.IncStageResult(metrics.StagePublish, metrics.ResultSuccess)
	return log, nil
}

func (p *Publisher) publishOne(ctx context.Context, a PublishableAsset, log *AssetLog) error {
	entry := log.entry(a.StorageKey, a.MimeType)
	if p.store == nil {
		p.logger.Warn(fmt.Sprintf("Storage not configured, so not pushing %s", a.StorageKey), logfields.AssetKey(a.StorageKey))
		return nil
	}

	entry.Started = time.Now()
	tasks, err := Tasks(ctx, a, p.compressTypes)
	if err != nil {
		return foundationerrors.PublishError(fmt.Sprintf("failed to compress %s", a.StorageKey)).
			WithCause(err).
			WithContext("key", a.StorageKey).
			Build()
	}

	for _, task := range tasks {
		if err := p.upload(ctx, task); err != nil {
			return err
		}
		entry.FullPath = a.URL
		if task.Encoding != "" {
			entry.Encodings = append(entry.Encodings, task.Encoding)
		}
		entry.FileSize = len(task.Content)
		entry.Duration = time.Since(entry.Started)
	}

	p.history.AssetPublished(ctx, eventstore.AssetPublished{
		Path:       a.StorageKey,
		URL:        a.URL,
		Encodings:  entry.Encodings,
		Size:       entry.FileSize,
		DurationMS: entry.Duration.Milliseconds(),
	})
	return nil
}

func (p *Publisher) headers(t Task) http.Header {
	h := http.Header{}
	h.Set("Content-Type", t.MimeType)
	h.Set("Vary", "accept-encoding")
	h.Set("Cache-Control", CacheControl(p.maxAge))
	if t.Encoding != "" {
		h.Set("Content-Encoding", t.Encoding)
	}
	return h
}

// upload writes one task, retrying transport failures. A status of 300 or
// more is returned as a publish error and never retried.
func (p *Publisher) upload(ctx context.Context, t Task) error {
	if p.verbose {
		p.logger.Info("Uploading "+t.StorageKey+" ... ", logfields.AssetKey(t.StorageKey))
	}
	headers := p.headers(t)
	encoding := t.Encoding
	if encoding == "" {
		encoding = "raw"
	}

	start := time.Now()
	err := p.retry.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			p.logger.Warn("Retrying upload",
				logfields.AssetKey(t.StorageKey),
				logfields.Encoding(encoding),
				slog.Int("attempt", attempt))
		}
		status, err := p.store.Put(ctx, t.StorageKey, t.Content, headers)
		if err != nil {
			if foundationerrors.IsClassified(err) {
				return err
			}
			return foundationerrors.NetworkError(fmt.Sprintf("upload of %s failed", t.StorageKey)).
				WithCause(err).
				WithContext("key", t.StorageKey).
				Build()
		}
		if status >= 300 {
			return foundationerrors.PublishError(fmt.Sprintf("storage error, code %d", status)).
				WithContext("key", t.StorageKey).
				WithContext("status", status).
				Build()
		}
		return nil
	}, foundationerrors.IsRetryable)

	p.metrics.ObserveUpload(encoding, len(t.Content), time.Since(start), err == nil)
	if err != nil {
		p.logger.Error("Upload failed", logfields.AssetKey(t.StorageKey), logfields.Encoding(encoding), logfields.Error(err))
	}
	return err
}
