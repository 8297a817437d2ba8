// Package pipeline runs one asset build end to end: build the services,
// bundle their assets, render the index page and publish everything.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/bundle"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/htmlindex"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/orchestrator"
	"git.home.luguber.info/inful/assetbuilder/internal/publish"
)

// Options controls one run.
type Options struct {
	// Command names the CLI command for history ("publish", "build", "watch").
	Command     string
	Environment string
	BuildNumber string
	// Tag limits the run to one bundle tag.
	Tag string
	// Service is set when a single service is published. The index page is
	// not uploaded in that case.
	Service         string
	CDNURL          string
	Policy          orchestrator.Policy
	ConcatenateOnly bool
	FileTypes       []string
	Watch           bool
	WatchPattern    *regexp.Regexp
	ReloadOnly      bool
}

func (o Options) prepare() publish.PrepareOptions {
	return publish.PrepareOptions{Environment: o.Environment, CDNURL: o.CDNURL, TagFilter: o.Tag}
}

// Config wires a Pipeline.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Enumerator   *assets.Enumerator
	Bundler      *bundle.Engine
	Renderer     htmlindex.Renderer
	Publisher    *publish.Publisher
	// Notifier is told about completed publishes. Optional.
	Notifier notify.Notifier
	Metrics  metrics.Recorder
	History  *eventstore.Recorder
	Logger   *slog.Logger
}

// Pipeline glues the build, bundle and publish stages together.
type Pipeline struct {
	orchestrator *orchestrator.Orchestrator
	enumerator   *assets.Enumerator
	bundler      *bundle.Engine
	renderer     htmlindex.Renderer
	publisher    *publish.Publisher
	notifier     notify.Notifier
	metrics      metrics.Recorder
	history      *eventstore.Recorder
	logger       *slog.Logger
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		orchestrator: cfg.Orchestrator,
		enumerator:   cfg.Enumerator,
		bundler:      cfg.Bundler,
		renderer:     cfg.Renderer,
		publisher:    cfg.Publisher,
		notifier:     cfg.Notifier,
		metrics:      metrics.OrNoop(cfg.Metrics),
		history:      cfg.History,
		logger:       cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.enumerator == nil {
		p.enumerator = assets.NewEnumerator(p.logger)
	}
	if p.bundler == nil {
		p.bundler = bundle.New(bundle.Config{Metrics: p.metrics, Logger: p.logger})
	}
	if p.renderer == nil {
		p.renderer = htmlindex.TemplateRenderer{}
	}
	return p
}

// Run builds services, bundles their assets and publishes them. The report
// is returned even when the run fails. Error records left after the build
// are logged at the end of the run and do not fail it.
func (p *Pipeline) Run(ctx context.Context, services []*manifest.Service, opts Options) (*Report, error) {
	report := p.start(ctx, services, opts)
	if opts.Tag != "" {
		p.logger.Info("Compile front end assets across services for tag: " + opts.Tag)
	} else {
		p.logger.Info("Compile front end assets across services")
	}
	p.logger.Info("Compiling front end assets, this can take a while ... ")

	built, err := p.orchestrator.Run(ctx, services, orchestrator.Options{
		BuildNumber:  opts.BuildNumber,
		TagFilter:    opts.Tag,
		FileTypes:    opts.FileTypes,
		Policy:       opts.Policy,
		Watch:        opts.Watch,
		WatchPattern: opts.WatchPattern,
		ReloadOnly:   opts.ReloadOnly,
	})
	if built != nil {
		report.Build = summarize(built)
		report.Watches = built.Watches
	}
	if err != nil {
		return p.finish(ctx, report, err)
	}

	return p.finish(ctx, report, p.bundleAndPublish(ctx, report, built.Records(), opts))
}

// Rebundle enumerates services without building them and bundles and
// publishes what is on disk. The report carries no build counts.
func (p *Pipeline) Rebundle(ctx context.Context, services []*manifest.Service, opts Options) (*Report, error) {
	report := p.start(ctx, services, opts)
	report.Rebundled = true
	var records []assets.Record
	for _, svc := range services {
		records = append(records, p.enumerator.Enumerate(svc, assets.EnumerateOptions{
			BuildNumber: opts.BuildNumber,
			TagFilter:   opts.Tag,
			FileTypes:   opts.FileTypes,
		})...)
	}
	return p.finish(ctx, report, p.bundleAndPublish(ctx, report, records, opts))
}

func (p *Pipeline) start(ctx context.Context, services []*manifest.Service, opts Options) *Report {
	report := &Report{
		RunID:    p.history.RunID(),
		Command:  opts.Command,
		Started:  time.Now(),
		AssetLog: publish.NewAssetLog(),
	}
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	p.history.RunStarted(ctx, eventstore.RunStarted{
		Environment: opts.Environment,
		BuildNumber: opts.BuildNumber,
		Tag:         opts.Tag,
		Services:    names,
		Command:     opts.Command,
	})
	return report
}

func (p *Pipeline) bundleAndPublish(ctx context.Context, report *Report, records []assets.Record, opts Options) error {
	if len(records) == 0 {
		report.NoAssets = true
		p.logger.Warn("No assets found to push ...")
		return nil
	}

	start := time.Now()
	bundled, err := p.bundler.Bundle(records, opts.ConcatenateOnly)
	p.metrics.ObserveStageDuration(metrics.StageBundle, time.Since(start))
	if bundled != nil {
		report.BundleErrors = bundled.BundleErrors
		for _, be := range bundled.BundleErrors {
			p.history.BundleFailed(ctx, be.Bundle, be.Err)
		}
	}
	if err != nil {
		p.metrics.IncStageResult(metrics.StageBundle, metrics.ResultFailed)
		if opts.Policy == orchestrator.PolicyStrict {
			return err
		}
		p.logger.Warn("Continuing despite bundle errors", slog.Int("bundle_errors", len(bundled.BundleErrors)))
	} else {
		p.metrics.IncStageResult(metrics.StageBundle, metrics.ResultSuccess)
	}

	for _, r := range bundled.Assets {
		if r.IsError() {
			report.ErrorRecords = append(report.ErrorRecords, r)
		}
	}

	items, skipped := publish.Prepare(bundled.Assets, opts.prepare())
	report.Skipped = skipped
	for _, s := range skipped {
		if s.Reason == publish.SkipEmpty {
			p.logger.Info(fmt.Sprintf("Skipping asset: %s (content empty)", s.Key))
		}
	}

	if opts.Service == "" {
		html, err := p.renderer.Render(items)
		if err != nil {
			return err
		}
		items = append(items, publish.Index(html, opts.prepare()))
	}
	report.Published = items

	_, err = p.publisher.Publish(ctx, items, report.AssetLog)
	if err != nil {
		return err
	}

	if p.notifier == nil {
		return nil
	}
	if err := p.notifier.Published(ctx, notify.PublishedEvent{
		RunID:       report.RunID,
		Environment: opts.Environment,
		BuildNumber: opts.BuildNumber,
		Tag:         opts.Tag,
		Services:    servicesOf(items),
		Assets:      len(items),
		IndexURL:    indexURL(items),
	}); err != nil {
		p.logger.Warn("Failed to send publish notification", logfields.Error(err))
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, report *Report, err error) (*Report, error) {
	report.Finished = time.Now()
	report.Err = err
	completed := eventstore.RunCompleted{
		Succeeded:  report.Build.Succeeded,
		Failed:     report.Build.Failed,
		Published:  report.AssetLog.Len(),
		DurationMS: report.Duration().Milliseconds(),
	}
	if len(report.ErrorRecords) > 0 {
		p.logger.Warn("There were errors encountered above that you must resolve:", slog.Int("errors", len(report.ErrorRecords)))
		for _, r := range report.ErrorRecords {
			p.logger.Warn(strings.TrimSpace(r.Message), logfields.Service(r.ServiceName), logfields.Tag(r.Tag))
		}
	}
	if err != nil {
		completed.Error = strings.TrimSpace(foundationerrors.UserMessage(err))
		p.logger.Error("There was an error: "+completed.Error, logfields.RunID(report.RunID))
	}
	p.history.RunCompleted(ctx, completed)
	return report, err
}

func summarize(r *orchestrator.Result) BuildSummary {
	return BuildSummary{
		Total:     len(r.Services),
		Succeeded: r.Succeeded(),
		Failed:    r.Failed(),
		Failures:  r.Failures,
	}
}

func servicesOf(items []publish.PublishableAsset) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range items {
		if a.ServiceName == "" || seen[a.ServiceName] {
			continue
		}
		seen[a.ServiceName] = true
		out = append(out, a.ServiceName)
	}
	return out
}

func indexURL(items []publish.PublishableAsset) string {
	for _, a := range items {
		if a.AssetKey == publish.IndexKey {
			return a.URL
		}
	}
	return ""
}
