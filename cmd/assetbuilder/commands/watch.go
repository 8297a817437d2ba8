package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/executor"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/orchestrator"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
	"git.home.luguber.info/inful/assetbuilder/internal/watch"
)

const watchStopTimeout = 10 * time.Second

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Tag         string `arg:"" optional:"" help:"Only bundle assets of this bundle tag"`
	Output      string `short:"o" help:"Output directory (defaults to publish.storage.directory or ./dist)"`
	Pattern     string `help:"Regular expression of service names to run in watch mode (defaults to build.watch_pattern)"`
	ReloadOnly  bool   `name:"reload-only" help:"Do not spawn watch commands, only re-bundle on file changes"`
	Minify      bool   `help:"Minify bundles on every re-bundle"`
	RepoTag     string `name:"repo-tag" help:"Only include services carrying this manifest tag"`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address (defaults to metrics.listen_addr)"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunWatch(ctx, g, cfg, w, root.Verbose)
}

// RunWatch starts the watched builds, bundles once and then re-bundles on
// every rebuild event or static file change until ctx is done.
func RunWatch(ctx context.Context, g *Global, cfg *config.Config, w *WatchCmd, verbose bool) error {
	pattern, err := watchPattern(w.Pattern, cfg.Build.WatchPattern)
	if err != nil {
		return err
	}
	output, err := outputDir(w.Output, cfg)
	if err != nil {
		return err
	}
	store, err := storage.NewFSStore(output)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to prepare output directory").
			WithContext("path", output).
			Build()
	}
	services, err := loadServices(cfg, "", w.RepoTag)
	if err != nil {
		return err
	}

	var rec metrics.Recorder
	addr := w.MetricsAddr
	if addr == "" {
		addr = cfg.Metrics.ListenAddr
	}
	if addr != "" {
		reg := prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
		srv := serveMetrics(addr, reg)
		defer shutdownServer(srv)
	}

	a, err := newApp(cfg, setupOptions{
		Command:     "watch",
		Environment: cfg.Environment,
		Store:       store,
		Raw:         true,
		Metrics:     rec,
		Verbose:     verbose,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	opts := pipeline.Options{
		Command:         "watch",
		Environment:     cfg.Environment,
		BuildNumber:     DefaultBuildNumber,
		Tag:             w.Tag,
		CDNURL:          fileURL(output),
		Policy:          orchestrator.PolicyTolerant,
		ConcatenateOnly: !w.Minify,
		FileTypes:       cfg.Assets.FileTypes,
		Watch:           true,
		WatchPattern:    pattern,
		ReloadOnly:      w.ReloadOnly,
	}
	report, err := a.pipeline.Run(ctx, services, opts)
	if report != nil {
		_ = report.WriteSummary(g.out())
		defer stopWatches(report.Watches)
	}
	if err != nil {
		return err
	}

	watcher, err := watch.New(serviceDirs(services), watch.Options{Filter: outsideDir(output)})
	if err != nil {
		return err
	}

	triggers := make(chan string, 1)
	var forwarders sync.WaitGroup
	for _, wp := range report.Watches {
		forwarders.Add(1)
		go func(wp *executor.WatchProcess) {
			defer forwarders.Done()
			forwardRebuilds(ctx, wp, triggers)
		}(wp)
	}
	defer forwarders.Wait()

	slog.Info("Watching for changes", slog.Int("directories", len(watcher.Watched())), slog.String("output", output))
	go func() { _ = watcher.Run(ctx) }()
	_, _ = fmt.Fprintf(g.out(), "Watching, assets are written to %s\n", output)

	changes := watcher.Changes()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping watch")
			return nil
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			slog.Info("Static files changed", slog.Int("files", len(change.Paths)))
		case service := <-triggers:
			slog.Info("Rebuilt", logfields.Service(service))
		}
		report, err := a.pipeline.Rebundle(ctx, services, opts)
		if err != nil {
			slog.Error("Re-bundle failed", logfields.Error(err))
			continue
		}
		slog.Info("Re-bundled", slog.Int("assets", report.AssetLog.Len()), logfields.DurationMS(float64(report.Duration().Milliseconds())))
	}
}

// watchPattern compiles the flag, falling back to the configured pattern.
// An empty pattern watches every service.
func watchPattern(flag, configured string) (*regexp.Regexp, error) {
	raw := flag
	if raw == "" {
		raw = configured
	}
	if raw == "" {
		raw = ".*"
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, foundationerrors.ValidationError("invalid watch pattern").
			WithCause(err).
			WithContext("pattern", raw).
			Build()
	}
	return re, nil
}

// forwardRebuilds turns every rebuild event of wp into a re-bundle trigger.
// Triggers are coalesced when one is already pending.
func forwardRebuilds(ctx context.Context, wp *executor.WatchProcess, triggers chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-wp.Rebuilds():
			if !ok {
				return
			}
			if !out.Succeeded {
				slog.Warn("Watch build failed", logfields.Service(out.Service), slog.String("state", string(out.State)), logfields.Error(out.Err))
				if out.State == executor.StateChildExit {
					return
				}
				continue
			}
			select {
			case triggers <- out.Service:
			default:
			}
		}
	}
}

func stopWatches(watches []*executor.WatchProcess) {
	ctx, cancel := context.WithTimeout(context.Background(), watchStopTimeout)
	defer cancel()
	for _, wp := range watches {
		if err := wp.Stop(ctx); err != nil {
			slog.Warn("Failed to stop watch process", logfields.Service(wp.Service), logfields.Error(err))
		}
	}
}

func serviceDirs(services []*manifest.Service) []string {
	dirs := make([]string, 0, len(services))
	for _, svc := range services {
		dirs = append(dirs, svc.Dir)
	}
	return dirs
}

// outsideDir keeps paths that are not below dir, so writing bundles does
// not trigger another re-bundle.
func outsideDir(dir string) func(string) bool {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	return func(p string) bool {
		abs, err := filepath.Abs(p)
		if err != nil {
			return true
		}
		return !strings.HasPrefix(abs, prefix) && abs != filepath.Clean(dir)
	}
}

func serveMetrics(addr string, reg *prom.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("Metrics server shutdown failed", logfields.Error(err))
	}
}
