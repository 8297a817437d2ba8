package commands

import (
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/bundle"
	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	"git.home.luguber.info/inful/assetbuilder/internal/executor"
	"git.home.luguber.info/inful/assetbuilder/internal/htmlindex"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/orchestrator"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/publish"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
	"git.home.luguber.info/inful/assetbuilder/internal/revision"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
)

// DefaultBuildNumber is used when neither -b nor git provide one.
const DefaultBuildNumber = "default"

// loadServices discovers the manifests under the services directory and
// keeps those with assets, matching the repo tag and regex.
func loadServices(cfg *config.Config, service, repoTag string) ([]*manifest.Service, error) {
	names := cfg.Services
	if service != "" {
		names = []string{service}
	}
	services, err := manifest.NewLoader(cfg.ServicesDir).Discover(names)
	if err != nil {
		return nil, err
	}

	sel := manifest.Selection{RepoTag: repoTag}
	if cfg.RepoRegex != "" {
		// Validated on load.
		sel.RepoRegex = regexp.MustCompile(cfg.RepoRegex)
	}
	return sel.Select(services), nil
}

// resolveBuildNumber prefers the flag, then git HEAD when configured.
func resolveBuildNumber(cfg *config.Config, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if !cfg.BuildNumberFromGit {
		return DefaultBuildNumber, nil
	}
	head, err := revision.Read(cfg.ServicesDir)
	if err != nil {
		return "", err
	}
	slog.Info("Using build number from git", slog.String("build", head.BuildNumber()), slog.String("commit", head.Short()))
	return head.BuildNumber(), nil
}

// setupOptions selects the variable parts of an app.
type setupOptions struct {
	Command     string
	Environment string
	// Store overrides the configured content store.
	Store storage.ContentStore
	// Raw disables compression, for local output directories.
	Raw     bool
	Metrics metrics.Recorder
	// Notify connects the NATS notifier when configured.
	Notify  bool
	Verbose bool
}

// app is the wired component graph of one command invocation.
type app struct {
	runID    string
	history  eventstore.Store
	notifier *notify.Client
	pipeline *pipeline.Pipeline
}

func newApp(cfg *config.Config, opts setupOptions) (*app, error) {
	logger := slog.Default()
	a := &app{runID: uuid.NewString()}

	if cfg.History.DBPath != "" {
		store, err := eventstore.NewSQLiteStore(cfg.History.DBPath)
		if err != nil {
			return nil, err
		}
		a.history = store
	}
	recorder := eventstore.NewRecorder(a.history, a.runID, logger)

	contentStore := opts.Store
	if contentStore == nil {
		store, err := storage.FromConfig(cfg.Publish.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		contentStore = store
	}

	if opts.Notify {
		client, err := notify.Connect(cfg.Events, logger)
		if err != nil {
			// Notifications are best effort.
			logger.Warn("Publish notifications disabled", logfields.Error(err))
		}
		a.notifier = client
	}

	rec := metrics.OrNoop(opts.Metrics)
	enumerator := assets.NewEnumerator(logger)
	runner := executor.New(executor.Options{
		Shell:     cfg.Build.Shell,
		StopGrace: cfg.Build.StopGraceDuration(),
		Verbose:   opts.Verbose,
		Logger:    logger,
	})
	interp := cfg.Build.Interpreter

	a.pipeline = pipeline.New(pipeline.Config{
		Orchestrator: orchestrator.New(orchestrator.Config{
			Runner:     runner,
			Enumerator: enumerator,
			Shim: buildcmd.PrefixShim{
				UsePrefix:     interp.UsePrefix,
				DefaultPrefix: interp.DefaultPrefix,
				ExecPrefix:    interp.ExecPrefix,
			},
			Interpreters: orchestrator.VersionFile{Name: interp.VersionFile},
			Workers:      cfg.Build.Workers,
			Metrics:      rec,
			History:      recorder,
			Logger:       logger,
		}),
		Enumerator: enumerator,
		Bundler: bundle.New(bundle.Config{
			Minifier:  bundle.NewESBuildMinifier(cfg.Assets.JS),
			CSSMinify: cfg.Assets.CSSMinify,
			Metrics:   rec,
			Logger:    logger,
		}),
		Renderer: htmlindex.TemplateRenderer{Environment: opts.Environment, RunID: a.runID},
		Publisher: publish.New(publish.Config{
			Store:         contentStore,
			CompressTypes: cfg.Publish.CompressTypes,
			Raw:           opts.Raw,
			MaxAge:        cfg.Publish.MaxAgeSeconds(),
			Retry:         retry.FromConfig(cfg.Publish.Retry),
			Verbose:       opts.Verbose,
			Metrics:       rec,
			History:       recorder,
			Logger:        logger,
		}),
		Notifier: a.notifier,
		Metrics:  rec,
		History:  recorder,
		Logger:   logger,
	})
	return a, nil
}

// Close releases the history database and the NATS connection.
func (a *app) Close() {
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("Failed to close history", logfields.Error(err))
		}
	}
}

func policyFor(ignoreFailure bool) orchestrator.Policy {
	if ignoreFailure {
		return orchestrator.PolicyTolerant
	}
	return orchestrator.PolicyStrict
}
