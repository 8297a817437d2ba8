package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Tag           string `arg:"" optional:"" help:"Only build assets of this bundle tag"`
	Output        string `short:"o" help:"Output directory (defaults to publish.storage.directory or ./dist)"`
	Build         string `short:"b" help:"Build number used in asset keys"`
	Service       string `help:"Build a single service; the index page is not written"`
	IgnoreFailure bool   `name:"ignore-failure" help:"Keep going when a service build fails"`
	RepoTag       string `name:"repo-tag" help:"Only include services carrying this manifest tag"`
	NoMinify      bool   `name:"no-minify" help:"Concatenate bundles without minifying"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunBuild(ctx, g, cfg, b, root.Verbose)
}

// RunBuild bundles into a local directory through the filesystem store.
func RunBuild(ctx context.Context, g *Global, cfg *config.Config, b *BuildCmd, verbose bool) error {
	output, err := outputDir(b.Output, cfg)
	if err != nil {
		return err
	}
	store, err := storage.NewFSStore(output)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to prepare output directory").
			WithContext("path", output).
			Build()
	}

	services, err := loadServices(cfg, b.Service, b.RepoTag)
	if err != nil {
		return err
	}
	buildNumber, err := resolveBuildNumber(cfg, b.Build)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, setupOptions{
		Command:     "build",
		Environment: cfg.Environment,
		Store:       store,
		Raw:         true,
		Verbose:     verbose,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.Run(ctx, services, pipeline.Options{
		Command:         "build",
		Environment:     cfg.Environment,
		BuildNumber:     buildNumber,
		Tag:             b.Tag,
		Service:         b.Service,
		CDNURL:          fileURL(output),
		Policy:          policyFor(b.IgnoreFailure),
		ConcatenateOnly: b.NoMinify || cfg.Assets.ConcatenateOnly,
		FileTypes:       cfg.Assets.FileTypes,
	})
	if report != nil {
		_ = report.WriteSummary(g.out())
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.out(), "Assets written to %s\n", output)
	return nil
}

// outputDir resolves the local output directory: flag, then configured
// filesystem directory, then the default.
func outputDir(flag string, cfg *config.Config) (string, error) {
	dir := flag
	if dir == "" {
		dir = cfg.Publish.Storage.Directory
	}
	if dir == "" {
		dir = config.DefaultStorageDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to resolve output directory").
			WithContext("path", dir).
			Build()
	}
	return abs, nil
}

// fileURL is the base URL local index pages link assets with.
func fileURL(dir string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}
