package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Tag           string `arg:"" optional:"" help:"Only publish assets of this bundle tag"`
	Environment   string `short:"e" help:"Environment to publish to (defaults to the configured environment)"`
	Build         string `short:"b" help:"Build number used in asset keys"`
	Yes           bool   `short:"y" help:"Do not ask for confirmation"`
	Service       string `help:"Publish a single service; the index page is not uploaded"`
	IgnoreFailure bool   `name:"ignore-failure" help:"Keep going when a service build fails"`
	RepoTag       string `name:"repo-tag" help:"Only include services carrying this manifest tag"`
}

func (p *PublishCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	environment := p.Environment
	if environment == "" {
		environment = cfg.Environment
	}

	if !p.Yes {
		ok, err := Confirm(g.in(), g.out(), confirmMessage(p.Tag, environment))
		if err != nil {
			return err
		}
		if !ok {
			return foundationerrors.ValidationError("Not confirmed").Build()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunPublish(ctx, g, cfg, p, environment, root.Verbose)
}

// RunPublish runs the full publish pipeline for the selected services.
func RunPublish(ctx context.Context, g *Global, cfg *config.Config, p *PublishCmd, environment string, verbose bool) error {
	services, err := loadServices(cfg, p.Service, p.RepoTag)
	if err != nil {
		return err
	}
	buildNumber, err := resolveBuildNumber(cfg, p.Build)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, setupOptions{
		Command:     "publish",
		Environment: environment,
		Notify:      true,
		Verbose:     verbose,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.Run(ctx, services, pipeline.Options{
		Command:         "publish",
		Environment:     environment,
		BuildNumber:     buildNumber,
		Tag:             p.Tag,
		Service:         p.Service,
		CDNURL:          cfg.Publish.CDNURL,
		Policy:          policyFor(p.IgnoreFailure),
		ConcatenateOnly: cfg.Assets.ConcatenateOnly,
		FileTypes:       cfg.Assets.FileTypes,
	})
	if report != nil {
		_ = report.WriteSummary(g.out())
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.out(), "Done")
	return nil
}
