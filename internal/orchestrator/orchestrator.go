// Package orchestrator fans service builds out over a bounded worker pool,
// skipping builds whose outputs already exist.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	"git.home.luguber.info/inful/assetbuilder/internal/executor"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

// Policy decides what a failed build does to the rest of the run.
type Policy int

const (
	// PolicyStrict stops queueing work at the first failure and returns it.
	PolicyStrict Policy = iota
	// PolicyTolerant collects failures and keeps going.
	PolicyTolerant
)

// Runner starts build processes. *executor.Executor implements it.
type Runner interface {
	RunOnce(ctx context.Context, service string, cmd buildcmd.Command, dir string) executor.Outcome
	StartWatch(ctx context.Context, service string, cmd buildcmd.Command, dir string) (*executor.WatchProcess, error)
}

// Options controls one Run.
type Options struct {
	BuildNumber string
	TagFilter   string
	FileTypes   []string
	Policy      Policy
	// Watch starts watch commands for services matching WatchPattern
	// (every service when nil).
	Watch        bool
	WatchPattern *regexp.Regexp
	// ReloadOnly assumes watch processes are already running elsewhere.
	ReloadOnly bool
}

func (o Options) watches(name string) bool {
	if !o.Watch {
		return false
	}
	return o.WatchPattern == nil || o.WatchPattern.MatchString(name)
}

// Failure is one failed service build.
type Failure struct {
	Service string
	Err     error
}

// ServiceResult is the outcome for one service.
type ServiceResult struct {
	Service string
	Skipped bool
	Watched bool
	// Canceled is set when strict mode stopped the run before this service started.
	Canceled bool
	Outcome  *executor.Outcome
	Records  []assets.Record
	Err      error
}

// Result aggregates a Run in input order.
type Result struct {
	Services []ServiceResult
	Failures []Failure
	// Watches are the watch processes still running. The caller consumes
	// their rebuilds and stops them.
	Watches []*executor.WatchProcess
}

// Records returns the post-build records of every service, in input order.
func (r *Result) Records() []assets.Record {
	var out []assets.Record
	for _, s := range r.Services {
		out = append(out, s.Records...)
	}
	return out
}

// Succeeded returns the number of services that did not fail.
func (r *Result) Succeeded() int {
	n := 0
	for _, s := range r.Services {
		if s.Err == nil && !s.Canceled {
			n++
		}
	}
	return n
}

// Failed returns the number of failed services.
func (r *Result) Failed() int {
	return len(r.Failures)
}

// Config wires an Orchestrator.
type Config struct {
	Runner       Runner
	Enumerator   *assets.Enumerator
	Shim         buildcmd.Shim
	Interpreters InterpreterSource
	Workers      int
	Metrics      metrics.Recorder
	History      *eventstore.Recorder
	Logger       *slog.Logger
}

// Orchestrator runs the builds of many services.
type Orchestrator struct {
	runner       Runner
	enumerator   *assets.Enumerator
	shim         buildcmd.Shim
	interpreters InterpreterSource
	workers      int
	metrics      metrics.Recorder
	history      *eventstore.Recorder
	logger       *slog.Logger
}

// New returns an Orchestrator. Workers below one run builds sequentially.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		runner:       cfg.Runner,
		enumerator:   cfg.Enumerator,
		shim:         cfg.Shim,
		interpreters: cfg.Interpreters,
		workers:      cfg.Workers,
		metrics:      metrics.OrNoop(cfg.Metrics),
		history:      cfg.History,
		logger:       cfg.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.enumerator == nil {
		o.enumerator = assets.NewEnumerator(o.logger)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// Run builds services. In strict mode the first failure is returned along
// with the partial result; builds already started run to completion.
func (o *Orchestrator) Run(ctx context.Context, services []*manifest.Service, opts Options) (*Result, error) {
	start := time.Now()
	results := make([]ServiceResult, len(services))
	var (
		mu       sync.Mutex
		failures []indexedFailure
		watches  []*executor.WatchProcess
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, svc := range services {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = ServiceResult{Service: svc.Name, Canceled: true}
				return nil
			}
			// Watch processes belong to the caller's ctx, not the pool's.
			res, watch := o.buildService(ctx, svc, opts)
			results[i] = res
			if watch != nil {
				mu.Lock()
				watches = append(watches, watch)
				mu.Unlock()
			}
			if res.Err == nil {
				return nil
			}
			if opts.Policy == PolicyStrict {
				return res.Err
			}
			mu.Lock()
			failures = append(failures, indexedFailure{index: i, Failure: Failure{Service: svc.Name, Err: res.Err}})
			mu.Unlock()
			return nil
		})
	}
	// A strict failure only cancels queued work; Wait still joins every
	// build in flight so results is not written after Run returns.
	runErr := g.Wait()

	sort.Slice(failures, func(a, b int) bool { return failures[a].index < failures[b].index })
	result := &Result{Services: results, Watches: watches}
	for _, f := range failures {
		result.Failures = append(result.Failures, f.Failure)
	}
	if runErr != nil {
		for _, s := range results {
			if s.Err != nil {
				result.Failures = append(result.Failures, Failure{Service: s.Service, Err: s.Err})
			}
		}
	}

	o.metrics.ObserveStageDuration(metrics.StageBuild, time.Since(start))
	o.summarize(result)
	if runErr != nil {
		o.metrics.IncStageResult(metrics.StageBuild, metrics.ResultFailed)
		return result, runErr
	}
	if len(result.Failures) > 0 {
		o.metrics.IncStageResult(metrics.StageBuild, metrics.ResultWarning)
	} else {
		o.metrics.IncStageResult(metrics.StageBuild, metrics.ResultSuccess)
	}
	return result, nil
}

type indexedFailure struct {
	index int
	Failure
}

func (o *Orchestrator) summarize(r *Result) {
	total := 0
	for _, s := range r.Services {
		if !s.Canceled {
			total++
		}
	}
	o.logger.Info(fmt.Sprintf("%d out of %d succeeded.", r.Succeeded(), total))
	if len(r.Failures) == 0 {
		return
	}
	o.logger.Error(fmt.Sprintf("%d out of %d failed:", len(r.Failures), total))
	for _, f := range r.Failures {
		o.logger.Error(fmt.Sprintf("%s: %s", f.Service, strings.TrimSpace(foundationerrors.UserMessage(f.Err))))
	}
}

func (o *Orchestrator) buildService(ctx context.Context, svc *manifest.Service, opts Options) (ServiceResult, *executor.WatchProcess) {
	res := ServiceResult{Service: svc.Name}
	enumOpts := assets.EnumerateOptions{
		BuildNumber: opts.BuildNumber,
		TagFilter:   opts.TagFilter,
		FileTypes:   opts.FileTypes,
	}

	enumStart := time.Now()
	pre := o.enumerator.Enumerate(svc, enumOpts)
	o.metrics.ObserveStageDuration(metrics.StageEnumerate, time.Since(enumStart))

	watched := opts.watches(svc.Name)
	res.Watched = watched
	var watch *executor.WatchProcess

	switch {
	case svc.Build == nil:
		res.Skipped = true
		o.skip(ctx, svc.Name, "no build configured")
	case !watched && !assets.NeedsBuild(pre):
		res.Skipped = true
		o.logger.Info(fmt.Sprintf("Skipping build for %s as assets already exist, add to watch list if you want it compiled.", svc.Name),
			logfields.Service(svc.Name))
		o.skip(ctx, svc.Name, "assets exist")
	case watched && opts.ReloadOnly:
		res.Skipped = true
		o.logger.Warn(fmt.Sprintf("Not spawning watch command for %s: change is triggered by external build tool", svc.Name),
			logfields.Service(svc.Name))
		o.skip(ctx, svc.Name, "reload only")
	default:
		var (
			cmd buildcmd.Command
			out executor.Outcome
		)
		cmd, out, watch, res.Err = o.execute(ctx, svc, watched)
		if out.Service != "" {
			res.Outcome = &out
		}
		o.record(ctx, svc.Name, cmd, out, res.Err)
	}

	enumOpts.WarnMissing = true
	res.Records = o.enumerator.Enumerate(svc, enumOpts)
	return res, watch
}

func (o *Orchestrator) execute(ctx context.Context, svc *manifest.Service, watched bool) (buildcmd.Command, executor.Outcome, *executor.WatchProcess, error) {
	var interpreter string
	if o.interpreters != nil {
		var err error
		interpreter, err = o.interpreters.Interpreter(svc.Dir)
		if err != nil {
			return buildcmd.Command{}, executor.Outcome{}, nil, err
		}
		if interpreter != "" {
			o.logger.Debug("Using interpreter version", logfields.Service(svc.Name), slog.String("version", interpreter))
		}
	}

	cmd, err := buildcmd.Resolve(*svc.Build, interpreter, watched, o.shim)
	if err != nil {
		return cmd, executor.Outcome{}, nil, err
	}

	if !watched {
		out := o.runner.RunOnce(ctx, svc.Name, cmd, svc.Dir)
		return cmd, out, nil, out.Err
	}

	p, err := o.runner.StartWatch(ctx, svc.Name, cmd, svc.Dir)
	if err != nil {
		return cmd, executor.Outcome{}, nil, err
	}
	select {
	case out, ok := <-p.First():
		if !ok {
			return cmd, executor.Outcome{}, nil, fmt.Errorf("watch for %s stopped before its first build: %w", svc.Name, context.Canceled)
		}
		o.metrics.IncWatchEvent(svc.Name, string(out.State))
		if out.State == executor.StateChildExit {
			return cmd, out, nil, out.Err
		}
		// A timed out first build leaves the process running for later rebuilds.
		return cmd, out, p, out.Err
	case <-ctx.Done():
		_ = p.Stop(context.WithoutCancel(ctx))
		return cmd, executor.Outcome{}, nil, ctx.Err()
	}
}

func (o *Orchestrator) skip(ctx context.Context, service, reason string) {
	o.metrics.ObserveServiceBuild(service, 0, metrics.ResultSkipped)
	o.history.ServiceSkipped(ctx, service, reason)
}

func (o *Orchestrator) record(ctx context.Context, service string, cmd buildcmd.Command, out executor.Outcome, err error) {
	if err == nil {
		o.metrics.ObserveServiceBuild(service, out.Duration, metrics.ResultSuccess)
		o.history.ServiceBuilt(ctx, service, string(out.State), out.Duration, cmd)
		return
	}
	label := metrics.ResultFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		label = metrics.ResultCanceled
	}
	o.metrics.ObserveServiceBuild(service, out.Duration, label)
	state := string(out.State)
	if state == "" {
		state = string(executor.StateFailed)
	}
	o.history.ServiceFailed(ctx, eventstore.ServiceFailed{
		Service:    service,
		State:      state,
		ExitCode:   out.ExitCode,
		Error:      strings.TrimSpace(foundationerrors.UserMessage(err)),
		DurationMS: out.Duration.Milliseconds(),
	}, cmd)
}
