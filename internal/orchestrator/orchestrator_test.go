package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	"git.home.luguber.info/inful/assetbuilder/internal/executor"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

var fileTypes = []string{"js", "css", "img"}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	commands []buildcmd.Command
	fail     map[string]bool
}

func (f *fakeRunner) RunOnce(_ context.Context, service string, cmd buildcmd.Command, _ string) executor.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, service)
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.fail[service] {
		return executor.Outcome{Service: service, State: executor.StateFailed, ExitCode: 1, Err: errors.New("  build broke \n")}
	}
	return executor.Outcome{Service: service, Succeeded: true, State: executor.StateCompleted}
}

func (f *fakeRunner) StartWatch(context.Context, string, buildcmd.Command, string) (*executor.WatchProcess, error) {
	return nil, errors.New("watch not supported by fake")
}

func (f *fakeRunner) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func service(t *testing.T, name, body string) *manifest.Service {
	t.Helper()
	svc, err := manifest.Parse([]byte(body))
	require.NoError(t, err)
	svc.Dir = t.TempDir()
	svc.Name = name
	svc.Repo = name
	return svc
}

const jsManifest = `
build:
  command: npm run build
assets:
  basePath: dist
  js:
    top: [app.js]
`

func newOrchestrator(runner Runner, workers int) *Orchestrator {
	return New(Config{Runner: runner, Workers: workers})
}

func TestRunSkipsServicesWithExistingAssets(t *testing.T) {
	svc := service(t, "web", jsManifest)
	writeFile(t, svc.Dir, "dist/app.js", "var a;")
	runner := &fakeRunner{}

	result, err := newOrchestrator(runner, 2).Run(t.Context(), []*manifest.Service{svc}, Options{BuildNumber: "1", FileTypes: fileTypes})
	require.NoError(t, err)

	assert.Empty(t, runner.called())
	require.Len(t, result.Services, 1)
	assert.True(t, result.Services[0].Skipped)
	assert.Len(t, result.Records(), 1)
	assert.Equal(t, 1, result.Succeeded())
}

func TestRunSkipsServicesWithoutBuild(t *testing.T) {
	svc := service(t, "static", "assets:\n  js:\n    top: [missing.js]\n")
	runner := &fakeRunner{}

	result, err := newOrchestrator(runner, 1).Run(t.Context(), []*manifest.Service{svc}, Options{FileTypes: fileTypes})
	require.NoError(t, err)
	assert.Empty(t, runner.called())
	assert.True(t, result.Services[0].Skipped)
}

func TestRunMissingAssetIsErrorRecordNotFailure(t *testing.T) {
	svc := service(t, "images", `
build:
  command: "true"
assets:
  basePath: dist
  img:
    top: ["assets/*.png"]
`)
	runner := &fakeRunner{}

	result, err := newOrchestrator(runner, 1).Run(t.Context(), []*manifest.Service{svc}, Options{BuildNumber: "3", FileTypes: fileTypes})
	require.NoError(t, err)

	assert.Equal(t, []string{"images"}, runner.called())
	assert.Empty(t, result.Failures)
	records := result.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].IsError())
	assert.True(t, strings.HasSuffix(records[0].Message, "No matching files found."))
}

func TestRunStrictStopsQueuedWork(t *testing.T) {
	services := []*manifest.Service{
		service(t, "a", jsManifest),
		service(t, "b", jsManifest),
		service(t, "c", jsManifest),
	}
	runner := &fakeRunner{fail: map[string]bool{"a": true}}

	result, err := newOrchestrator(runner, 1).Run(t.Context(), services, Options{FileTypes: fileTypes, Policy: PolicyStrict})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build broke")

	assert.Equal(t, []string{"a"}, runner.called())
	require.NotNil(t, result)
	assert.True(t, result.Services[1].Canceled)
	assert.True(t, result.Services[2].Canceled)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "a", result.Failures[0].Service)
}

// gatedRunner fails "a" once "b" is running and holds "b" until release.
type gatedRunner struct {
	fakeRunner
	started chan struct{}
	release chan struct{}
}

func (g *gatedRunner) RunOnce(ctx context.Context, service string, cmd buildcmd.Command, dir string) executor.Outcome {
	switch service {
	case "a":
		<-g.started
	case "b":
		close(g.started)
		<-g.release
	}
	return g.fakeRunner.RunOnce(ctx, service, cmd, dir)
}

func TestRunStrictWaitsForBuildsInFlight(t *testing.T) {
	services := []*manifest.Service{
		service(t, "a", jsManifest),
		service(t, "b", jsManifest),
	}
	runner := &gatedRunner{
		fakeRunner: fakeRunner{fail: map[string]bool{"a": true}},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}

	type runResult struct {
		result *Result
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := newOrchestrator(runner, 2).Run(t.Context(), services, Options{FileTypes: fileTypes, Policy: PolicyStrict})
		done <- runResult{result, err}
	}()

	<-runner.started
	assert.Never(t, func() bool { return len(done) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	close(runner.release)

	var got runResult
	select {
	case got = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("strict run did not return")
	}
	require.Error(t, got.err)
	require.NotNil(t, got.result)
	assert.False(t, got.result.Services[1].Canceled)
	assert.NoError(t, got.result.Services[1].Err)
	assert.ElementsMatch(t, []string{"a", "b"}, runner.called())
}

func TestRunTolerantCollectsFailuresInInputOrder(t *testing.T) {
	services := []*manifest.Service{
		service(t, "a", jsManifest),
		service(t, "b", jsManifest),
		service(t, "c", jsManifest),
	}
	runner := &fakeRunner{fail: map[string]bool{"a": true, "c": true}}

	result, err := newOrchestrator(runner, 3).Run(t.Context(), services, Options{FileTypes: fileTypes, Policy: PolicyTolerant})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, runner.called())
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "a", result.Failures[0].Service)
	assert.Equal(t, "c", result.Failures[1].Service)
	assert.Equal(t, 1, result.Succeeded())
	// Failed builds are still re-enumerated.
	for _, s := range result.Services {
		assert.Len(t, s.Records, 1, s.Service)
	}
}

func TestRunAppliesInterpreterShim(t *testing.T) {
	svc := service(t, "web", jsManifest)
	writeFile(t, svc.Dir, ".nvmrc", "v20.11.0\n")
	runner := &fakeRunner{}
	orch := New(Config{
		Runner:       runner,
		Workers:      1,
		Interpreters: VersionFile{},
		Shim:         buildcmd.PrefixShim{UsePrefix: "nvm use {version} && ", DefaultPrefix: "nvm use default && "},
	})

	_, err := orch.Run(t.Context(), []*manifest.Service{svc}, Options{FileTypes: fileTypes})
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "nvm use v20.11.0 && npm run build", runner.commands[0].Line)
}

func TestVersionFileMissingSelectsDefault(t *testing.T) {
	version, err := VersionFile{}.Interpreter(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, version)
}

func TestRunReloadOnlyDoesNotSpawnWatch(t *testing.T) {
	svc := service(t, "web", jsManifest)
	writeFile(t, svc.Dir, "dist/app.js", "var a;")
	runner := &fakeRunner{}

	result, err := newOrchestrator(runner, 1).Run(t.Context(), []*manifest.Service{svc}, Options{
		FileTypes:  fileTypes,
		Watch:      true,
		ReloadOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, runner.called())
	assert.True(t, result.Services[0].Skipped)
	assert.True(t, result.Services[0].Watched)
	assert.Empty(t, result.Watches)
}

func TestRunRecordsHistory(t *testing.T) {
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	built := service(t, "a", jsManifest)
	skipped := service(t, "b", jsManifest)
	writeFile(t, skipped.Dir, "dist/app.js", "var b;")
	failed := service(t, "c", jsManifest)
	runner := &fakeRunner{fail: map[string]bool{"c": true}}

	orch := New(Config{Runner: runner, Workers: 1, History: eventstore.NewRecorder(store, "run-1", nil)})
	_, err = orch.Run(t.Context(), []*manifest.Service{built, skipped, failed}, Options{FileTypes: fileTypes, Policy: PolicyTolerant})
	require.NoError(t, err)

	runs, err := eventstore.ListRuns(t.Context(), store, time.Now().Add(-time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"a"}, runs[0].Built)
	assert.Equal(t, []string{"b"}, runs[0].Skipped)
	assert.Equal(t, "build broke", runs[0].Failed["c"])
}

func TestRunStartsWatchAndHandsItBack(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	svc := service(t, "watched", `
build:
  command: "false"
  watch:
    command: "echo building; echo ready-now; exec sleep 30"
    ready: ready-now
    timeout: 5000
assets:
  js:
    top: [app.js]
`)
	writeFile(t, svc.Dir, "app.js", "var w;")
	exe := executor.New(executor.Options{StopGrace: time.Second})
	orch := newOrchestrator(exe, 2)

	result, err := orch.Run(t.Context(), []*manifest.Service{svc}, Options{
		FileTypes:    fileTypes,
		Watch:        true,
		WatchPattern: regexp.MustCompile("^watch"),
	})
	require.NoError(t, err)
	require.Len(t, result.Watches, 1)
	p := result.Watches[0]
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	out := result.Services[0].Outcome
	require.NotNil(t, out)
	assert.Equal(t, executor.StateFinished, out.State)
	assert.Contains(t, out.Stdout, "building")

	require.NoError(t, p.Stop(t.Context()))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watch process did not stop")
	}
	assert.Equal(t, []assets.Record{}, filterErrors(result.Records()))
}

func filterErrors(records []assets.Record) []assets.Record {
	out := []assets.Record{}
	for _, r := range records {
		if r.IsError() {
			out = append(out, r)
		}
	}
	return out
}
