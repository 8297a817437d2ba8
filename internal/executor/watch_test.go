package executor

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
)

func quietExecutor() *Executor {
	return New(Options{Logger: slog.New(slog.DiscardHandler), RebuildBuffer: 8, StopGrace: time.Second})
}

func watchCommand(line, ready string, timeout time.Duration) buildcmd.Command {
	return buildcmd.Command{Kind: buildcmd.KindShell, Line: line, Display: line, Watch: true, Ready: ready, Timeout: timeout}
}

type harness struct {
	sup      *supervisor
	chunks   chan Chunk
	exits    chan exitStatus
	stopping chan struct{}
}

func startHarness(cmd buildcmd.Command) *harness {
	h := &harness{
		chunks:   make(chan Chunk),
		exits:    make(chan exitStatus, 1),
		stopping: make(chan struct{}),
	}
	h.sup = quietExecutor().newSupervisor("svc", cmd, h.chunks, h.exits, h.stopping)
	go h.sup.run()
	return h
}

// collect drains every event until the supervisor exits.
func (h *harness) collect(t *testing.T) []Outcome {
	t.Helper()
	var events []Outcome
	if o, ok := <-h.sup.first; ok {
		events = append(events, o)
	}
	for o := range h.sup.rebuilds {
		events = append(events, o)
	}
	<-h.sup.done
	return events
}

func splitAt(s string, cuts []int) []string {
	points := append([]int(nil), cuts...)
	sort.Ints(points)
	var parts []string
	last := 0
	for _, p := range points {
		if p <= last || p >= len(s) {
			continue
		}
		parts = append(parts, s[last:p])
		last = p
	}
	return append(parts, s[last:])
}

func TestReadinessSplitAcrossChunksFiresOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("marker split anywhere yields exactly one finished event", prop.ForAll(
		func(prefix, suffix string, cuts []int) bool {
			text := prefix + "READY" + suffix
			h := startHarness(watchCommand("unused", "READY", time.Minute))
			for _, part := range splitAt(text, cuts) {
				h.chunks <- Chunk{Stream: Stdout, Data: part}
			}
			h.exits <- exitStatus{code: 0}
			events := h.collect(t)

			finished := 0
			for _, e := range events {
				if e.State == StateFinished {
					finished++
				}
			}
			return finished == 1 &&
				events[0].State == StateFinished &&
				strings.Contains(events[0].Stdout, "READY") &&
				events[len(events)-1].State == StateChildExit
		},
		gen.RegexMatch(`[a-z]{0,12}`),
		gen.RegexMatch(`[a-z]{0,12}`),
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.TestingRun(t)
}

func TestSupervisorTimeoutKeepsSupervising(t *testing.T) {
	h := startHarness(watchCommand("unused", "READY", 50*time.Millisecond))

	h.chunks <- Chunk{Stream: Stdout, Data: "compiling"}
	first, ok := <-h.sup.first
	require.True(t, ok)
	assert.Equal(t, StateTimeout, first.State)
	assert.False(t, first.Succeeded)
	require.ErrorIs(t, first.Err, ErrWatchTimeout)
	assert.Contains(t, first.Stderr, "Build timed out beyond 0.05 seconds, likely the project build not writing out ready text: READY")

	h.chunks <- Chunk{Stream: Stderr, Data: "warning: deprecated\n"}
	h.chunks <- Chunk{Stream: Stdout, Data: "READY\n"}
	rebuild := <-h.sup.rebuilds
	assert.Equal(t, StateFinished, rebuild.State)
	assert.True(t, rebuild.Succeeded)
	assert.NoError(t, rebuild.Err)
	assert.Equal(t, "warning: deprecated\n", rebuild.Stderr, "stderr is not a failure in watch mode")
	assert.Equal(t, []Chunk{{Stderr, "warning: deprecated\n"}, {Stdout, "READY\n"}}, rebuild.Log)

	h.exits <- exitStatus{code: 2, signal: "SIGTERM"}
	exit := <-h.sup.rebuilds
	assert.Equal(t, StateChildExit, exit.State)
	assert.Equal(t, 2, exit.ExitCode)
	require.ErrorIs(t, exit.Err, ErrWatchExited)
	assert.Contains(t, exit.Err.Error(), "exited with code 2 and signal SIGTERM")

	_, open := <-h.sup.rebuilds
	assert.False(t, open)
}

func TestSupervisorDropsEventsAfterStop(t *testing.T) {
	h := startHarness(watchCommand("unused", "READY", time.Minute))
	close(h.stopping)
	h.chunks <- Chunk{Stream: Stdout, Data: "READY"}
	h.exits <- exitStatus{code: -1}
	assert.Empty(t, h.collect(t))
}

func TestAccumulatorScanTail(t *testing.T) {
	var a accumulator
	assert.False(t, a.scan("xxRE", "READY"))
	assert.Equal(t, "xxRE", a.tail)
	assert.False(t, a.scan("A", "READY"))
	assert.True(t, a.scan("DY", "READY"))
	assert.Equal(t, "EADY", a.tail)

	var single accumulator
	assert.True(t, single.scan("a!", "!"))
	assert.Empty(t, single.tail)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func TestStartWatchDetectsReadinessAcrossChunks(t *testing.T) {
	requireShell(t)
	e := quietExecutor()
	cmd := watchCommand(`printf 'buildi'; sleep 0.1; printf 'ng... READY\n'; sleep 10`, "READY", 500*time.Millisecond)

	p, err := e.StartWatch(t.Context(), "svc", cmd, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	select {
	case out := <-p.First():
		assert.Equal(t, StateFinished, out.State)
		assert.True(t, out.Succeeded)
		assert.Contains(t, out.Stdout, "building... READY")
	case <-time.After(5 * time.Second):
		t.Fatal("no readiness event")
	}

	require.NoError(t, p.Stop(t.Context()))
	_, open := <-p.Rebuilds()
	assert.False(t, open)
	<-p.Done()
}

func TestStartWatchTimeoutLeavesProcessRunning(t *testing.T) {
	requireShell(t)
	e := quietExecutor()
	cmd := watchCommand(`echo compiling; sleep 30`, "READY", 200*time.Millisecond)

	p, err := e.StartWatch(t.Context(), "svc", cmd, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	out := <-p.First()
	assert.Equal(t, StateTimeout, out.State)
	require.True(t, errors.Is(out.Err, ErrWatchTimeout))
	assert.NoError(t, syscall.Kill(p.Pid(), 0), "watch process must still be alive")

	require.NoError(t, p.Stop(t.Context()))
	<-p.Done()
}

func TestStartWatchChildExit(t *testing.T) {
	requireShell(t)
	e := quietExecutor()
	cmd := watchCommand(`echo broken >&2; exit 3`, "READY", 5*time.Second)

	p, err := e.StartWatch(t.Context(), "svc", cmd, t.TempDir())
	require.NoError(t, err)

	out := <-p.First()
	assert.Equal(t, StateChildExit, out.State)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Stderr, "broken")
	assert.Contains(t, out.Stderr, "Watch command for svc died with code 3")
	require.ErrorIs(t, out.Err, ErrWatchExited)

	_, open := <-p.Rebuilds()
	assert.False(t, open)
}

func TestStartWatchRejectsOneShotCommands(t *testing.T) {
	_, err := quietExecutor().StartWatch(t.Context(), "svc", buildcmd.Command{Kind: buildcmd.KindExec, Executable: "true"}, ".")
	require.Error(t, err)
}
