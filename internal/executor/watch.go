package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

var (
	// ErrWatchTimeout marks an event where the readiness marker did not appear in time.
	ErrWatchTimeout = errors.New("watch build timed out")
	// ErrWatchExited marks the event emitted when the watch process exits.
	ErrWatchExited = errors.New("watch process exited")
)

// WatchProcess is a running watch command. The first event is delivered on
// First, every later one on Rebuilds.
type WatchProcess struct {
	Service string

	cmd      *exec.Cmd
	grace    time.Duration
	first    chan Outcome
	rebuilds chan Outcome
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// First delivers exactly the first event and is then closed. It is closed
// without a value when the process is stopped before any event.
func (p *WatchProcess) First() <-chan Outcome { return p.first }

// Rebuilds delivers events after the first. It is closed once the process
// has exited.
func (p *WatchProcess) Rebuilds() <-chan Outcome { return p.rebuilds }

// Done is closed when the supervisor has finished.
func (p *WatchProcess) Done() <-chan struct{} { return p.done }

// Pid returns the process id of the shell.
func (p *WatchProcess) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop terminates the process group, escalating to SIGKILL after the grace
// period, and waits for the supervisor. It is safe to call more than once.
func (p *WatchProcess) Stop(ctx context.Context) error {
	var sigErr error
	p.stopOnce.Do(func() {
		close(p.stopping)
		if p.cmd != nil {
			sigErr = terminate(p.cmd)
		}
	})

	grace := time.NewTimer(p.grace)
	defer grace.Stop()
	select {
	case <-p.done:
		return sigErr
	case <-grace.C:
	case <-ctx.Done():
	}
	if p.cmd != nil {
		if err := kill(p.cmd); err != nil && sigErr == nil {
			sigErr = err
		}
	}
	select {
	case <-p.done:
		return sigErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

type exitStatus struct {
	code   int
	signal string
	err    error
}

// StartWatch spawns cmd through the shell in its own process group and
// supervises its output. Cancelling ctx stops the process.
func (e *Executor) StartWatch(ctx context.Context, service string, cmd buildcmd.Command, dir string) (*WatchProcess, error) {
	if cmd.Kind != buildcmd.KindShell || !cmd.Watch {
		return nil, foundationerrors.ValidationError("watch requires a shell watch command").
			WithContext("service", service).
			Build()
	}

	c := exec.Command(e.shell, "-c", cmd.Line) //nolint:gosec // commands come from service manifests
	c.Dir = dir
	setProcessGroup(c)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, startError(service, cmd, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, startError(service, cmd, err)
	}

	e.logger.Info("Spawning watch command", logfields.Service(service), logfields.Command(cmd.Display))
	if err := c.Start(); err != nil {
		return nil, startError(service, cmd, err)
	}

	chunks := make(chan Chunk)
	exits := make(chan exitStatus, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go readStream(stdout, Stdout, chunks, &readers)
	go readStream(stderr, Stderr, chunks, &readers)
	go func() {
		// Every chunk has been received before the exit is reported.
		readers.Wait()
		exits <- waitStatus(c.Wait())
	}()

	p := &WatchProcess{
		Service:  service,
		cmd:      c,
		grace:    e.stopGrace,
		stopping: make(chan struct{}),
	}
	sup := e.newSupervisor(service, cmd, chunks, exits, p.stopping)
	p.first, p.rebuilds, p.done = sup.first, sup.rebuilds, sup.done
	go sup.run()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop(context.WithoutCancel(ctx))
		case <-p.done:
		}
	}()
	return p, nil
}

func startError(service string, cmd buildcmd.Command, err error) error {
	return foundationerrors.BuildExecutionError(fmt.Sprintf("failed to start watch command for %s", service)).
		WithCause(err).
		WithContext("service", service).
		WithContext("command", cmd.Display).
		Build()
}

func readStream(r io.Reader, stream Stream, out chan<- Chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out <- Chunk{Stream: stream, Data: string(buf[:n])}
		}
		if err != nil {
			return
		}
	}
}

func waitStatus(err error) exitStatus {
	if err == nil {
		return exitStatus{code: 0}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return exitStatus{code: ee.ExitCode(), signal: exitSignal(ee), err: err}
	}
	return exitStatus{code: -1, err: err}
}

// accumulator collects the output of one build event.
type accumulator struct {
	log    []Chunk
	stdout strings.Builder
	stderr strings.Builder
	tail   string
}

func (a *accumulator) empty() bool { return len(a.log) == 0 }

func (a *accumulator) add(c Chunk) {
	a.log = append(a.log, c)
	if c.Stream == Stderr {
		a.stderr.WriteString(c.Data)
	} else {
		a.stdout.WriteString(c.Data)
	}
}

// scan reports whether marker occurs in data joined to the retained tail of
// earlier output, then keeps the last len(marker)-1 bytes as the new tail.
func (a *accumulator) scan(data, marker string) bool {
	window := a.tail + data
	found := strings.Contains(window, marker)
	keep := len(marker) - 1
	switch {
	case keep <= 0:
		a.tail = ""
	case len(window) > keep:
		a.tail = window[len(window)-keep:]
	default:
		a.tail = window
	}
	return found
}

// supervisor owns the accumulator and timer of one watch process. Only its
// run goroutine touches them.
type supervisor struct {
	service  string
	cmd      buildcmd.Command
	logger   *slog.Logger
	report   func(Outcome)
	verbose  bool
	chunks   <-chan Chunk
	exits    <-chan exitStatus
	stopping <-chan struct{}

	first    chan Outcome
	rebuilds chan Outcome
	done     chan struct{}

	acc       accumulator
	started   time.Time
	timer     *time.Timer
	timerC    <-chan time.Time
	firstSent bool
}

func (e *Executor) newSupervisor(service string, cmd buildcmd.Command, chunks <-chan Chunk, exits <-chan exitStatus, stopping <-chan struct{}) *supervisor {
	return &supervisor{
		service:  service,
		cmd:      cmd,
		logger:   e.logger,
		report:   e.report,
		verbose:  e.verbose,
		chunks:   chunks,
		exits:    exits,
		stopping: stopping,
		first:    make(chan Outcome, 1),
		rebuilds: make(chan Outcome, e.rebuildBuffer),
		done:     make(chan struct{}),
	}
}

func (s *supervisor) run() {
	defer close(s.done)
	defer close(s.rebuilds)
	defer func() {
		if !s.firstSent {
			close(s.first)
		}
	}()
	defer s.disarm()

	for {
		select {
		case c := <-s.chunks:
			s.onChunk(c)
		case <-s.timerC:
			s.onTimeout()
		case st := <-s.exits:
			s.onExit(st)
			return
		}
	}
}

func (s *supervisor) onChunk(c Chunk) {
	if c.Data == "" {
		return
	}
	if s.acc.empty() {
		s.started = time.Now()
		s.logger.Info("Started build command", logfields.Service(s.service))
		s.timer = time.NewTimer(s.cmd.Timeout)
		s.timerC = s.timer.C
	}
	s.acc.add(c)
	if s.verbose {
		s.logger.Debug(strings.TrimRight(c.Data, "\n"), logfields.Service(s.service), slog.String("stream", string(c.Stream)))
	}
	if s.acc.scan(c.Data, s.cmd.Ready) {
		s.complete(StateFinished, nil)
	}
}

func (s *supervisor) onTimeout() {
	msg := fmt.Sprintf("Build timed out beyond %g seconds, likely the project build not writing out ready text: %s\n",
		s.cmd.Timeout.Seconds(), s.cmd.Ready)
	s.acc.add(Chunk{Stream: Stderr, Data: msg})
	err := foundationerrors.BuildExecutionError(strings.TrimSpace(msg)).
		WithCause(ErrWatchTimeout).
		WithContext("service", s.service).
		WithContext("ready", s.cmd.Ready).
		Build()
	s.complete(StateTimeout, err)
}

func (s *supervisor) onExit(st exitStatus) {
	if s.acc.empty() {
		s.started = time.Now()
	}
	s.acc.add(Chunk{Stream: Stderr, Data: fmt.Sprintf("Watch command for %s died with code %d\n", s.service, st.code)})
	msg := fmt.Sprintf("Watch process exited with code %d and signal %s", st.code, signalOrNone(st.signal))
	b := foundationerrors.BuildExecutionError(msg).
		WithCause(ErrWatchExited).
		WithContext("service", s.service).
		WithContext("exit_code", st.code)
	out := s.snapshot(StateChildExit, b.Build())
	out.ExitCode = st.code
	out.Signal = st.signal
	s.reset()
	s.emit(out)
}

func (s *supervisor) complete(state State, err error) {
	out := s.snapshot(state, err)
	s.reset()
	s.emit(out)
}

func (s *supervisor) snapshot(state State, err error) Outcome {
	out := Outcome{
		Service:   s.service,
		Succeeded: state == StateFinished,
		Err:       err,
		Stdout:    s.acc.stdout.String(),
		Stderr:    s.acc.stderr.String(),
		Log:       append([]Chunk(nil), s.acc.log...),
		State:     state,
		ExitCode:  -1,
	}
	if !s.started.IsZero() {
		out.Duration = time.Since(s.started)
	}
	return out
}

func (s *supervisor) reset() {
	s.disarm()
	s.acc = accumulator{}
	s.started = time.Time{}
}

func (s *supervisor) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.timerC = nil
}

// emit hands the event to First or Rebuilds. Events raised after Stop are
// dropped, as are rebuilds a slow consumer has not drained.
func (s *supervisor) emit(out Outcome) {
	select {
	case <-s.stopping:
		return
	default:
	}
	s.report(out)
	if !s.firstSent {
		s.firstSent = true
		s.first <- out
		close(s.first)
		return
	}
	select {
	case s.rebuilds <- out:
	default:
		s.logger.Warn("Dropping rebuild event, consumer is not keeping up",
			logfields.Service(s.service), slog.String("state", string(out.State)))
	}
}

func signalOrNone(sig string) string {
	if sig == "" {
		return "none"
	}
	return sig
}
