// Package executor runs service build commands, either to completion or as
// supervised watch processes whose readiness is read from their output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/buildcmd"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// State is the terminal state of one build event.
type State string

const (
	StateStarting  State = "starting"
	StateFinished  State = "finished"
	StateTimeout   State = "timeout"
	StateChildExit State = "child-exit"
	// StateCompleted and StateFailed close one-shot runs.
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stream names an output stream of the child.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is one delivery of child output.
type Chunk struct {
	Stream Stream
	Data   string
}

// Outcome is the result of a one-shot run or of one watch event.
type Outcome struct {
	Service   string
	Succeeded bool
	Err       error
	Stdout    string
	Stderr    string
	// Log keeps both streams in arrival order (watch mode only).
	Log      []Chunk
	ExitCode int
	Signal   string
	State    State
	Duration time.Duration
}

// Options configures an Executor.
type Options struct {
	// Shell runs string commands with "-c"; defaults to /bin/sh.
	Shell string
	// StopGrace is the wait between SIGTERM and SIGKILL when stopping a watch.
	StopGrace time.Duration
	// Verbose streams child output to the debug log.
	Verbose bool
	// RebuildBuffer sizes the rebuild event channel of watch processes.
	RebuildBuffer int
	Logger        *slog.Logger
}

// Executor starts build processes.
type Executor struct {
	shell         string
	stopGrace     time.Duration
	verbose       bool
	rebuildBuffer int
	logger        *slog.Logger
}

// New returns an Executor with defaults applied.
func New(opts Options) *Executor {
	e := &Executor{
		shell:         opts.Shell,
		stopGrace:     opts.StopGrace,
		verbose:       opts.Verbose,
		rebuildBuffer: opts.RebuildBuffer,
		logger:        opts.Logger,
	}
	if e.shell == "" {
		e.shell = "/bin/sh"
	}
	if e.stopGrace <= 0 {
		e.stopGrace = 5 * time.Second
	}
	if e.rebuildBuffer <= 0 {
		e.rebuildBuffer = 16
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// RunOnce runs cmd in dir to completion. It succeeds on exit code 0 with an
// empty stderr. ctx is only checked before the process starts; a started
// process is never killed by cancellation.
func (e *Executor) RunOnce(ctx context.Context, service string, cmd buildcmd.Command, dir string) Outcome {
	out := Outcome{Service: service, State: StateFailed, ExitCode: -1}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	var c *exec.Cmd
	switch cmd.Kind {
	case buildcmd.KindExec:
		c = exec.Command(cmd.Executable, cmd.Args...) //nolint:gosec // commands come from service manifests
	case buildcmd.KindShell:
		c = exec.Command(e.shell, "-c", cmd.Line) //nolint:gosec // commands come from service manifests
	default:
		out.Err = foundationerrors.InternalError(fmt.Sprintf("unknown command kind %d", cmd.Kind)).Build()
		return out
	}
	c.Dir = dir

	var stdout, stderr bytes.Buffer
	c.Stdout = e.tee(&stdout, service, Stdout)
	c.Stderr = e.tee(&stderr, service, Stderr)

	e.logger.Info("Running build command", logfields.Service(service), logfields.Command(cmd.Display))
	start := time.Now()
	runErr := c.Run()
	out.Duration = time.Since(start)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	if runErr == nil {
		out.ExitCode = 0
	} else {
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			out.ExitCode = ee.ExitCode()
			out.Signal = exitSignal(ee)
		}
	}

	if runErr == nil && out.Stderr == "" {
		out.Succeeded = true
		out.State = StateCompleted
	} else {
		out.Err = oneShotError(service, cmd, out, runErr)
	}
	e.report(out)
	return out
}

func oneShotError(service string, cmd buildcmd.Command, out Outcome, runErr error) error {
	var msg string
	switch {
	case runErr == nil:
		msg = fmt.Sprintf("build command for %s wrote to stderr", service)
	case out.ExitCode < 0 && out.Signal == "":
		msg = fmt.Sprintf("build command for %s could not run", service)
	default:
		msg = fmt.Sprintf("build command for %s exited with code %d", service, out.ExitCode)
		if out.Signal != "" {
			msg += " and signal " + out.Signal
		}
	}
	if detail := strings.TrimSpace(out.Stderr); detail != "" {
		msg += ": " + detail
	}
	b := foundationerrors.BuildExecutionError(msg).
		WithContext("service", service).
		WithContext("command", cmd.Display).
		WithContext("exit_code", out.ExitCode)
	if runErr != nil {
		b = b.WithCause(runErr)
	}
	return b.Build()
}

// tee copies child output into buf and, in verbose mode, to the debug log.
func (e *Executor) tee(buf *bytes.Buffer, service string, stream Stream) io.Writer {
	if !e.verbose {
		return buf
	}
	return io.MultiWriter(buf, &logWriter{logger: e.logger, service: service, stream: stream})
}

// report logs an outcome. Failed output is echoed unless it was already
// streamed in verbose mode.
func (e *Executor) report(out Outcome) {
	attrs := []any{logfields.Service(out.Service), slog.String("state", string(out.State)), logfields.DurationMS(float64(out.Duration.Milliseconds()))}
	hasStderr := out.Stderr != ""
	switch {
	case out.Err != nil:
		if out.ExitCode >= 0 {
			attrs = append(attrs, slog.Int("exit_code", out.ExitCode))
		}
		if out.Signal != "" {
			attrs = append(attrs, slog.String("signal", out.Signal))
		}
		e.logger.Error("Failed build command", append(attrs, logfields.Error(out.Err))...)
	case hasStderr:
		e.logger.Warn("Finished build command with stderr", attrs...)
	default:
		e.logger.Info("Finished build command", attrs...)
	}

	if (out.Err != nil || hasStderr) && !e.verbose {
		if out.Stdout != "" {
			e.logger.Info(strings.TrimRight(out.Stdout, "\n"), logfields.Service(out.Service), slog.String("stream", string(Stdout)))
		}
		if hasStderr {
			e.logger.Error(strings.TrimRight(out.Stderr, "\n"), logfields.Service(out.Service), slog.String("stream", string(Stderr)))
		}
	}
}

type logWriter struct {
	logger  *slog.Logger
	service string
	stream  Stream
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug(strings.TrimRight(string(p), "\n"), logfields.Service(w.service), slog.String("stream", string(w.stream)))
	return len(p), nil
}
