// Package buildcmd resolves a service's declarative build config into a
// command descriptor.
package buildcmd

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

const (
	// DefaultReady is the readiness marker used when the watch config has none.
	DefaultReady = "finished"
	// DefaultTimeout bounds the wait for the readiness marker.
	DefaultTimeout = 10 * time.Second
)

// Kind tags how a Command is executed.
type Kind int

const (
	// KindShell runs Line through the configured shell.
	KindShell Kind = iota + 1
	// KindExec runs Executable with Args and no shell.
	KindExec
)

func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindExec:
		return "exec"
	default:
		return "unknown"
	}
}

// Command is a resolved build command. Only the fields of its Kind are set.
type Command struct {
	Kind       Kind
	Line       string
	Executable string
	Args       []string
	// Display is the command as declared, for logs.
	Display string
	Watch   bool
	Ready   string
	Timeout time.Duration
}

// Shim wraps a command with interpreter selection.
type Shim interface {
	Apply(cmd Command, interpreter string) Command
}

// Resolve turns cfg into a Command. The shim, when non-nil, is applied last.
func Resolve(cfg manifest.BuildConfig, interpreter string, watch bool, shim Shim) (Command, error) {
	var cmd Command
	if watch {
		spec := cfg.Command
		cmd = Command{Watch: true, Ready: DefaultReady, Timeout: DefaultTimeout}
		if w := cfg.Watch; w != nil {
			if !w.Command.IsZero() {
				spec = w.Command
			}
			if w.Ready != "" {
				cmd.Ready = w.Ready
			}
			if w.Timeout > 0 {
				cmd.Timeout = time.Duration(w.Timeout) * time.Millisecond
			}
		}
		line := spec.Line
		if spec.Vector {
			line = JoinArgs(spec.Args)
		}
		if strings.TrimSpace(line) == "" {
			return Command{}, emptyCommand()
		}
		cmd.Kind = KindShell
		cmd.Line = line
		cmd.Display = spec.String()
	} else {
		spec := cfg.Command
		switch {
		case spec.Vector:
			if len(spec.Args) == 0 || spec.Args[0] == "" {
				return Command{}, emptyCommand()
			}
			cmd = Command{
				Kind:       KindExec,
				Executable: spec.Args[0],
				Args:       append([]string(nil), spec.Args[1:]...),
				Display:    spec.String(),
			}
		case strings.TrimSpace(spec.Line) != "":
			cmd = Command{Kind: KindShell, Line: spec.Line, Display: spec.Line}
		default:
			return Command{}, emptyCommand()
		}
	}

	if shim != nil {
		cmd = shim.Apply(cmd, interpreter)
	}
	return cmd, nil
}

func emptyCommand() error {
	return foundationerrors.ValidationError("build command is empty").Build()
}

// PrefixShim is the config-backed interpreter shim.
type PrefixShim struct {
	// UsePrefix is prepended when an interpreter was resolved; "{version}" is substituted.
	UsePrefix string
	// DefaultPrefix is prepended otherwise.
	DefaultPrefix string
	// ExecPrefix wraps exec commands when set.
	ExecPrefix []string
}

const versionPlaceholder = "{version}"

// Apply implements Shim.
func (p PrefixShim) Apply(cmd Command, interpreter string) Command {
	switch cmd.Kind {
	case KindShell:
		prefix := p.DefaultPrefix
		if interpreter != "" {
			prefix = strings.ReplaceAll(p.UsePrefix, versionPlaceholder, interpreter)
		}
		cmd.Line = prefix + cmd.Line
	case KindExec:
		if len(p.ExecPrefix) == 0 {
			return cmd
		}
		wrapped := make([]string, 0, len(p.ExecPrefix)+len(cmd.Args)+1)
		for _, part := range p.ExecPrefix {
			wrapped = append(wrapped, strings.ReplaceAll(part, versionPlaceholder, interpreter))
		}
		wrapped = append(wrapped, cmd.Executable)
		wrapped = append(wrapped, cmd.Args...)
		cmd.Executable = wrapped[0]
		cmd.Args = wrapped[1:]
	}
	return cmd
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// JoinArgs renders args as one POSIX shell line.
func JoinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == "":
			quoted[i] = "''"
		case shellSafe.MatchString(a):
			quoted[i] = a
		default:
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
	}
	return strings.Join(quoted, " ")
}

// MarshalJSON renders the command for history records.
func (c Command) MarshalJSON() ([]byte, error) {
	type view struct {
		Kind    string   `json:"kind"`
		Display string   `json:"display"`
		Line    string   `json:"line,omitempty"`
		Exec    []string `json:"exec,omitempty"`
		Watch   bool     `json:"watch,omitempty"`
	}
	v := view{Kind: c.Kind.String(), Display: c.Display, Line: c.Line, Watch: c.Watch}
	if c.Kind == KindExec {
		v.Exec = append([]string{c.Executable}, c.Args...)
	}
	return json.Marshal(v)
}
