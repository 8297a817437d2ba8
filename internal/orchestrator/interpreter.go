package orchestrator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// InterpreterSource resolves the interpreter a service's build runs under.
// An empty result selects the system default.
type InterpreterSource interface {
	Interpreter(dir string) (string, error)
}

// VersionFile reads the interpreter version from a file in the service
// directory, ".nvmrc" by default.
type VersionFile struct {
	Name string
}

// Interpreter implements InterpreterSource.
func (v VersionFile) Interpreter(dir string) (string, error) {
	name := v.Name
	if name == "" {
		name = ".nvmrc"
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the service directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", foundationerrors.FileSystemError("failed to read interpreter version file").
			WithCause(err).
			WithContext("path", path).
			Build()
	}
	return strings.TrimSpace(string(data)), nil
}
