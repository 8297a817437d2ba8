package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// confirmMessage is the publish prompt for tag in environment.
func confirmMessage(tag, environment string) string {
	if tag != "" {
		return fmt.Sprintf("Are you sure you want to publish all %s assets in %s (y/N)?", tag, environment)
	}
	return fmt.Sprintf("Are you sure you want to publish ALL assets in %s (y/N)?", environment)
}

// Confirm asks message on out and reads one answer line from in. Only "y"
// and "Y" confirm. A closed input is an error.
func Confirm(in io.Reader, out io.Writer, message string) (bool, error) {
	_, _ = fmt.Fprint(out, message+" ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false, foundationerrors.ValidationError("Did not confirm").WithCause(err).Build()
	}
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y", nil
}
