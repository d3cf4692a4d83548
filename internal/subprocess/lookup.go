package subprocess

import (
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wagiedev/mcp-client-go/internal/errors"
)

// Lookup resolves command to an executable path.
//
// A command containing a path separator is used as given and must exist.
// A bare name is searched in PATH. Returns CommandNotFoundError listing the
// searched locations when nothing matches.
func Lookup(log *slog.Logger, command string) (string, error) {
	if command == "" {
		return "", errors.ErrNoCommand
	}

	if strings.ContainsRune(command, os.PathSeparator) || strings.ContainsRune(command, '/') {
		log.Debug("Using explicit command path", "command", command)

		if _, err := os.Stat(command); err != nil {
			if stderrors.Is(err, os.ErrNotExist) {
				return "", &errors.CommandNotFoundError{Command: command, SearchedPaths: []string{command}}
			}

			return "", &errors.SpawnError{Command: command, Err: err}
		}

		return command, nil
	}

	log.Debug("Searching for command in PATH", "command", command)

	path, err := exec.LookPath(command)
	if err == nil {
		log.Debug("Found command in PATH", "path", path)

		return path, nil
	}

	if stderrors.Is(err, exec.ErrDot) {
		return "", &errors.SpawnError{Command: command, Err: err}
	}

	searched := filepath.SplitList(os.Getenv("PATH"))
	if len(searched) == 0 {
		searched = []string{"$PATH"}
	}

	log.Debug("Command not found in PATH", "command", command, "searched_paths", searched)

	return "", &errors.CommandNotFoundError{Command: command, SearchedPaths: searched}
}

// buildEnvironment returns the peer environment: ours plus overrides.
// exec keeps the last value for duplicate keys, so overrides win.
func buildEnvironment(extra map[string]string) []string {
	env := os.Environ()
	for key, value := range extra {
		env = append(env, key+"="+value)
	}

	return env
}
