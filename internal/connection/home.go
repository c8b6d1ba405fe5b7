package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrHomeNotFound is returned when the remote home directory cannot be
// determined from the probe output.
var ErrHomeNotFound = errors.New("home directory could not be determined")

// homeSentinel tags the probe output line carrying the home path.
const homeSentinel = "Home: "

// probeHomeCommand echoes the home directory behind the sentinel. $HOME is
// expanded by the remote shell.
const probeHomeCommand = `echo "Home: $HOME"`

// ProbeHomeDirectory runs the home probe on the session and extracts the
// home path from its output. The output is collected until the command's
// channel closes; any overall timeout is the caller's responsibility via ctx.
func ProbeHomeDirectory(ctx context.Context, sess Session) (string, error) {
	output, err := sess.Exec(ctx, probeHomeCommand)
	if err != nil {
		return "", fmt.Errorf("running home probe: %w", err)
	}
	if len(output) == 0 {
		return "", ErrHomeNotFound
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if home, ok := strings.CutPrefix(line, homeSentinel); ok && home != "" {
			return home, nil
		}
	}
	return "", ErrHomeNotFound
}
