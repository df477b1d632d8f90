package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Version runs "binary -version" and returns the version token from the
// first line ("ffmpeg version 6.1.1 Copyright ...").
func Version(ctx context.Context, binary string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s -version: %w", binary, err)
	}
	return parseVersion(string(out))
}

// HasEncoder reports whether binary was built with the named encoder.
func HasEncoder(ctx context.Context, binary, encoder string) (bool, error) {
	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-nostats", "-encoders").Output()
	if err != nil {
		return false, fmt.Errorf("failed to list encoders: %w", err)
	}
	return listsEncoder(string(out), encoder), nil
}

func parseVersion(output string) (string, error) {
	line, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[1] != "version" {
		return "", fmt.Errorf("unrecognized version output: %q", line)
	}
	return fields[2], nil
}

// listsEncoder scans "-encoders" output, where each entry looks like
// " V....D libx264              libx264 H.264 / AVC ...".
func listsEncoder(output, encoder string) bool {
	for line := range strings.Lines(output) {
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 && fields[1] == encoder {
			return true
		}
	}
	return false
}
