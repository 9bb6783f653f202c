// Package tool wraps the external sequence-search programs used by the
// validation stages and parses their tabular output.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
)

var (
	ErrToolNotFound     = errors.New("executable not found in PATH")
	ErrDatabaseNotReady = errors.New("database not prepared")
)

// lookPath resolves bin, failing with ErrToolNotFound.
func lookPath(bin string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, bin)
	}
	return path, nil
}

// runCommand executes bin with args. On failure the error carries the tool's
// stderr, trimmed.
func runCommand(ctx context.Context, bin string, args ...string) error {
	path, err := lookPath(bin)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Running external tool", zap.String("bin", path), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no stderr"
		}
		return fmt.Errorf("failed to execute %s: %w: %s", filepath.Base(bin), err, msg)
	}
	return nil
}

// missingFiles returns the paths of prefix+ext that do not exist.
func missingFiles(prefix string, exts ...string) []string {
	var missing []string
	for _, ext := range exts {
		if _, err := os.Stat(prefix + ext); err != nil {
			missing = append(missing, prefix+ext)
		}
	}
	return missing
}
