// Package ocr runs the external pgsrip tool that turns image-based subtitle
// tracks into SRT files.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Tool wraps the pgsrip executable.
type Tool struct {
	path      string
	languages []string
	timeout   time.Duration
	logger    *logging.Logger
}

// New creates a tool runner. A zero timeout leaves runs unbounded.
func New(path string, languages []string, timeout time.Duration, logger *logging.Logger) *Tool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tool{
		path:      path,
		languages: languages,
		timeout:   timeout,
		logger:    logger.WithComponent("ocr"),
	}
}

// Resolve returns the absolute path of the executable.
func (t *Tool) Resolve() (string, error) {
	resolved, err := exec.LookPath(t.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrToolUnavailable, t.path, err)
	}
	return resolved, nil
}

// Rip extracts every image subtitle track of mediaPath matching the
// configured languages. pgsrip writes its output next to the media file; the
// returned paths are the .srt files found there afterwards, sorted.
func (t *Tool) Rip(ctx context.Context, mediaPath string) ([]string, error) {
	bin, err := t.Resolve()
	if err != nil {
		return nil, err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := []string{"--force"}
	for _, lang := range t.languages {
		args = append(args, "--language", lang)
	}
	args = append(args, mediaPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = filepath.Dir(mediaPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	t.logger.Infof("running %s %s", filepath.Base(bin), strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("pgsrip timed out after %s", t.timeout)
		}
		return nil, fmt.Errorf("pgsrip failed: %w, stderr: %s", err, tail(stderr.String(), 2048))
	}
	t.logger.Debugf("pgsrip finished in %s", time.Since(start))

	artifacts, err := filepath.Glob(filepath.Join(filepath.Dir(mediaPath), "*.srt"))
	if err != nil {
		return nil, fmt.Errorf("failed to list pgsrip output: %w", err)
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
