package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// writeScript installs an executable shell script standing in for pgsrip.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgsrip")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestResolveMissingTool(t *testing.T) {
	tool := New("definitely-not-installed-pgsrip", []string{"en"}, 0, nil)

	_, err := tool.Resolve()
	assert.ErrorIs(t, err, models.ErrToolUnavailable)

	_, err = tool.Rip(context.Background(), "/tmp/x.mkv")
	assert.ErrorIs(t, err, models.ErrToolUnavailable)
}

func TestRipCollectsArtifacts(t *testing.T) {
	script := writeScript(t, `
for last; do :; done
echo "$@" > "$(dirname "$last")/args.txt"
stem="${last%.*}"
printf '1\n00:00:01,000 --> 00:00:02,000\nHello\n' > "$stem.en.srt"
printf '1\n00:00:01,000 --> 00:00:02,000\nBonjour\n' > "$stem.fr.srt"
`)

	dir := t.TempDir()
	media := filepath.Join(dir, "Movie (2001).mkv")
	require.NoError(t, os.WriteFile(media, []byte("media"), 0o644))

	tool := New(script, []string{"en", "fr"}, time.Minute, nil)
	artifacts, err := tool.Rip(context.Background(), media)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "Movie (2001).en.srt"),
		filepath.Join(dir, "Movie (2001).fr.srt"),
	}, artifacts)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "--force --language en --language fr "+media, strings.TrimSpace(string(args)))
}

func TestRipFailureIncludesStderr(t *testing.T) {
	script := writeScript(t, `echo "no pgs track" >&2; exit 3`)
	media := filepath.Join(t.TempDir(), "movie.mkv")

	_, err := New(script, []string{"en"}, 0, nil).Rip(context.Background(), media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pgs track")
}

func TestRipTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	media := filepath.Join(t.TempDir(), "movie.mkv")

	start := time.Now()
	_, err := New(script, []string{"en"}, 100*time.Millisecond, nil).Rip(context.Background(), media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}
