package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/ui"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := ui.Output
	ui.Output = &buf
	t.Cleanup(func() { ui.Output = prev })

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.New("boom")))
	assert.Equal(t, exitFatal, exitCode(fatal(errors.New("no accounts"))))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("run: %w", &exitError{code: exitInterrupted, err: context.Canceled})))
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.yaml")

	_, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Equal(t, exitFatal, exitCode(err))
}

func TestConfigValidateRequiresTopics(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "storage:\n  driver: memory\n")

	_, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, exitFatal, exitCode(err))
	assert.Contains(t, err.Error(), "at least one topic")
}

func TestStateCommands(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "harvester.db")
	path := writeConfig(t, dir, fmt.Sprintf("storage:\n  driver: sqlite\n  dsn: %q\nlogging:\n  level: error\n", dsn))

	out, err := execute(t, "runs", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs yet")

	_, err = execute(t, "runs", "show", "missing-run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	snapshot := filepath.Join(dir, "export", "checkpoints.json")
	out, err = execute(t, "checkpoints", "export", snapshot, "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 0 checkpoints")
	assert.FileExists(t, snapshot)
}
