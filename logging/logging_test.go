package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLogFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	lf, err := OpenLogFile(path)
	require.NoError(t, err)
	defer lf.Close()

	assert.FileExists(t, path)
	assert.Equal(t, 10, lf.MaxSize)
	assert.Equal(t, 3, lf.MaxBackups)
}

func TestOpenLogFileBadPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := OpenLogFile(filepath.Join(blocker, "run.log"))
	assert.Error(t, err)
}

func TestLogFileRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")

	lf, err := OpenLogFile(path)
	require.NoError(t, err)
	defer lf.Close()

	_, err = lf.Write([]byte("before\n"))
	require.NoError(t, err)
	require.NoError(t, lf.Rotate())
	_, err = lf.Write([]byte("after\n"))
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(current))

	backups, err := filepath.Glob(filepath.Join(dir, "run-*.log"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "before\n", string(old))
}

func TestSetupWritesComponentField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	rf, err := Setup(path, "debug")
	require.NoError(t, err)
	defer rf.Close()

	For("Manager").Info("✓ board finished")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=Manager")
	assert.Contains(t, string(data), "board finished")
	assert.Equal(t, path, rf.Filename)
}
