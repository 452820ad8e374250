package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/fsdb"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 128, c.RowLimit)
	assert.Equal(t, 10*time.Second, c.AbortTimeout)
	assert.NoError(t, c.Validate())

	m, err := c.Matcher()
	require.NoError(t, err)
	assert.Equal(t, fsdb.DefaultHistoryMatcher, m)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte("row_limit: 500\nlog_level: debug\nabort_timeout: 2s\n"))
	require.NoError(t, err)
	assert.Equal(t, 500, c.RowLimit)
	assert.Equal(t, 2*time.Second, c.AbortTimeout)
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, lvl)
	// Untouched keys keep their defaults.
	assert.Equal(t, fsdb.DefaultHistoryPattern, c.HistoryPattern)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseRejects(t *testing.T) {
	for _, text := range []string{
		"row_limit: 0\n",
		"rowlimit: 5\n",
		"log_level: loud\n",
		"history_pattern: 'no group'\n",
		"history_pattern: '('\n",
		"abort_timeout: soon\n",
		"max_stderr_bytes: -1\n",
	} {
		_, err := Parse([]byte(text))
		assert.Error(t, err, text)
	}
}

func TestCustomHistoryPattern(t *testing.T) {
	c, err := Parse([]byte(`history_pattern: '^# cmd: (.*)$'` + "\n"))
	require.NoError(t, err)
	m, err := c.Matcher()
	require.NoError(t, err)
	cmd, ok := m.Match("# cmd: sort")
	assert.True(t, ok)
	assert.Equal(t, "sort", cmd)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsdbview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temp_dir: /var/tmp\nmax_stderr_bytes: 10\n"), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/tmp", c.TempDir)
	assert.Equal(t, 10, c.MaxStderrBytes)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var ioe *fserrors.IOError
	assert.True(t, errors.As(err, &ioe))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("row_limit: many\n"), 0644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
	assert.Equal(t, fserrors.ConfigFailureExitCode, fserrors.ExitCodeOf(err))
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	c.RowLimit = 42
	data, err := c.Marshal()
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
