// Package config holds fsdbview's settings. Values come from an optional
// YAML file; command line flags override them afterwards.
//
// Example file:
//
//	row_limit: 500
//	temp_dir: /var/tmp
//	log_level: debug
//	history_pattern: '^#\s+\|\s*(.*\S)\s*$'
//	abort_timeout: 5s
//	max_stderr_bytes: 4096
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/loader"
	"github.com/fsdbtools/fsdbview/runner/execer"
	osexecer "github.com/fsdbtools/fsdbview/runner/execer/os"
)

type Config struct {
	// Rows fetched per batch.
	RowLimit int `yaml:"row_limit"`
	// Parent of the session's snapshot store; empty means $TMPDIR.
	TempDir string `yaml:"temp_dir"`
	// A logrus level name.
	LogLevel string `yaml:"log_level"`
	// Regexp whose first group is a provenance command.
	HistoryPattern string `yaml:"history_pattern"`
	// Time between SIGTERM and SIGKILL when a transform is aborted.
	AbortTimeout time.Duration `yaml:"abort_timeout"`
	// Tail of a failed transform's stderr that is kept.
	MaxStderrBytes int `yaml:"max_stderr_bytes"`
}

func Default() *Config {
	return &Config{
		RowLimit:       loader.DefaultBatch,
		LogLevel:       log.WarnLevel.String(),
		HistoryPattern: fsdb.DefaultHistoryPattern,
		AbortTimeout:   osexecer.DefaultAbortTimeout,
		MaxStderrBytes: execer.DefaultMaxStderr,
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fserrors.IOError{Op: "read config", Path: path, Err: err}
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fserrors.NewError(errors.Wrapf(err, "config %s", path), fserrors.ConfigFailureExitCode)
	}
	log.Debugf("Loaded config from %s: %+v", path, *c)
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.RowLimit <= 0 {
		return fmt.Errorf("row_limit must be positive, got %d", c.RowLimit)
	}
	if c.AbortTimeout <= 0 {
		return fmt.Errorf("abort_timeout must be positive, got %v", c.AbortTimeout)
	}
	if c.MaxStderrBytes <= 0 {
		return fmt.Errorf("max_stderr_bytes must be positive, got %d", c.MaxStderrBytes)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Matcher(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// Matcher compiles HistoryPattern.
func (c *Config) Matcher() (fsdb.HistoryMatcher, error) {
	if c.HistoryPattern == "" || c.HistoryPattern == fsdb.DefaultHistoryPattern {
		return fsdb.DefaultHistoryMatcher, nil
	}
	return fsdb.NewRegexpMatcher(c.HistoryPattern)
}

// Execer returns the OS execer with the configured abort timeout.
func (c *Config) Execer() execer.Execer {
	return osexecer.NewBoundedExecer(c.AbortTimeout)
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
