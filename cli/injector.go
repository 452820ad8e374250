package cli

import (
	"context"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/common/stats"
	"github.com/fsdbtools/fsdbview/config"
	"github.com/fsdbtools/fsdbview/session"
)

// ConfigInjector opens sessions configured from a YAML file and the global
// flags, which take precedence over the file.
type ConfigInjector struct {
	configPath string
	logLevel   string
	rowLimit   int
	tempDir    string

	cfg *config.Config
}

func NewConfigInjector() *ConfigInjector {
	return &ConfigInjector{}
}

func (i *ConfigInjector) RegisterFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&i.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&i.logLevel, "log_level", "", "Log everything at this level and above (error|info|debug)")
	flags.IntVar(&i.rowLimit, "row_limit", 0, "rows loaded per batch")
	flags.StringVar(&i.tempDir, "temp_dir", "", "directory for the session's snapshot store")
}

// Config loads the configuration once and applies the flag overrides.
func (i *ConfigInjector) Config() (*config.Config, error) {
	if i.cfg != nil {
		return i.cfg, nil
	}
	cfg, err := config.Load(i.configPath)
	if err != nil {
		return nil, err
	}
	if i.logLevel != "" {
		cfg.LogLevel = i.logLevel
	}
	if i.rowLimit != 0 {
		cfg.RowLimit = i.rowLimit
	}
	if i.tempDir != "" {
		cfg.TempDir = i.tempDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fserrors.NewError(err, fserrors.ConfigFailureExitCode)
	}
	i.cfg = cfg
	return cfg, nil
}

func (i *ConfigInjector) Inject(ctx context.Context, path string, stdin io.Reader) (*session.Session, error) {
	cfg, err := i.Config()
	if err != nil {
		return nil, err
	}
	level, _ := cfg.Level()
	log.SetLevel(level)

	matcher, _ := cfg.Matcher()
	opts := session.Options{
		RowLimit:  cfg.RowLimit,
		TempDir:   cfg.TempDir,
		Execer:    cfg.Execer(),
		Stats:     stats.DefaultStatsReceiver().Precision(time.Millisecond),
		Matcher:   matcher,
		MaxStderr: cfg.MaxStderrBytes,
	}
	if path == "" || path == "-" {
		return session.Open(ctx, stdin, "<stdin>", opts)
	}
	return session.OpenFile(ctx, path, opts)
}

func (i *ConfigInjector) RowLimit() int {
	if i.cfg == nil {
		return config.Default().RowLimit
	}
	return i.cfg.RowLimit
}
