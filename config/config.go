// Package config reads the settings of scriptentry from the environment.
package config

import (
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix is the prefix of every environment variable, as in
// SCRIPTENTRY_THRESHOLD.
const Prefix = "SCRIPTENTRY"

// DefaultEnvFile is loaded when it exists and no other file is given.
const DefaultEnvFile = ".env"

// Config holds the settings of a run. Command line flags override it.
type Config struct {
	// Threshold is the minimum self time of reported entries.
	Threshold time.Duration `default:"5ms"`

	// LogLevel is one of debug, info, warn and error.
	LogLevel string `split_words:"true" default:"info"`

	// BufferSize is the number of entries the timeline buffer keeps.
	BufferSize int `split_words:"true" default:"200"`

	// MonitorAddr is where the monitor listens.
	MonitorAddr string `split_words:"true" default:"localhost:0"`

	// OpenBrowser opens the monitor page once the server is up.
	OpenBrowser bool `split_words:"true" default:"false"`

	// RecordPath enables SQLite recording into RecordPath.sqlite3.
	RecordPath string `split_words:"true"`

	// Output files. Empty disables the output.
	OutputJSON  string `envconfig:"OUTPUT_JSON"`
	OutputCSV   string `envconfig:"OUTPUT_CSV"`
	OutputPprof string `envconfig:"OUTPUT_PPROF"`
}

// Load reads the given .env files, or DefaultEnvFile if it exists, and then
// the environment. Variables already set in the environment win over the
// files.
func Load(envFiles ...string) (Config, error) {
	var c Config

	if len(envFiles) == 0 {
		err := godotenv.Load(DefaultEnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return c, errors.Wrapf(err, "loading %s", DefaultEnvFile)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return c, errors.Wrap(err, "loading env files")
	}

	if err := envconfig.Process(Prefix, &c); err != nil {
		return c, errors.Wrap(err, "reading environment")
	}

	return c, c.Validate()
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.Threshold < 0 {
		return errors.Errorf("threshold must not be negative, got %s", c.Threshold)
	}

	if c.BufferSize <= 0 {
		return errors.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}

	if _, err := levelOption(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Logger creates a logfmt logger on w that only lets through the configured
// level and above.
func (c Config) Logger(w io.Writer) (log.Logger, error) {
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, opt)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	return logger, nil
}

func levelOption(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	default:
		return nil, errors.Errorf("unknown log level %q", name)
	}
}

// Usage describes the environment variables.
func Usage(w io.Writer) error {
	var c Config
	return envconfig.Usagef(Prefix, &c, w, envconfig.DefaultTableFormat)
}
