// Package config loads the optional YAML configuration of splitbackup.
//
// The file is given by the --config flag or the SPLITBACKUP_CONFIG
// environment variable, the flag winning. Without either the defaults apply.
// Command line flags override whatever the file sets.
package config

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"splitbackup/internal/errors"
	"splitbackup/internal/report"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "SPLITBACKUP_CONFIG"

// ByteSize is a byte count written in human readable form, "512MiB", "1GB"
// or plain "4096". It doubles as a pflag.Value.
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b *ByteSize) Set(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", s)
	}
	*b = ByteSize(n)
	return nil
}

func (b *ByteSize) Type() string {
	return "size"
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: size must be a scalar", value.Line)
	}
	return b.Set(value.Value)
}

// Config holds every setting the command line tool reads from a file.
type Config struct {
	// MaxPartSize bounds the payload of each part file.
	MaxPartSize ByteSize `yaml:"max_part_size"`

	// Report enables writing a listing next to the parts.
	Report bool `yaml:"report"`

	// ReportFormat is "text" or "json".
	ReportFormat string `yaml:"report_format"`

	Overwrite      bool `yaml:"overwrite"`
	SkipUnreadable bool `yaml:"skip_unreadable"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Watch WatchConfig `yaml:"watch"`
}

type WatchConfig struct {
	// Debounce is the quiet period after the last change before a run.
	Debounce time.Duration `yaml:"debounce"`

	// Refresh forces a run at this interval even without changes.
	// Zero disables it.
	Refresh time.Duration `yaml:"refresh"`
}

func Default() *Config {
	return &Config{
		MaxPartSize:  512 * humanize.MiByte,
		Report:       true,
		ReportFormat: string(report.FormatText),
		LogLevel:     "info",
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Refresh:  5 * time.Minute,
		},
	}
}

// Load reads the file at path, or the one named by SPLITBACKUP_CONFIG when
// path is empty. With neither it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile merges the file at path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxPartSize == 0 {
		return errors.New("max_part_size must be positive")
	}
	if _, err := report.ParseFormat(c.ReportFormat); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Watch.Debounce < 0 || c.Watch.Refresh < 0 {
		return errors.New("watch intervals must not be negative")
	}
	return nil
}
