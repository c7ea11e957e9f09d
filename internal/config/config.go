package config

import (
	"os"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/export"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "/etc/specsweep.toml"
	DefaultLogLevel   = "info"
	DefaultListen     = "127.0.0.1:8080"
	DefaultExportDir  = "."
	DefaultDatabase   = "/var/lib/specsweep/history.db"

	configEnv = "SPECSWEEP_CONFIG"
)

type Config struct {
	Start       float64       `mapstructure:"start"`
	Stop        float64       `mapstructure:"stop"`
	Step        float64       `mapstructure:"step"`
	Channel     sweep.Channel `mapstructure:"channel"`
	Settle      time.Duration `mapstructure:"settle"`
	StepRetries int           `mapstructure:"step_retries"`
	LogLevel    string        `mapstructure:"log_level"`
	Simulate    bool          `mapstructure:"simulate"`
	Listen      string        `mapstructure:"listen"`
	Recipe      string        `mapstructure:"recipe"`

	Monochromator Monochromator `mapstructure:"monochromator"`
	Oscilloscope  Oscilloscope  `mapstructure:"oscilloscope"`
	Export        Export        `mapstructure:"export"`
	History       History       `mapstructure:"history"`

	// ID selects an archived sweep for the export subcommand.
	ID int64 `mapstructure:"-"`
	// Args holds the positional arguments left after flag parsing.
	Args []string `mapstructure:"-"`
}

type Monochromator struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	MoveCommand string        `mapstructure:"move_command"`
	Ack         string        `mapstructure:"ack"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Oscilloscope struct {
	// Address of the SCPI socket; empty runs without an oscilloscope.
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Export struct {
	Dir     string          `mapstructure:"dir"`
	Formats []export.Format `mapstructure:"formats"`
}

type History struct {
	Enabled  bool   `mapstructure:"enabled"`
	Database string `mapstructure:"database"`
}

// Load reads the config file and command line flags from os.Args.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs reads the config file named by $SPECSWEEP_CONFIG (or the
// --config flag, or /etc/specsweep.toml) and overrides it with args.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	// Load configuration from file
	path := os.Getenv(configEnv)
	if f := fs.Lookup("config"); f.Changed {
		path = f.Value.String()
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	// Override config file values with command line flags
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrInternal, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.Args = fs.Args()
	id, err := fs.GetInt64("id")
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	cfg.ID = id

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigType("toml")

	if path == "" {
		// A missing default file just means defaults and flags
		if _, err := os.Stat(DefaultConfigFile); os.IsNotExist(err) {
			return nil
		}
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("start", 400.0)
	v.SetDefault("stop", 700.0)
	v.SetDefault("step", 1.0)
	v.SetDefault("channel", string(sweep.Channel1))
	v.SetDefault("settle", time.Duration(0))
	v.SetDefault("step_retries", 0)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("simulate", false)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("recipe", "")

	v.SetDefault("monochromator.port", "")
	v.SetDefault("monochromator.baud", 19200)
	v.SetDefault("monochromator.move_command", "GOTO %.3f")
	v.SetDefault("monochromator.ack", "OK")
	v.SetDefault("monochromator.timeout", 30*time.Second)

	v.SetDefault("oscilloscope.address", "")
	v.SetDefault("oscilloscope.timeout", 5*time.Second)

	v.SetDefault("export.dir", DefaultExportDir)
	v.SetDefault("export.formats", []string{string(export.FormatXLSX)})

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.database", DefaultDatabase)
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"start":                "start",
	"stop":                 "stop",
	"step":                 "step",
	"channel":              "channel",
	"settle":               "settle",
	"step_retries":         "step-retries",
	"log_level":            "log-level",
	"simulate":             "simulate",
	"listen":               "listen",
	"recipe":               "recipe",
	"monochromator.port":   "port",
	"monochromator.baud":   "baud",
	"oscilloscope.address": "scope",
	"export.dir":           "export-dir",
	"export.formats":       "formats",
	"history.enabled":      "history",
	"history.database":     "database",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("specsweep", pflag.ContinueOnError)

	fs.String("config", "", "Path to the TOML config file")
	fs.Float64("start", 400, "First wavelength, nm")
	fs.Float64("stop", 700, "Last wavelength, nm")
	fs.Float64("step", 1, "Wavelength step, nm")
	fs.String("channel", string(sweep.Channel1), "Oscilloscope channel (ch1|ch2)")
	fs.Duration("settle", 0, "Delay after each monochromator move")
	fs.Int("step-retries", 0, "Extra attempts for a failed monochromator move")
	fs.String("log-level", DefaultLogLevel, "Log level (debug|info|warning|error)")
	fs.Bool("simulate", false, "Use simulated instruments")
	fs.String("listen", DefaultListen, "HTTP listen address for serve")
	fs.String("recipe", "", "YAML recipe with a batch of sweeps")
	fs.String("port", "", "Monochromator serial port")
	fs.Int("baud", 19200, "Monochromator baud rate")
	fs.String("scope", "", "Oscilloscope address (host[:port]); empty disables sampling")
	fs.String("export-dir", DefaultExportDir, "Directory for exported files")
	fs.StringSlice("formats", []string{string(export.FormatXLSX)}, "Export formats (xlsx,png,csv)")
	fs.Bool("history", false, "Record sweeps in the history database")
	fs.String("database", DefaultDatabase, "History database path")
	fs.Int64("id", 0, "Archived sweep to re-export (export subcommand)")

	return fs
}

// Validate checks the values that would otherwise fail mid-sweep.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	ch, err := sweep.ParseChannel(string(c.Channel))
	if err != nil {
		return err
	}
	c.Channel = ch

	if _, err := c.Axis(); err != nil {
		return err
	}

	if c.Settle < 0 || c.StepRetries < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Settle      time.Duration
			StepRetries int
		}{c.Settle, c.StepRetries})
	}

	formats := make([]export.Format, 0, len(c.Export.Formats))
	for _, f := range c.Export.Formats {
		parsed, err := export.ParseFormat(string(f))
		if err != nil {
			return err
		}
		formats = append(formats, parsed)
	}
	c.Export.Formats = formats

	return nil
}

// Axis is the wavelength axis of the configured sweep.
func (c *Config) Axis() (axis.Axis, error) {
	return axis.New(c.Start, c.Stop, c.Step)
}

// Subcommand is the first positional argument, "run" by default.
func (c *Config) Subcommand() string {
	if len(c.Args) == 0 {
		return "run"
	}
	return c.Args[0]
}
