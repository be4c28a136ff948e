package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvConfigFile points at an explicit configuration file.
	EnvConfigFile = "FLIGHTCTL_CONFIG"
	envPrefix     = "FLIGHTCTL"

	DefaultListen           = ":3001"
	DefaultDatabase         = "/var/lib/flightctl/flights.db"
	DefaultPort             = "/dev/ttyUSB0"
	DefaultBaudRate         = 9600
	DefaultOpenTimeout      = 4 * time.Second
	DefaultQuietPeriod      = 150 * time.Millisecond
	DefaultSubscriberBuffer = 64
	DefaultLogLevel         = "info"
)

// DefaultPIDFile is the single-instance lock of the daemon.
var DefaultPIDFile = filepath.Join(os.TempDir(), "flightctl.pid")

type Config struct {
	Listen   string `mapstructure:"listen"`
	Database string `mapstructure:"database"`
	// BackupDir receives a database copy before an incompatible schema is
	// replaced. Empty means a backups directory next to the database.
	BackupDir        string        `mapstructure:"backup_dir"`
	Port             string        `mapstructure:"port"`
	BaudRate         int           `mapstructure:"baud_rate"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	QuietPeriod      time.Duration `mapstructure:"quiet_period"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	LogLevel         string        `mapstructure:"log_level"`
	PIDFile          string        `mapstructure:"pid_file"`

	// ListPorts prints the serial devices and exits. Command line only.
	ListPorts bool `mapstructure:"-"`
}

// Load reads configuration from defaults, the config file, FLIGHTCTL_*
// environment variables and command line flags, in increasing precedence.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with explicit command line arguments.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	setDefaults(v)

	flags := pflag.NewFlagSet("flightctl", pflag.ContinueOnError)
	flags.String("listen", DefaultListen, "HTTP listen address")
	flags.String("database", DefaultDatabase, "Path to the flight database")
	flags.String("backup-dir", "", "Directory for database backups taken before schema resets")
	flags.String("port", DefaultPort, "Default serial device of the ground receiver")
	flags.Int("baud-rate", DefaultBaudRate, "Default serial speed")
	flags.Duration("open-timeout", DefaultOpenTimeout, "Maximum time to wait for the receiver to open")
	flags.Duration("quiet-period", DefaultQuietPeriod, "Silence that closes a packet")
	flags.Int("subscriber-buffer", DefaultSubscriberBuffer, "Queued messages per live subscriber")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("pid-file", DefaultPIDFile, "Path of the PID file")
	listPorts := flags.Bool("list-ports", false, "List serial devices and exit")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v.SetConfigType("toml")
	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flightctl")
		v.AddConfigPath("/etc/flightctl")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Only flags set on the command line override file and environment.
	flags.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg.ListPorts = *listPorts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("backup_dir", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("baud_rate", DefaultBaudRate)
	v.SetDefault("open_timeout", DefaultOpenTimeout)
	v.SetDefault("quiet_period", DefaultQuietPeriod)
	v.SetDefault("subscriber_buffer", DefaultSubscriberBuffer)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", DefaultPIDFile)
}

// Validate checks value ranges after all sources have been merged.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Database == "" || c.PIDFile == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "database and pid_file must not be empty")
	}
	if c.BaudRate <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "baud_rate must be positive")
	}
	if c.OpenTimeout <= 0 || c.QuietPeriod <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "durations must be positive")
	}
	if c.SubscriberBuffer < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "subscriber_buffer must be at least 1")
	}

	return nil
}
