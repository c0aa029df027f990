package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, environment variables
// and command-line arguments, in ascending precedence.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults mirror the reference deployment: a local single-broker cluster
// and a small producer pool.
func defaults() map[string]any {
	return map[string]any{
		"kafka.bootstrap_servers": []string{"localhost:9092"},
		"kafka.default_topic":     "load-test",
		"kafka.compression":       "gzip",
		"kafka.acks":              "leader",
		"kafka.linger":            10 * time.Millisecond,
		"kafka.max_message_bytes": 1_048_576,
		"kafka.delivery_timeout":  30 * time.Second,
		"server.host":             "0.0.0.0",
		"server.port":             8000,
		"load.pool_size":          5,
		"load.snapshot_interval":  500 * time.Millisecond,
		"load.drain_grace":        5 * time.Second,
		"log_level":               "info",
		"tracing.protocol":        "grpc",
		"tracing.service_name":    "kafkaburst",
		"tracing.sample_rate":     1.0,
	}
}

// Load parses command-line arguments, the optional config file and
// KAFKABURST_* environment variables to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix("KAFKABURST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := flagSet.Lookup("config").Value.String()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{ConfigFile: configPath}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	return cfg, nil
}
