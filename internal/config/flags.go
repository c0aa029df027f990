package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kafkaburst",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML or JSON)")

	// Kafka flags
	flags.StringSlice("brokers", nil, "Kafka bootstrap servers (host:port, repeatable)")
	flags.String("topic", "", "Default topic for load tests")
	flags.String("compression", "", "Producer compression: none, gzip, snappy, lz4 or zstd")
	flags.String("acks", "", "Producer acks: none, leader or all")
	flags.Duration("linger", 0, "Producer linger before flushing a batch")
	flags.Int("max-message-bytes", 0, "Largest record batch the producer will send")
	flags.Duration("delivery-timeout", 0, "Max time a record may spend retrying before its send fails")

	// Server flags
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")

	// Engine flags
	flags.Int("pool-size", 0, "Number of concurrent publisher workers")
	flags.Duration("snapshot-interval", 0, "Cadence of status snapshots")
	flags.Duration("drain-grace", 0, "Max wait for in-flight sends after a stop request")

	// Observability flags
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("otlp-endpoint", "", "OTLP trace exporter endpoint (empty disables tracing)")
	flags.String("otlp-protocol", "", "OTLP transport: grpc or http")
	flags.Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("trace-sample-rate", -1, "Trace sampling ratio between 0.0 and 1.0")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("brokers") {
		val, err := fs.GetStringSlice("brokers")
		if err != nil {
			return err
		}
		cfg.Kafka.BootstrapServers = val
	}
	if fs.Changed("topic") {
		val, err := fs.GetString("topic")
		if err != nil {
			return err
		}
		cfg.Kafka.DefaultTopic = val
	}
	if fs.Changed("compression") {
		val, err := fs.GetString("compression")
		if err != nil {
			return err
		}
		cfg.Kafka.Compression = val
	}
	if fs.Changed("acks") {
		val, err := fs.GetString("acks")
		if err != nil {
			return err
		}
		cfg.Kafka.Acks = val
	}
	if fs.Changed("linger") {
		val, err := fs.GetDuration("linger")
		if err != nil {
			return err
		}
		cfg.Kafka.Linger = val
	}
	if fs.Changed("max-message-bytes") {
		val, err := fs.GetInt("max-message-bytes")
		if err != nil {
			return err
		}
		cfg.Kafka.MaxMessageBytes = val
	}
	if fs.Changed("delivery-timeout") {
		val, err := fs.GetDuration("delivery-timeout")
		if err != nil {
			return err
		}
		cfg.Kafka.DeliveryTimeout = val
	}
	if fs.Changed("host") {
		val, err := fs.GetString("host")
		if err != nil {
			return err
		}
		cfg.Server.Host = val
	}
	if fs.Changed("port") {
		val, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Server.Port = val
	}
	if fs.Changed("pool-size") {
		val, err := fs.GetInt("pool-size")
		if err != nil {
			return err
		}
		cfg.Load.PoolSize = val
	}
	if fs.Changed("snapshot-interval") {
		val, err := fs.GetDuration("snapshot-interval")
		if err != nil {
			return err
		}
		cfg.Load.SnapshotInterval = val
	}
	if fs.Changed("drain-grace") {
		val, err := fs.GetDuration("drain-grace")
		if err != nil {
			return err
		}
		cfg.Load.DrainGrace = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("otlp-endpoint") {
		val, err := fs.GetString("otlp-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = val
	}
	if fs.Changed("otlp-protocol") {
		val, err := fs.GetString("otlp-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = val
	}
	if fs.Changed("otlp-insecure") {
		val, err := fs.GetBool("otlp-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}
