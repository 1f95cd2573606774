// Package config holds the configuration surfaces for the aqueducts CLI
// and executor binaries: plain structs populated by cobra flags, with a
// viper overlay for AQUEDUCTS_-prefixed environment variables, following
// the teacher's config.Config (flag-populated structs with a Validate
// method) generalized with the env-var layering its own appconfig never
// had.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LoggingConfig controls zerolog output, the same two knobs the teacher
// exposes for its own logger.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// ExecutorConfig configures the `aqueducts-executor serve` process.
type ExecutorConfig struct {
	Listen            string
	Port              int
	MemoryBudgetBytes int64
	QueueCapacity     int
	APIKey            string
	Logging           LoggingConfig
}

// Validate fills in defaults and rejects nonsensical values.
func (c *ExecutorConfig) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Listen == "" {
		c.Listen = "0.0.0.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	return errors.Join(errs...)
}

// Addr returns the listen address in host:port form.
func (c ExecutorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// ClientConfig configures the `aqueducts run` CLI.
type ClientConfig struct {
	ExecutorURL string // empty means run locally, not against a remote executor
	APIKey      string
	Logging     LoggingConfig
}

// Validate fills in defaults for the client config.
func (c *ClientConfig) Validate() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	return nil
}

// BindExecutorFlags registers the executor's persistent flags on cmd and
// layers an AQUEDUCTS_-prefixed environment override on top, the same
// flag-then-override shape as the teacher's root.go, with the env layer
// viper adds on top of plain pflag.
func BindExecutorFlags(cmd *cobra.Command, cfg *ExecutorConfig) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.Listen, "listen", "0.0.0.0", "Address to listen on")
	f.IntVar(&cfg.Port, "port", 8081, "Executor HTTP/WebSocket port")
	f.Int64Var(&cfg.MemoryBudgetBytes, "memory-budget-bytes", 0, "Reject runs whose estimated footprint exceeds this many bytes (0 disables the check)")
	f.IntVar(&cfg.QueueCapacity, "queue-capacity", 64, "Maximum number of runs allowed to wait behind the execution slot")
	f.StringVar(&cfg.APIKey, "api-key", "", "Require this value in the X-API-Key header on every WebSocket connection (empty disables auth)")
	f.StringVar(&cfg.Logging.Level, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&cfg.Logging.Format, "log-format", "console", "Log format (console, json)")

	bindEnv(cmd, "listen")
	bindEnv(cmd, "port")
	bindEnv(cmd, "memory-budget-bytes")
	bindEnv(cmd, "queue-capacity")
	bindEnv(cmd, "api-key")
	bindEnv(cmd, "log-level")
	bindEnv(cmd, "log-format")
}

// BindClientFlags registers the client CLI's persistent flags.
func BindClientFlags(cmd *cobra.Command, cfg *ClientConfig) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.ExecutorURL, "executor-url", "", `Remote executor WebSocket URL (e.g. "ws://host:8081/ws"); omitted runs the pipeline in-process`)
	f.StringVar(&cfg.APIKey, "api-key", "", "API key sent as X-API-Key when connecting to a remote executor")
	f.StringVar(&cfg.Logging.Level, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&cfg.Logging.Format, "log-format", "console", "Log format (console, json)")

	bindEnv(cmd, "executor-url")
	bindEnv(cmd, "api-key")
	bindEnv(cmd, "log-level")
	bindEnv(cmd, "log-format")
}

// bindEnv wires one flag to its AQUEDUCTS_-prefixed environment variable:
// if the flag was not set explicitly on the command line and the
// environment variable is present, viper's value is copied onto the flag
// before the command runs.
func bindEnv(cmd *cobra.Command, flagName string) {
	flag := cmd.PersistentFlags().Lookup(flagName)
	if flag == nil {
		return
	}

	v := viper.New()
	v.SetEnvPrefix("aqueducts")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = v.BindEnv(flagName)

	cobra.OnInitialize(func() {
		if flag.Changed {
			return
		}
		if val := v.GetString(flagName); val != "" {
			_ = flag.Value.Set(val)
		}
	})
}
