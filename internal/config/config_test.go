package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestExecutorConfig_ValidateDefaults(t *testing.T) {
	cfg := ExecutorConfig{Port: 8081}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "0.0.0.0", cfg.Listen)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.Equal(t, "0.0.0.0:8081", cfg.Addr())
}

func TestExecutorConfig_ValidateRejectsBadPort(t *testing.T) {
	cfg := ExecutorConfig{Port: 0}
	require.Error(t, cfg.Validate())
}

func TestBindExecutorFlags_EnvOverridesDefault(t *testing.T) {
	t.Setenv("AQUEDUCTS_PORT", "9090")

	var cfg ExecutorConfig
	cmd := &cobra.Command{Use: "executor", RunE: func(*cobra.Command, []string) error { return nil }}
	BindExecutorFlags(cmd, &cfg)

	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "9090", cmd.PersistentFlags().Lookup("port").Value.String())
}

func TestBindClientFlags_ExplicitFlagWinsOverEnv(t *testing.T) {
	t.Setenv("AQUEDUCTS_EXECUTOR_URL", "ws://from-env:8081/ws")

	var cfg ClientConfig
	cmd := &cobra.Command{Use: "run", RunE: func(*cobra.Command, []string) error { return nil }}
	BindClientFlags(cmd, &cfg)

	cmd.SetArgs([]string{"--executor-url", "ws://explicit:8081/ws"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "ws://explicit:8081/ws", cfg.ExecutorURL)
}

func TestBindExecutorFlags_APIKeyEnvOverride(t *testing.T) {
	t.Setenv("AQUEDUCTS_API_KEY", "secret-from-env")

	var cfg ExecutorConfig
	cmd := &cobra.Command{Use: "executor", RunE: func(*cobra.Command, []string) error { return nil }}
	BindExecutorFlags(cmd, &cfg)

	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "secret-from-env", cfg.APIKey)
}

func TestBindClientFlags_APIKeyFlag(t *testing.T) {
	var cfg ClientConfig
	cmd := &cobra.Command{Use: "run", RunE: func(*cobra.Command, []string) error { return nil }}
	BindClientFlags(cmd, &cfg)

	cmd.SetArgs([]string{"--api-key", "my-key"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "my-key", cfg.APIKey)
}
