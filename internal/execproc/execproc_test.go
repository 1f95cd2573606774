package execproc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func withTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestWritePIDReadPIDRoundTrip(t *testing.T) {
	withTempHome(t)

	require.NoError(t, WritePID())
	pid, err := ReadPID()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	RemovePID()
	pid, err = ReadPID()
	require.NoError(t, err)
	require.Equal(t, 0, pid)
}

func TestIsRunning_TrueForOwnPID(t *testing.T) {
	withTempHome(t)
	require.NoError(t, WritePID())
	t.Cleanup(RemovePID)

	pid, alive := IsRunning()
	require.True(t, alive)
	require.Equal(t, os.Getpid(), pid)
}

func TestIsRunning_FalseWithNoPIDFile(t *testing.T) {
	withTempHome(t)
	_, alive := IsRunning()
	require.False(t, alive)
}

func TestStatusInfo_NotRunning(t *testing.T) {
	withTempHome(t)
	st := StatusInfo("0.0.0.0:8081")
	require.False(t, st.Running)
	require.Empty(t, st.Addr)
}
