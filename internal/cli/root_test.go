package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fwrpc", cmd.Use)
	assert.Contains(t, cmd.Long, "firmware")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"generate", "symbols", "compat", "call", "listen", "simulate", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestGenerateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	genCmd, _, err := cmd.Find([]string{"generate"})
	require.NoError(t, err)

	for _, name := range []string{"dry-run", "accept-drift"} {
		flag := genCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestDeviceCommandsShareLinkFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"call", "listen", "compat"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			addr := sub.Flags().Lookup("addr")
			require.NotNil(t, addr)
			assert.Equal(t, "", addr.DefValue)

			baud := sub.Flags().Lookup("baud")
			require.NotNil(t, baud)
			assert.Equal(t, "115200", baud.DefValue)

			timeout := sub.Flags().Lookup("timeout")
			require.NotNil(t, timeout)
			assert.Equal(t, "5s", timeout.DefValue)
		})
	}
}

func TestListenCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	listenCmd, _, err := cmd.Find([]string{"listen"})
	require.NoError(t, err)

	countFlag := listenCmd.Flags().Lookup("count")
	require.NotNil(t, countFlag)
	assert.Equal(t, "0", countFlag.DefValue)
}

func TestSimulateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	simCmd, _, err := cmd.Find([]string{"simulate"})
	require.NoError(t, err)

	listenFlag := simCmd.Flags().Lookup("listen")
	require.NotNil(t, listenFlag)
	assert.Equal(t, "127.0.0.1:7700", listenFlag.DefValue)

	everyFlag := simCmd.Flags().Lookup("every")
	require.NotNil(t, everyFlag)
	assert.Equal(t, "1s", everyFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := execute(t, context.Background(), "--format", "xml", "generate", "fwrpc.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)
	assert.NotNil(t, testCmd.Flags().Lookup("update"))
	assert.NotNil(t, testCmd.Flags().Lookup("filter"))
}
