package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "mutual", cmd.Use)
	assert.Contains(t, cmd.Long, "signed")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"kinds"},
		{"user", "create"}, {"user", "show"}, {"user", "edit"},
		{"user", "recover"}, {"user", "deauthorize"}, {"user", "destroy"},
		{"group", "create"}, {"group", "show"}, {"group", "join"}, {"group", "leave"},
		{"group", "admit"}, {"group", "edit"}, {"group", "vote"}, {"group", "unvote"},
		{"group", "balance"},
		{"pay"},
		{"message", "send"}, {"message", "list"},
		{"invite", "create"}, {"invite", "claim"},
		{"watch"}, {"changes"}, {"scenario"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
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

	for _, name := range []string{"config", config.FlagDatabase, config.FlagDevice, config.FlagUnits,
		config.FlagLogLevel, config.FlagLogFormat, config.FlagWorkFactor} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
}

func TestActingCommandsRequireAs(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"group", "create"}, {"group", "vote"}, {"pay"}, {"message", "send"}, {"invite", "create"},
	} {
		subCmd, _, err := cmd.Find(path)
		require.NoError(t, err)
		as := subCmd.Flags().Lookup("as")
		require.NotNil(t, as, "%v", path)
		assert.Equal(t, []string{"true"}, as.Annotations[cobra.BashCompOneRequiredFlag], "%v", path)
	}
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	updateFlag := scenarioCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	assert.NotNil(t, scenarioCmd.Flags().Lookup("filter"))
	assert.NotNil(t, scenarioCmd.Flags().Lookup("golden"))
}

func TestChangesCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	changesCmd, _, err := cmd.Find([]string{"changes"})
	require.NoError(t, err)

	for _, name := range []string{"after", "limit", "collection", "origin"} {
		assert.NotNil(t, changesCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "invalid", "kinds"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFileAndFlagsLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mutual.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: from-file.db\ndevice: desk\nunits: 1000\n"), 0o644))

	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--device", "laptop", "kinds"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "from-file.db", opts.Config.Database)
	assert.Equal(t, "laptop", opts.Config.Device)
	assert.Equal(t, int64(1000), opts.Config.Units)
}

func TestBadConfigFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "kinds"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
