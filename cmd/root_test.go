package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "ingest", "build", "current", "status", "promote", "sync", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "taxrules", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCurrentCommand_Flags(t *testing.T) {
	flag := currentCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)

	require.NotNil(t, currentCmd.Flags().Lookup("jurisdiction"))
	require.NotNil(t, currentCmd.Flags().Lookup("year"))
}

func TestSyncCommand_Flags(t *testing.T) {
	flag := syncCmd.Flags().Lookup("force")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestBuildCommand_Flags(t *testing.T) {
	require.NotNil(t, buildCmd.Flags().Lookup("source"))
}

func TestPromoteCommand_RequiresID(t *testing.T) {
	assert.Error(t, promoteCmd.Args(promoteCmd, nil))
	assert.NoError(t, promoteCmd.Args(promoteCmd, []string{"US_2024_v1"}))
}

func TestIngestCommand_RequiresSource(t *testing.T) {
	assert.Error(t, ingestCmd.Args(ingestCmd, nil))
}
