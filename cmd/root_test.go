package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"ingest", "review", "compute", "audit", "baseline", "rules", "normative", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "trueup", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestComputeCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"scope", "year", "no-score", "json"} {
		flag := computeCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "compute should have --%s flag", flagName)
	}
	assert.Equal(t, "false", computeCmd.Flags().Lookup("no-score").DefValue)
}

func TestReviewCommand_HasSubcommands(t *testing.T) {
	cmds := reviewCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"pending", "decide", "log"} {
		assert.True(t, names[name], "review should have subcommand %q", name)
	}
}

func TestReviewDecideCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"status", "comment", "actor", "override-head", "override-class"} {
		flag := reviewDecideCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "review decide should have --%s flag", flagName)
	}
}

func TestAuditCommand_HasSubcommands(t *testing.T) {
	cmds := auditCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "verify", "summary"} {
		assert.True(t, names[name], "audit should have subcommand %q", name)
	}
}

func TestAuditListCommand_Flags(t *testing.T) {
	flag := auditListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "audit list should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)

	flag = auditListCmd.Flags().Lookup("from-seq")
	require.NotNil(t, flag, "audit list should have --from-seq flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestNormativeCommand_HasSubcommands(t *testing.T) {
	cmds := normativeCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"escalate-om", "interest", "loss-target"} {
		assert.True(t, names[name], "normative should have subcommand %q", name)
	}

	flag := normativeCmd.PersistentFlags().Lookup("year")
	require.NotNil(t, flag, "normative should have persistent --year flag")
}

func TestNormativeLossTargetCommand_ScopeDefault(t *testing.T) {
	flag := normativeLossTargetCmd.Flags().Lookup("scope")
	require.NotNil(t, flag, "loss-target should have --scope flag")
	assert.Equal(t, "SBU-D", flag.DefValue)
}

func TestBaselineCommand_HasSubcommands(t *testing.T) {
	cmds := baselineCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"load", "show"} {
		assert.True(t, names[name], "baseline should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
