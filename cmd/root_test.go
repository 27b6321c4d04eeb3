package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"train", "evaluate", "inspect", "init-config"} {
		assert.True(t, names[want], "subcommand %q must be registered", want)
	}
}
