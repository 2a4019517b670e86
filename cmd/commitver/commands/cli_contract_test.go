package commands

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns what it printed to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIContract(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, c := range []string{"calc", "classify", "completion", "config", "help", "ledger", "replay", "run", "track", "version"} {
		assert.Contains(t, out, c, "expected top-level command %q in root help", c)
	}
	for _, f := range []string{"--config", "--log-level", "--log-format", "--trace", "--metrics-file"} {
		assert.Contains(t, out, f)
	}
}

func TestCLISubcommandFlags(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{args: []string{"track", "--help"}, want: []string{"--resync", "--allow-reset"}},
		{args: []string{"replay", "--help"}, want: []string{"--chunk-size", "--force"}},
		{args: []string{"run", "--help"}, want: []string{"all", "resume", "report", "reset", "--json"}},
		{args: []string{"ledger", "--help"}, want: []string{"latest", "show", "mark-summarized"}},
		{args: []string{"ledger", "show", "--help"}, want: []string{"--format", "--limit"}},
		{args: []string{"classify", "--help"}, want: []string{"--diff-file"}},
		{args: []string{"config", "--help"}, want: []string{"init", "show"}},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("COMMITVER_VERSION", "1.2.3")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "commitver version 1.2.3\n", out)
}

func TestBadLogLevelIsUsageError(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid usage")
}
