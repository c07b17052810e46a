package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs cmd with args and returns stdout and the command error.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

const shortConfig = `
task: { name: Mobile, participant: 5012, age_months: 4, trial: 1 }
sensors: { rate_hz: 50, limbs: [left_hand] }
steps:
  - { index: 1, description: Connect, duration_seconds: 0.3, assigned_limb: left_hand }
`
