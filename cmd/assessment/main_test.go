package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowValidate(t *testing.T) {
	var out bytes.Buffer
	workflowValidateCmd.SetOut(&out)
	t.Cleanup(func() { workflowValidateCmd.SetOut(nil) })

	require.NoError(t, workflowValidateCmd.RunE(workflowValidateCmd, nil))
	assert.Contains(t, out.String(), "workflow standard_intake (1.0.0) is valid")
	assert.Contains(t, out.String(), "7. synthesis_tpa [synthesis]")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: bad\nmodules:\n  - id: a\n    type: questionnaire\n    requires: [b]\n"), 0o600))
	assert.Error(t, workflowValidateCmd.RunE(workflowValidateCmd, []string{path}))
}
