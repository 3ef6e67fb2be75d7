package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestSlowMoveJSON(t *testing.T) {
	out := execute(t, "--command", "move right slowly", "--mu", "0.25", "--mass", "2", "-o", "json")

	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, []string{"right"}, r.Rules)
	assert.False(t, r.Outcome.IsCrash)
	assert.Equal(t, "GO", string(r.Verdict.Status))
	assert.True(t, r.Verdict.GovernorActive)
}

func TestLiftFastTable(t *testing.T) {
	out := execute(t, "--command", "lift fast", "--mass", "2")
	assert.Contains(t, out, "BLOCKED")
	assert.Contains(t, out, "flung")
}

func TestSweep(t *testing.T) {
	out := execute(t, "--command", "idle", "--sweep", "-o", "json")

	var reports []report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 9)
	for _, r := range reports {
		assert.Equal(t, "GO", string(r.Verdict.Status))
		assert.Equal(t, r.Estimate.FrictionMu < 0.4, r.Verdict.GovernorActive)
	}
}

func TestRejectsInvalidMass(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--command", "idle", "--mass", "-1"})
	assert.Error(t, cmd.Execute())
}
